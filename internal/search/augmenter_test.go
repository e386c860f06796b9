package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbowcity/rainbow/internal/logging"
)

type fakeSearcher struct {
	digest *Digest
	err    error
	block  bool
	query  string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (*Digest, error) {
	f.query = query
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.digest, f.err
}

func TestAugmenter_Search(t *testing.T) {
	fs := &fakeSearcher{digest: &Digest{Query: "q", Answer: "42"}}
	a := NewAugmenter(fs, WithLogger(logging.Nop()))

	d, err := a.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "42", d.Answer)

	text, err := a.SearchText(context.Background(), "q")
	require.NoError(t, err)
	assert.Contains(t, text, "<summary>\n    42\n  </summary>")
	assert.NotContains(t, text, RetrievedPrefix)
}

func TestAugmenter_WrapsForeignErrors(t *testing.T) {
	a := NewAugmenter(&fakeSearcher{err: errors.New("dns failure")}, WithLogger(logging.Nop()))
	_, err := a.Search(context.Background(), "q")

	var spe *SearchProviderError
	require.ErrorAs(t, err, &spe)
	assert.Contains(t, err.Error(), "dns failure")

	a = NewAugmenter(&fakeSearcher{}, WithLogger(logging.Nop()))
	_, err = a.Search(context.Background(), "q")
	require.ErrorAs(t, err, &spe)

	a = NewAugmenter(nil, WithLogger(logging.Nop()))
	_, err = a.Search(context.Background(), "q")
	require.ErrorAs(t, err, &spe)
}

func TestAugmenter_Timeout(t *testing.T) {
	a := NewAugmenter(&fakeSearcher{block: true}, WithTimeout(20*time.Millisecond), WithLogger(logging.Nop()))

	start := time.Now()
	_, err := a.Search(context.Background(), "q")
	var spe *SearchProviderError
	require.ErrorAs(t, err, &spe)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type constDetector bool

func (c constDetector) Detect(string) Verdict { return Verdict{Uncertain: bool(c)} }

func TestAugmenter_Detector(t *testing.T) {
	a := NewAugmenter(nil)
	assert.True(t, a.DetectUncertainty("I don't know").Uncertain)
	assert.Equal(t, "hello", a.BuildQuery(" hello "))

	a = NewAugmenter(nil, WithDetector(constDetector(true)))
	assert.True(t, a.DetectUncertainty("The capital of France is Paris.").Uncertain)
}
