package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rainbowcity/rainbow/internal/logging"
)

// DefaultTimeout bounds one search when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Augmenter bundles uncertainty detection with a searcher.
type Augmenter struct {
	detector Detector
	searcher Searcher
	timeout  time.Duration
	log      *logging.Logger
}

// Option configures an Augmenter.
type Option func(*Augmenter)

// WithDetector replaces the default PhraseDetector.
func WithDetector(d Detector) Option {
	return func(a *Augmenter) {
		if d != nil {
			a.detector = d
		}
	}
}

// WithTimeout bounds each Search call.
func WithTimeout(d time.Duration) Option {
	return func(a *Augmenter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(a *Augmenter) {
		a.log = log
	}
}

// NewAugmenter creates an Augmenter backed by searcher.
func NewAugmenter(searcher Searcher, opts ...Option) *Augmenter {
	a := &Augmenter{
		detector: NewPhraseDetector(),
		searcher: searcher,
		timeout:  DefaultTimeout,
		log:      logging.Global().WithComponent("search"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DetectUncertainty classifies a model answer.
func (a *Augmenter) DetectUncertainty(content string) Verdict {
	return a.detector.Detect(content)
}

// BuildQuery returns the search query for a user message.
func (a *Augmenter) BuildQuery(userMessage string) string {
	return BuildQuery(userMessage)
}

// Search runs one search bounded by the configured timeout. Errors are
// always *SearchProviderError.
func (a *Augmenter) Search(ctx context.Context, query string) (*Digest, error) {
	if a.searcher == nil {
		return nil, &SearchProviderError{Provider: "none", Err: errors.New("no search provider configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	d, err := a.searcher.Search(ctx, query)
	if err != nil {
		var spe *SearchProviderError
		if errors.As(err, &spe) {
			return nil, err
		}
		return nil, &SearchProviderError{Provider: "unknown", Err: err}
	}
	if d == nil {
		return nil, &SearchProviderError{Provider: "unknown", Err: fmt.Errorf("empty result for %q", query)}
	}
	return d, nil
}

// ToSystemNote formats a digest for injection into the conversation.
func (a *Augmenter) ToSystemNote(d *Digest) string {
	return ToSystemNote(d)
}

// SearchText runs a search and returns the formatted digest. It matches
// tools.SearchFunc so the web_search and get_weather tools can share the
// augmenter's searcher and cache.
func (a *Augmenter) SearchText(ctx context.Context, query string) (string, error) {
	d, err := a.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatDigest(d), nil
}
