package search

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "What's the weather in Paris tomorrow?", BuildQuery("  What's the weather in Paris tomorrow?\n"))

	long := strings.Repeat("天", 600)
	q := BuildQuery(long)
	assert.Equal(t, 500, len([]rune(q)))
	assert.Equal(t, q, BuildQuery(q), "an already built query is sent unchanged")
}

func TestToSystemNote(t *testing.T) {
	d := &Digest{
		Query:  "weather paris",
		Answer: "Sunny, 24°C",
		Sources: []Source{
			{Title: "Météo <Paris>", URL: "https://example.com/a?x=1&y=2", Excerpt: strings.Repeat("é", 600)},
			{Title: "Forecast", URL: "https://example.com/b", Excerpt: "Clear skies"},
		},
	}

	note := ToSystemNote(d)
	assert.True(t, strings.HasPrefix(note, RetrievedPrefix))
	assert.Contains(t, note, "<summary>\n    Sunny, 24°C\n  </summary>")
	assert.Contains(t, note, `<source rank="1">`)
	assert.Contains(t, note, `<source rank="2">`)
	assert.Contains(t, note, "<title>Météo &lt;Paris&gt;</title>")
	assert.Contains(t, note, "<url>https://example.com/a?x=1&amp;y=2</url>")
	assert.Contains(t, note, strings.Repeat("é", 497)+"...")
	assert.NotContains(t, note, strings.Repeat("é", 498))
}

func TestFormatDigest_Nil(t *testing.T) {
	assert.Equal(t, "<web_search_results>\n</web_search_results>", FormatDigest(nil))
}

func TestSearchProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := &SearchProviderError{Provider: "tavily", Status: 502, Err: cause}
	assert.Equal(t, "search provider tavily failed (status 502): boom", err.Error())
	assert.ErrorIs(t, err, cause)
}
