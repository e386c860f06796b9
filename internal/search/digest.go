package search

import (
	"fmt"
	"strings"
)

// Digest is the distilled result of one search.
type Digest struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Sources []Source `json:"sources"`
}

// Source is one search hit.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score,omitempty"`
}

// SearchProviderError is returned for any failed or timed-out search.
type SearchProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *SearchProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("search provider %s failed (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("search provider %s failed: %v", e.Provider, e.Err)
}

func (e *SearchProviderError) Unwrap() error {
	return e.Err
}

// RetrievedPrefix opens every system note built from search results.
const RetrievedPrefix = "[Retrieved information] The following was retrieved from a live web search. It is not model-generated; use it to answer and cite the sources you rely on."

const maxExcerptLen = 500

// BuildQuery returns the search query for a user message: the message
// itself with surrounding whitespace removed, cut to the first 500 runes.
// It is exactly what TavilyClient sends.
func BuildQuery(userMessage string) string {
	query := strings.TrimSpace(userMessage)
	if r := []rune(query); len(r) > maxQueryLen {
		query = string(r[:maxQueryLen])
	}
	return query
}

// ToSystemNote formats d as one system block. The results are wrapped in
// markup so the model treats them as data, not instructions.
func ToSystemNote(d *Digest) string {
	var sb strings.Builder
	sb.WriteString(RetrievedPrefix)
	sb.WriteString("\n\n")
	sb.WriteString(FormatDigest(d))
	return sb.String()
}

// FormatDigest renders d without the disclosure prefix.
func FormatDigest(d *Digest) string {
	var sb strings.Builder
	sb.WriteString("<web_search_results>\n")
	if d == nil {
		sb.WriteString("</web_search_results>")
		return sb.String()
	}

	if d.Query != "" {
		fmt.Fprintf(&sb, "  <query>%s</query>\n", escapeXML(d.Query))
	}
	if d.Answer != "" {
		sb.WriteString("  <summary>\n")
		fmt.Fprintf(&sb, "    %s\n", escapeXML(d.Answer))
		sb.WriteString("  </summary>\n")
	}

	sb.WriteString("  <sources>\n")
	for i, s := range d.Sources {
		fmt.Fprintf(&sb, "    <source rank=\"%d\">\n", i+1)
		fmt.Fprintf(&sb, "      <title>%s</title>\n", escapeXML(s.Title))
		fmt.Fprintf(&sb, "      <url>%s</url>\n", escapeXML(s.URL))
		fmt.Fprintf(&sb, "      <content>%s</content>\n", escapeXML(truncateContent(s.Excerpt, maxExcerptLen)))
		sb.WriteString("    </source>\n")
	}
	sb.WriteString("  </sources>\n")
	sb.WriteString("</web_search_results>")
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func truncateContent(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
