package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// DefaultFetchTimeout bounds one fetch_url call.
	DefaultFetchTimeout = 20 * time.Second

	// MaxFetchBytes is the most body data read from a page.
	MaxFetchBytes = 512 * 1024

	// DefaultFetchChars is the text length returned when max_chars is absent.
	DefaultFetchChars = 8000
)

// Fetcher implements the fetch_url tool.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a Fetcher. A nil client uses a default one.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, timeout: DefaultFetchTimeout}
}

// Handle is the tool handler.
func (f *Fetcher) Handle(ctx context.Context, args map[string]any) (any, error) {
	raw := strings.TrimSpace(StringArg(args, "url"))
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http(s) URL, got %q", raw)
	}
	maxChars := IntArg(args, "max_chars", DefaultFetchChars)
	if maxChars <= 0 {
		maxChars = DefaultFetchChars
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "rainbow-agent/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", u.Host, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var text string
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		text = HTMLToText(data)
	} else {
		text = normalizeWS(string(data))
	}
	return truncateRunes(text, maxChars), nil
}

// HTMLToText extracts readable text from an HTML document, dropping
// script, style and noscript content.
func HTMLToText(data []byte) string {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return normalizeWS(string(data))
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return normalizeWS(sb.String())
}

func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "... [truncated]"
}
