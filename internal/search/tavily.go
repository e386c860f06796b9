package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rainbowcity/rainbow/internal/logging"
)

// DefaultTavilyEndpoint is the Tavily search API.
const DefaultTavilyEndpoint = "https://api.tavily.com/search"

const maxQueryLen = 500

// Searcher runs one web search.
type Searcher interface {
	Search(ctx context.Context, query string) (*Digest, error)
}

// SearchOptions override the client defaults for a single search. Zero
// values keep the defaults.
type SearchOptions struct {
	SearchDepth   string
	MaxResults    int
	IncludeAnswer *bool
}

// OptionSearcher is a Searcher that accepts per-call options.
type OptionSearcher interface {
	Searcher
	SearchWith(ctx context.Context, query string, opts SearchOptions) (*Digest, error)
}

// ===========================================================================
// TAVILY API TYPES
// ===========================================================================

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Query   string         `json:"query"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// ===========================================================================
// CLIENT
// ===========================================================================

// TavilyClient implements Searcher against the Tavily API.
type TavilyClient struct {
	apiKey      string
	endpoint    string
	maxResults  int
	searchDepth string
	httpClient  *http.Client
	cache       Cache
	log         *logging.Logger

	dangerousPatterns []*regexp.Regexp
}

// TavilyOption configures the TavilyClient.
type TavilyOption func(*TavilyClient)

// WithAPIKey sets the Tavily API key.
func WithAPIKey(key string) TavilyOption {
	return func(c *TavilyClient) {
		c.apiKey = key
	}
}

// WithEndpoint overrides the API URL.
func WithEndpoint(endpoint string) TavilyOption {
	return func(c *TavilyClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) TavilyOption {
	return func(c *TavilyClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMaxResults sets max_results, clamped to 1..10.
func WithMaxResults(n int) TavilyOption {
	return func(c *TavilyClient) {
		c.maxResults = clamp(n, 1, 10)
	}
}

// WithSearchDepth sets "basic" or "advanced".
func WithSearchDepth(depth string) TavilyOption {
	return func(c *TavilyClient) {
		if depth == "advanced" {
			c.searchDepth = "advanced"
		} else {
			c.searchDepth = "basic"
		}
	}
}

// WithCache replaces the default in-memory cache. A nil cache disables
// caching.
func WithCache(cache Cache) TavilyOption {
	return func(c *TavilyClient) {
		c.cache = cache
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(log *logging.Logger) TavilyOption {
	return func(c *TavilyClient) {
		c.log = log
	}
}

// NewTavilyClient creates a client with a five-minute in-memory cache.
func NewTavilyClient(opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		endpoint:    DefaultTavilyEndpoint,
		maxResults:  5,
		searchDepth: "basic",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		cache:       NewMemoryCache(100, 5*time.Minute),
		log:         logging.Global().WithComponent("search"),
	}
	c.compileDangerousPatterns()

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// compileDangerousPatterns compiles regex patterns for content sanitization.
func (c *TavilyClient) compileDangerousPatterns() {
	patterns := []string{
		`<script[^>]*>.*?</script>`,
		`javascript:`,
		`on\w+\s*=`,
		`data:\s*text/html`,
		`\x00`,
		`<iframe[^>]*>`,
		`<object[^>]*>`,
		`<embed[^>]*>`,
	}
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			c.dangerousPatterns = append(c.dangerousPatterns, re)
		}
	}
}

// Search implements Searcher. Every failure, including a cancelled or
// expired context, is a *SearchProviderError. Cache failures are logged
// and otherwise ignored.
func (c *TavilyClient) Search(ctx context.Context, query string) (*Digest, error) {
	return c.SearchWith(ctx, query, SearchOptions{})
}

// SearchWith is Search with per-call depth, result count and answer
// settings. Results for non-default settings are cached separately.
func (c *TavilyClient) SearchWith(ctx context.Context, query string, opts SearchOptions) (*Digest, error) {
	query = BuildQuery(query)
	if query == "" {
		return nil, c.fail(0, errors.New("search query cannot be empty"))
	}
	if c.apiKey == "" {
		return nil, c.fail(0, errors.New("Tavily API key not configured"))
	}

	depth := c.searchDepth
	if opts.SearchDepth == "basic" || opts.SearchDepth == "advanced" {
		depth = opts.SearchDepth
	}
	maxResults := c.maxResults
	if opts.MaxResults > 0 {
		maxResults = clamp(opts.MaxResults, 1, 10)
	}
	includeAnswer := opts.IncludeAnswer == nil || *opts.IncludeAnswer

	start := time.Now()
	key := CacheKey(query)
	if depth != c.searchDepth || maxResults != c.maxResults || !includeAnswer {
		key = CacheKey(fmt.Sprintf("%s|%s|%d|%t", query, depth, maxResults, includeAnswer))
	}

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.Warn("[WebSearch] Cache read failed: %v", err)
		} else if ok {
			c.log.Debug("[WebSearch] Cache hit for query: %s", query)
			return cached, nil
		}
	}

	c.log.Info("[WebSearch] Searching for: %s", query)

	resp, status, err := c.callTavily(ctx, &tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   depth,
		MaxResults:    maxResults,
		IncludeAnswer: includeAnswer,
	})
	if err != nil {
		c.log.Error("[WebSearch] API call failed: %v", err)
		return nil, c.fail(status, err)
	}

	digest := c.toDigest(query, resp)

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, digest); err != nil {
			c.log.Warn("[WebSearch] Cache write failed: %v", err)
		}
	}

	c.log.Info("[WebSearch] Found %d results in %v", len(digest.Sources), time.Since(start))
	return digest, nil
}

func (c *TavilyClient) fail(status int, err error) *SearchProviderError {
	return &SearchProviderError{Provider: "tavily", Status: status, Err: err}
}

func (c *TavilyClient) callTavily(ctx context.Context, req *tavilyRequest) (*tavilyResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("api call failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode, fmt.Errorf("api returned status %d", httpResp.StatusCode)
	}

	var resp tavilyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return &resp, httpResp.StatusCode, nil
}

func (c *TavilyClient) toDigest(query string, resp *tavilyResponse) *Digest {
	d := &Digest{
		Query:   query,
		Answer:  c.sanitizeText(resp.Answer),
		Sources: make([]Source, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		d.Sources = append(d.Sources, Source{
			Title:   c.sanitizeText(r.Title),
			URL:     strings.TrimSpace(r.URL),
			Excerpt: c.sanitizeText(r.Content),
			Score:   r.Score,
		})
	}
	return d
}

func (c *TavilyClient) sanitizeText(text string) string {
	for _, pattern := range c.dangerousPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
