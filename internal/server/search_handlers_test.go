package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/search"
)

// stubSearcher records the last call and answers with a fixed digest.
type stubSearcher struct {
	digest *search.Digest
	err    error

	query string
	opts  *search.SearchOptions
}

func (s *stubSearcher) Search(ctx context.Context, query string) (*search.Digest, error) {
	s.query = query
	return s.digest, s.err
}

func (s *stubSearcher) SearchWith(ctx context.Context, query string, opts search.SearchOptions) (*search.Digest, error) {
	s.opts = &opts
	return s.Search(ctx, query)
}

// plainSearcher only implements search.Searcher.
type plainSearcher struct{ stub *stubSearcher }

func (p plainSearcher) Search(ctx context.Context, query string) (*search.Digest, error) {
	return p.stub.Search(ctx, query)
}

func newSearchServer(t *testing.T, s search.Searcher) *httptest.Server {
	t.Helper()
	srv := New(DefaultConfig(), Deps{Search: s, Log: logging.Nop()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func parisDigest() *search.Digest {
	return &search.Digest{
		Query:  "weather paris",
		Answer: "Sunny, 24°C",
		Sources: []search.Source{
			{Title: "Paris forecast", URL: "https://weather.example/paris", Excerpt: "Sunny", Score: 0.9},
		},
	}
}

func decodeSearch(t *testing.T, resp *http.Response) SearchResponse {
	t.Helper()
	defer resp.Body.Close()
	var out SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSearch_Post(t *testing.T) {
	stub := &stubSearcher{digest: parisDigest()}
	ts := newSearchServer(t, stub)

	resp, err := http.Post(ts.URL+"/api/search", "application/json",
		strings.NewReader(`{"query":"weather paris","search_depth":"advanced","max_results":7,"include_answer":false}`))
	require.NoError(t, err)
	out := decodeSearch(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, "weather paris", out.Query)
	assert.Equal(t, "Sunny, 24°C", out.Answer)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "https://weather.example/paris", out.Results[0].URL)

	require.NotNil(t, stub.opts)
	assert.Equal(t, "advanced", stub.opts.SearchDepth)
	assert.Equal(t, 7, stub.opts.MaxResults)
	require.NotNil(t, stub.opts.IncludeAnswer)
	assert.False(t, *stub.opts.IncludeAnswer)
}

func TestSearch_Quick(t *testing.T) {
	stub := &stubSearcher{digest: &search.Digest{Query: "go"}}
	ts := newSearchServer(t, plainSearcher{stub})

	resp, err := http.Get(ts.URL + "/api/search/quick?query=" + url.QueryEscape("golang release notes"))
	require.NoError(t, err)
	out := decodeSearch(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, "golang release notes", stub.query)
	assert.NotNil(t, out.Results, "empty results encode as a list")
	assert.Nil(t, stub.opts)
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		searcher search.Searcher
		do       func(base string) (*http.Response, error)
		status   int
		want     string
	}{
		{
			name:     "provider failure",
			searcher: &stubSearcher{err: &search.SearchProviderError{Provider: "tavily", Status: 401, Err: errors.New("api returned status 401")}},
			do: func(base string) (*http.Response, error) {
				return http.Post(base+"/api/search", "application/json", strings.NewReader(`{"query":"weather"}`))
			},
			status: http.StatusBadGateway,
			want:   "status 401",
		},
		{
			name:     "other failure",
			searcher: plainSearcher{&stubSearcher{err: errors.New("boom")}},
			do: func(base string) (*http.Response, error) {
				return http.Get(base + "/api/search/quick?query=weather")
			},
			status: http.StatusInternalServerError,
			want:   "boom",
		},
		{
			name:     "empty query",
			searcher: &stubSearcher{digest: parisDigest()},
			do: func(base string) (*http.Response, error) {
				return http.Post(base+"/api/search", "application/json", strings.NewReader(`{"query":"  "}`))
			},
			status: http.StatusBadRequest,
			want:   "query is required",
		},
		{
			name:     "malformed body",
			searcher: &stubSearcher{digest: parisDigest()},
			do: func(base string) (*http.Response, error) {
				return http.Post(base+"/api/search", "application/json", strings.NewReader(`{"query":`))
			},
			status: http.StatusBadRequest,
			want:   "invalid request body",
		},
		{
			name: "not configured",
			do: func(base string) (*http.Response, error) {
				return http.Get(base + "/api/search/quick?query=weather")
			},
			status: http.StatusServiceUnavailable,
			want:   "not configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newSearchServer(t, tt.searcher)
			resp, err := tt.do(ts.URL)
			require.NoError(t, err)
			out := decodeSearch(t, resp)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, out.Success)
			assert.Contains(t, out.Error, tt.want)
		})
	}
}
