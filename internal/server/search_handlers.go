package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rainbowcity/rainbow/internal/search"
)

// handleSearch runs a standalone web search.
// POST /api/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SearchResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	s.runSearch(r.Context(), w, req.Query, search.SearchOptions{
		SearchDepth:   req.SearchDepth,
		MaxResults:    req.MaxResults,
		IncludeAnswer: req.IncludeAnswer,
	})
}

// handleQuickSearch runs a search with the default settings.
// GET /api/search/quick?query=...
func (s *Server) handleQuickSearch(w http.ResponseWriter, r *http.Request) {
	s.runSearch(r.Context(), w, r.URL.Query().Get("query"), search.SearchOptions{})
}

func (s *Server) runSearch(ctx context.Context, w http.ResponseWriter, query string, opts search.SearchOptions) {
	query = strings.TrimSpace(query)
	if query == "" {
		writeJSON(w, http.StatusBadRequest, SearchResponse{Error: "query is required"})
		return
	}
	if s.deps.Search == nil {
		writeJSON(w, http.StatusServiceUnavailable, SearchResponse{Query: query, Error: "web search not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	var (
		d   *search.Digest
		err error
	)
	if withOpts, ok := s.deps.Search.(search.OptionSearcher); ok {
		d, err = withOpts.SearchWith(ctx, query, opts)
	} else {
		d, err = s.deps.Search.Search(ctx, query)
	}
	if err != nil {
		status := http.StatusInternalServerError
		var spe *search.SearchProviderError
		if errors.As(err, &spe) {
			status = http.StatusBadGateway
		}
		s.log.Warn("[Server] Search for %q failed: %v", query, err)
		writeJSON(w, status, SearchResponse{Query: query, Error: err.Error()})
		return
	}

	results := d.Sources
	if results == nil {
		results = []search.Source{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Success: true,
		Query:   query,
		Answer:  d.Answer,
		Results: results,
	})
}
