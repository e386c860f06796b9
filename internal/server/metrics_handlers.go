package server

import (
	"net/http"
	"time"
)

// handleLLMMetrics returns the session summary and gateway counters as JSON.
// GET /api/metrics/llm
func (s *Server) handleLLMMetrics(w http.ResponseWriter, r *http.Request) {
	response := LLMMetricsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Collector != nil {
		response.Session = s.deps.Collector.GetSessionStats()
	}
	if s.deps.GatewayStats != nil {
		stats := s.deps.GatewayStats()
		response.Gateway = &stats
	}
	writeJSON(w, http.StatusOK, response)
}
