package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/llm"
	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/orchestrator"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// persistTimeout bounds saving a turn's history after the response is ready.
const persistTimeout = 10 * time.Second

// handleChat runs one turn.
// POST /api/chat-agent
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ChatResponse{SessionID: req.SessionID, Error: "invalid request body: " + err.Error()})
		return
	}

	// Requests without a session share one bucket per client address.
	sessionID := strings.TrimSpace(req.SessionID)
	if !s.limiters.Allow(limiterKey(r, sessionID)) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, ChatResponse{SessionID: sessionID, Error: "too many requests for this session"})
		return
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	var attachments []conversation.ContentPart
	if req.ImageData != "" {
		part, err := imagePart(req.ImageData)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ChatResponse{SessionID: sessionID, Error: err.Error()})
			return
		}
		attachments = append(attachments, part)
	}

	var prior []conversation.Message
	if s.deps.Store != nil {
		history, err := s.deps.Store.LoadHistory(r.Context(), sessionID, s.cfg.HistoryLimit)
		if err != nil {
			s.log.Warn("[Server] Load history for %s failed, continuing without it: %v", sessionID, err)
		} else {
			prior = history
		}
	}

	res, err := s.deps.Agent.Run(r.Context(), orchestrator.Request{
		SessionID:    sessionID,
		TurnID:       req.TurnID,
		UserID:       userID,
		SystemPrompt: req.SystemPrompt,
		UserMessage:  req.userText(),
		Attachments:  attachments,
		PriorHistory: prior,
	})
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		writeJSON(w, http.StatusBadRequest, ChatResponse{SessionID: sessionID, Error: err.Error()})
		return
	}
	if res == nil {
		if err == nil {
			err = errors.New("agent returned no result")
		}
		s.log.Error("[Server] Turn for %s failed: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, ChatResponse{SessionID: sessionID, Error: err.Error()})
		return
	}

	s.persist(r, sessionID, userID, res.History)

	resp := ChatResponse{
		Success:    err == nil,
		SessionID:  sessionID,
		TurnID:     res.TurnID,
		Response:   res.AssistantText,
		ToolCalls:  res.ToolCalls,
		SearchUsed: res.SearchUsed,
	}
	if usage := res.Usage(); usage.TotalTokens > 0 || usage.PromptTokens > 0 {
		resp.Usage = &usage
	}

	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
		var mue *llm.ModelUnavailableError
		if errors.As(err, &mue) {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// persist saves the turn even if the client has gone away.
func (s *Server) persist(r *http.Request, sessionID, userID string, history []conversation.Message) {
	if s.deps.Store == nil || len(history) == 0 {
		return
	}
	ctx, cancel := logging.DetachContextWithTimeout(r.Context(), persistTimeout)
	defer cancel()

	if _, err := s.deps.Store.SaveHistory(ctx, sessionID, userID, history); err != nil {
		s.log.Warn("[Server] Save history for %s failed: %v", sessionID, err)
	}
}

// handleHistory returns the stored conversation of a session.
// GET /api/chat-agent/history/{sessionID}
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if s.deps.Store == nil {
		writeJSON(w, http.StatusNotImplemented, HistoryResponse{SessionID: sessionID, History: []conversation.Message{}, Error: "history store not configured"})
		return
	}

	history, err := s.deps.Store.LoadHistory(r.Context(), sessionID, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, HistoryResponse{SessionID: sessionID, History: []conversation.Message{}, Error: err.Error()})
		return
	}
	if history == nil {
		history = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, SessionID: sessionID, History: history})
}

// handleLogs returns the recent turn events of a session.
// GET /api/chat-agent/logs/{sessionID}
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	logs := []bus.Event{}
	if s.deps.Bus != nil {
		logs = append(logs, s.deps.Bus.Recent(sessionID, 0)...)
	}
	writeJSON(w, http.StatusOK, LogsResponse{Success: true, SessionID: sessionID, Logs: logs})
}

// handleClear deletes a session's history.
// DELETE /api/chat-agent/session/{sessionID}
// POST /api/chat-agent/clear/{sessionID}
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if s.deps.Store == nil {
		writeJSON(w, http.StatusNotImplemented, ClearSessionResponse{SessionID: sessionID, Error: "history store not configured"})
		return
	}

	existed, err := s.deps.Store.ClearSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ClearSessionResponse{SessionID: sessionID, Error: err.Error()})
		return
	}
	s.limiters.forget(sessionID)

	if !existed {
		writeJSON(w, http.StatusNotFound, ClearSessionResponse{SessionID: sessionID, Message: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, ClearSessionResponse{Success: true, SessionID: sessionID, Message: "session cleared"})
}

// handleTools lists the tool definitions offered to the model.
// GET /api/tools
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := []tools.Definition{}
	if s.deps.Tools != nil {
		defs = s.deps.Tools.DefinitionList()
	}
	writeJSON(w, http.StatusOK, ToolsResponse{Count: len(defs), Tools: defs})
}
