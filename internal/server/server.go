package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/llm"
	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/metrics"
	"github.com/rainbowcity/rainbow/internal/orchestrator"
	"github.com/rainbowcity/rainbow/internal/search"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// Agent runs one turn. *orchestrator.Orchestrator implements it.
type Agent interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// HistoryStore persists conversations. *store.Store implements it.
type HistoryStore interface {
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error)
	SaveHistory(ctx context.Context, sessionID, userID string, history []conversation.Message) (int, error)
	ClearSession(ctx context.Context, sessionID string) (bool, error)
}

// Deps are the collaborators of the server. Only Agent is required.
type Deps struct {
	Agent    Agent
	Tools    *tools.Registry
	Store    HistoryStore
	Bus      *bus.Bus
	Observer *bus.Observer

	// Search backs /api/search; the endpoints answer 503 without it.
	Search search.Searcher

	// Prom records HTTP metrics; Gatherer is served on /metrics.
	Prom     *metrics.Prom
	Gatherer prometheus.Gatherer

	Collector    *metrics.Collector
	GatewayStats func() llm.GatewayStats

	Log *logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg      Config
	deps     Deps
	router   chi.Router
	limiters *limiterPool
	log      *logging.Logger
	http     *http.Server
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}

	log := deps.Log
	if log == nil {
		log = logging.Global().WithComponent("server")
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		limiters: newLimiterPool(cfg.SessionRPS, cfg.SessionBurst, cfg.LimiterCapacity),
		log:      log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.deps.Observer != nil {
		r.Handle("/ws/events", s.deps.Observer)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/chat-agent", func(r chi.Router) {
			r.Post("/", s.handleChat)
			r.Get("/history/{sessionID}", s.handleHistory)
			r.Get("/logs/{sessionID}", s.handleLogs)
			r.Delete("/session/{sessionID}", s.handleClear)
			r.Post("/clear/{sessionID}", s.handleClear)
		})
		r.Post("/search", s.handleSearch)
		r.Get("/search/quick", s.handleQuickSearch)
		r.Get("/tools", s.handleTools)
		r.Get("/metrics/llm", s.handleLLMMetrics)
	})

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[Server] Listening on %s", ln.Addr())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.deps.Observer != nil {
		s.deps.Observer.Close()
	}
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades hijack the connection and outlive the request.
		if s.deps.Prom == nil || strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Prom.RequestCount.WithLabelValues(r.Method, route, fmt.Sprint(status)).Inc()
		s.deps.Prom.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
