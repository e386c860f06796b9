package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/config"
	"github.com/rainbowcity/rainbow/internal/llm"
	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/metrics"
	"github.com/rainbowcity/rainbow/internal/orchestrator"
	"github.com/rainbowcity/rainbow/internal/search"
	"github.com/rainbowcity/rainbow/internal/server"
	"github.com/rainbowcity/rainbow/internal/store"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STACK
// ═══════════════════════════════════════════════════════════════════════════════

// stack holds every long-lived component built from the configuration.
type stack struct {
	cfg *config.Config

	bus       *bus.Bus
	registry  *tools.Registry
	searcher  *search.TavilyClient
	augmenter *search.Augmenter
	gateway   llm.Gateway
	agent     *orchestrator.Orchestrator

	promReg   *prometheus.Registry
	prom      *metrics.Prom
	collector *metrics.Collector

	closers []func() error
}

// buildStack wires config → search → tools → bus → metrics → gateway → orchestrator.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	st := &stack{cfg: cfg}

	augmenter, err := st.buildSearch(ctx)
	if err != nil {
		return nil, err
	}
	st.augmenter = augmenter

	st.registry = tools.NewRegistry(tools.WithLogger(log.WithComponent("tools")))
	opts := tools.BuiltinOptions{}
	if augmenter != nil {
		opts.Search = augmenter.SearchText
	}
	if err := tools.RegisterBuiltins(st.registry, opts); err != nil {
		st.Close()
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	st.bus = bus.NewBus()
	st.closers = append(st.closers, st.bus.Close)

	st.promReg = prometheus.NewRegistry()
	st.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	st.prom = metrics.NewProm(st.promReg)
	st.collector = metrics.NewCollector(st.bus, st.prom)
	st.collector.Start()
	st.closers = append(st.closers, func() error {
		st.collector.Stop()
		return nil
	})

	gateway, err := llm.FromConfig(cfg, st.collector.ObserveModelCall)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build model gateway: %w", err)
	}
	st.gateway = gateway

	agentOpts := []orchestrator.Option{
		orchestrator.WithLogger(log.WithComponent("orchestrator")),
		orchestrator.WithBus(st.bus),
		orchestrator.WithPassTimeout(cfg.Agent.PassTimeout()),
		orchestrator.WithSystemPrompt(cfg.Agent.SystemPrompt),
		orchestrator.WithFatalMessage(cfg.Agent.FatalMessage),
	}
	if augmenter != nil {
		agentOpts = append(agentOpts, orchestrator.WithAugmenter(augmenter))
	}
	st.agent = orchestrator.New(gateway, st.registry, agentOpts...)

	return st, nil
}

// buildSearch returns nil when search is disabled or has no API key.
func (st *stack) buildSearch(ctx context.Context) (*search.Augmenter, error) {
	sc := st.cfg.Search
	if !sc.Enabled {
		log.Info("[Search] Disabled by configuration")
		return nil, nil
	}
	if sc.APIKey == "" {
		log.Warn("[Search] No API key configured, uncertainty augmentation is off")
		return nil, nil
	}

	var cache search.Cache = search.NewMemoryCache(256, sc.CacheTTL())
	if sc.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := search.NewRedisCache(pingCtx, search.RedisConfig{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
			TTL:      sc.CacheTTL(),
		})
		cancel()
		if err != nil {
			log.Warn("[Search] Redis at %s unavailable, using memory cache: %v", sc.RedisAddr, err)
		} else {
			log.Info("[Search] Caching results in Redis at %s", sc.RedisAddr)
			cache = rc
			st.closers = append(st.closers, rc.Close)
		}
	}

	st.searcher = search.NewTavilyClient(
		search.WithAPIKey(sc.APIKey),
		search.WithEndpoint(sc.Endpoint),
		search.WithMaxResults(sc.MaxResults),
		search.WithSearchDepth(sc.SearchDepth),
		search.WithCache(cache),
		search.WithClientLogger(log.WithComponent("search")),
	)
	return search.NewAugmenter(st.searcher,
		search.WithTimeout(sc.Timeout()),
		search.WithLogger(log.WithComponent("search")),
	), nil
}

// gatewayStats reports counters when the gateway is the metrics wrapper.
func (st *stack) gatewayStats() func() llm.GatewayStats {
	mg, ok := st.gateway.(*llm.MetricsGateway)
	if !ok {
		return nil
	}
	return mg.Stats
}

// openStore opens the history database and schedules pruning when retention is set.
func (st *stack) openStore() (*store.Store, *store.Pruner, error) {
	db, err := store.Open(st.cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	st.closers = append(st.closers, db.Close)

	if st.cfg.Store.RetentionDays <= 0 {
		return db, nil, nil
	}
	retention := time.Duration(st.cfg.Store.RetentionDays) * 24 * time.Hour
	pruner, err := store.NewPruner(db, retention, st.cfg.Store.PruneSchedule, log.WithComponent("store"))
	if err != nil {
		return nil, nil, err
	}
	return db, pruner, nil
}

// newServer builds the HTTP front end over the stack.
func (st *stack) newServer(db *store.Store) *server.Server {
	sc := st.cfg.Server
	cfg := server.DefaultConfig()
	cfg.Addr = sc.Addr
	if sc.ReadTimeoutSec > 0 {
		cfg.ReadTimeout = time.Duration(sc.ReadTimeoutSec) * time.Second
	}
	if sc.WriteTimeoutSec > 0 {
		cfg.WriteTimeout = time.Duration(sc.WriteTimeoutSec) * time.Second
	}
	cfg.SessionRPS = sc.SessionRPS
	cfg.SessionBurst = sc.SessionBurst
	cfg.LimiterCapacity = sc.LimiterCapacity
	if t := st.cfg.Search.Timeout(); t > 0 {
		cfg.SearchTimeout = t
	}

	deps := server.Deps{
		Agent:        st.agent,
		Tools:        st.registry,
		Bus:          st.bus,
		Observer:     bus.NewObserver(st.bus, log),
		Prom:         st.prom,
		Gatherer:     st.promReg,
		Collector:    st.collector,
		GatewayStats: st.gatewayStats(),
		Log:          log.WithComponent("server"),
	}
	if db != nil {
		deps.Store = db
	}
	if st.searcher != nil {
		deps.Search = st.searcher
	}
	return server.New(cfg, deps)
}

// Close releases everything in reverse order of construction.
func (st *stack) Close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil {
			log.Warn("[Rainbow] Shutdown step failed: %v", err)
		}
	}
	st.closers = nil
}

// loggingConfig maps the file settings onto a logger configuration.
func loggingConfig(lc config.LoggingConfig, verbose bool) *logging.Config {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg = logging.VerboseConfig()
	} else {
		cfg.Level = logging.ParseLevel(lc.Level)
	}
	cfg.FilePath = lc.File
	cfg.JSON = lc.JSON
	return cfg
}
