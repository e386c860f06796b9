package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rainbowcity/rainbow/internal/logging"
)

// DefaultPruneSchedule runs retention once an hour.
const DefaultPruneSchedule = "@hourly"

// Pruner deletes idle sessions on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	log       *logging.Logger
}

// NewPruner schedules PruneIdle(retention) on schedule, which accepts
// standard five-field cron expressions and descriptors such as "@hourly".
func NewPruner(store *Store, retention time.Duration, schedule string, log *logging.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if log == nil {
		log = logging.Global().WithComponent("store")
	}

	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		log:       log,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start starts the scheduler.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop stops the scheduler and waits for a running prune to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	return p.store.PruneIdle(ctx, p.retention)
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := p.RunOnce(ctx)
	if err != nil {
		p.log.Warn("[Store] Retention prune failed: %v", err)
		return
	}
	if n > 0 {
		p.log.Info("[Store] Pruned %d sessions idle longer than %s", n, p.retention)
	}
}
