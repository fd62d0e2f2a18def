package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/guildstats/pkg/logger"
)

const defaultPruneSpec = "@every 1m"

// CounterCache is the part of the message counter service the pruner drives.
type CounterCache interface {
	Prune() int
}

// Pruner periodically evicts expired entries from the in-process counter cache. It never
// touches the persistent store.
type Pruner struct {
	counters CounterCache
	cron     *cron.Cron
	log      *zap.Logger
	schedule string
}

// Option customises the Pruner.
type Option func(*Pruner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(p *Pruner) {
		if c != nil {
			p.cron = c
		}
	}
}

// WithSchedule overrides the cron specification of the prune job.
func WithSchedule(spec string) Option {
	return func(p *Pruner) {
		if spec != "" {
			p.schedule = spec
		}
	}
}

// NewPruner constructs a Pruner. A nil counter cache disables the job.
func NewPruner(counters CounterCache, opts ...Option) *Pruner {
	pruner := &Pruner{
		counters: counters,
		schedule: defaultPruneSpec,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(pruner)
	}

	if pruner.cron == nil {
		pruner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return pruner
}

// Start registers the prune job and launches the scheduler.
func (p *Pruner) Start() error {
	if p.counters == nil {
		return nil
	}

	if _, err := p.cron.AddFunc(p.schedule, func() {
		p.RunOnce(context.Background())
	}); err != nil {
		return err
	}

	p.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs finish.
func (p *Pruner) Stop() context.Context {
	if p.cron == nil {
		return context.Background()
	}
	return p.cron.Stop()
}

// RunOnce prunes the counter cache immediately and returns the number of evicted entries.
func (p *Pruner) RunOnce(ctx context.Context) int {
	if p.counters == nil {
		return 0
	}
	if ctx != nil && ctx.Err() != nil {
		return 0
	}

	removed := p.counters.Prune()
	if removed > 0 {
		p.log.Debug("pruned counter cache", zap.Int("removed", removed))
	}
	return removed
}
