package cache

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/veloxapp/authcore/pkg/logger"
)

const defaultSweepSpec = "@every 1m"

// Sweepable is anything the janitor can ask to drop expired entries.
type Sweepable interface {
	EvictExpired(ctx context.Context) error
}

// Janitor periodically sweeps registered caches so expired entries do not
// linger until the next read touches them.
type Janitor struct {
	cron    *cron.Cron
	spec    string
	targets []Sweepable
	log     *zap.Logger
	timeout time.Duration
}

// JanitorOption customises the Janitor.
type JanitorOption func(*Janitor)

// WithSweepSpec overrides the cron specification for sweeps.
func WithSweepSpec(spec string) JanitorOption {
	return func(j *Janitor) {
		if spec != "" {
			j.spec = spec
		}
	}
}

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) JanitorOption {
	return func(j *Janitor) {
		if c != nil {
			j.cron = c
		}
	}
}

// NewJanitor builds a janitor sweeping the given caches.
func NewJanitor(targets []Sweepable, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		spec:    defaultSweepSpec,
		targets: targets,
		log:     logger.WithModule("cache.janitor"),
		timeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(j)
	}

	if j.cron == nil {
		j.cron = cron.New()
	}
	return j
}

// Start schedules the sweep job.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts scheduling; a sweep already in flight finishes on its own.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// RunOnce sweeps immediately, outside the schedule.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, target := range j.targets {
		if err := target.EvictExpired(ctx); err != nil {
			j.log.Warn("cache sweep failed", zap.Error(err))
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	j.RunOnce(ctx)
}
