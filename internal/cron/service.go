package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// Fallbacks matching the STOREFRONT_CRON_* defaults.
const (
	defaultTick     = time.Minute
	defaultLeaseTTL = 5 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Config   config.CronConfig
	Clock    func() time.Time
}

// Service ticks every Config.Interval and runs each due job under its own lease.
//
// Jobs scheduled every tick hold a Config.LockTTL lease for the duration of the
// run. Jobs with a longer cadence keep their lease for the whole window after a
// successful run, so no worker repeats them early; a failed run releases it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	leaseTTL time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Config.Interval
	if tick <= 0 {
		tick = defaultTick
	}
	leaseTTL := params.Config.LockTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		tick:     tick,
		leaseTTL: leaseTTL,
		now:      clock,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "cron cycle incomplete", err)
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "cron cycle incomplete", err)
			}
		}
	}
}

// runCycle runs every due job. Job failures are logged and counted; only
// lease errors are returned.
func (s *Service) runCycle(ctx context.Context) error {
	var errs error
	for _, entry := range s.registry.Entries() {
		errs = multierr.Append(errs, s.runEntry(ctx, entry))
	}
	return errs
}

func (s *Service) runEntry(ctx context.Context, entry Entry) error {
	name := entry.Job.Name()
	windowed := entry.Every > s.tick
	ttl := s.leaseTTL
	if windowed {
		ttl = entry.Every
	}

	token, err := s.lock.Acquire(ctx, name, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s lease: %w", name, err)
	}
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	if token == "" {
		s.logg.Debug(jobCtx, "job lease held elsewhere, skipping")
		s.metrics.IncSkipped(name)
		return nil
	}

	start := s.now()
	runErr := entry.Job.Run(jobCtx)
	finished := s.now()
	elapsed := finished.Sub(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())

	if runErr != nil {
		s.logg.Error(jobCtx, "job failed", runErr)
		s.metrics.ObserveRun(name, metrics.CronResultFailure, elapsed, finished)
	} else {
		s.logg.Info(jobCtx, "job completed")
		s.metrics.ObserveRun(name, metrics.CronResultSuccess, elapsed, finished)
	}

	if windowed && runErr == nil {
		return nil
	}
	if err := s.lock.Release(ctx, name, token); err != nil {
		return fmt.Errorf("release %s lease: %w", name, err)
	}
	return nil
}
