// Package cleanup runs the background sweep that deletes stale rate limit
// counters, plus any other expiring state registered with WithSweep.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadgate/internal/ratelimit/metrics"
	"leadgate/pkg/requestcontext"
)

// TargetCounters names the counter store in Result.ByTarget.
const TargetCounters = "counters"

// Result is the outcome of one sweep across all targets.
type Result struct {
	Deleted  int
	ByTarget map[string]int
	Duration time.Duration
}

// StaleCounterStore deletes counters that are neither blocked nor touched
// within twice their window.
type StaleCounterStore interface {
	DeleteStale(ctx context.Context, now time.Time) (int, error)
}

// SweepFunc deletes whatever has expired at now and returns how many.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

type target struct {
	name  string
	sweep SweepFunc
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithTimeout bounds each target's sweep separately.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSweep adds a target swept after the counters on every run.
func WithSweep(name string, sweep SweepFunc) Option {
	return func(s *Service) {
		if sweep != nil {
			s.targets = append(s.targets, target{name: name, sweep: sweep})
		}
	}
}

// Service periodically removes stale state. Running it is optional for
// counters: the limiter also collects opportunistically.
type Service struct {
	targets  []target
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
}

func New(store StaleCounterStore, opts ...Option) *Service {
	s := &Service{
		targets:  []target{{name: TargetCounters, sweep: store.DeleteStale}},
		logger:   slog.Default(),
		interval: 5 * time.Minute,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps once immediately and then on every tick until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runAndReport(ctx)
	for {
		select {
		case <-ticker.C:
			s.runAndReport(ctx)
		case <-ctx.Done():
			s.logger.Info("cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (s *Service) runAndReport(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if s.metrics != nil {
		s.metrics.IncrementCleanupDeleted(res.Deleted)
		s.metrics.ObserveCleanupDuration(res.Duration.Seconds())
	}
	if err != nil {
		s.logger.Error("ratelimit_cleanup_failed",
			"error", err,
			"deleted", res.ByTarget,
			"duration_ms", res.Duration.Milliseconds(),
		)
		if s.metrics != nil {
			s.metrics.IncrementCleanupRuns("error")
		}
		return
	}
	s.logger.Info("ratelimit_cleanup_completed",
		"deleted", res.ByTarget,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.IncrementCleanupRuns("success")
	}
}

// RunOnce sweeps every target in order. A failing target does not stop the
// others; the returned Result always holds what was deleted.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	now := requestcontext.Now(ctx)
	res := Result{ByTarget: make(map[string]int, len(s.targets))}

	var errs []error
	for _, t := range s.targets {
		n, err := s.sweep(ctx, t, now)
		res.ByTarget[t.name] = n
		res.Deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	res.Duration = time.Since(start)
	return res, errors.Join(errs...)
}

func (s *Service) sweep(ctx context.Context, t target, now time.Time) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return t.sweep(runCtx, now)
}
