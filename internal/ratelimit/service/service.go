// Package service implements the persistent sliding-window rate limiter.
//
// Every check is one atomic Admit against the shared counter store. When the
// store cannot be reached within the configured timeout the limiter fails open:
// the request is admitted, the fault is logged at ERROR and counted. Blocking
// all traffic during a storage outage is the worse failure.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"leadgate/internal/identity"
	"leadgate/internal/ratelimit/config"
	"leadgate/internal/ratelimit/metrics"
	"leadgate/internal/ratelimit/models"
	"leadgate/internal/ratelimit/ports"
	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/platform/audit"
	"leadgate/pkg/platform/sentinel"
	"leadgate/pkg/requestcontext"
)

const spanDecide = "ratelimit.decide"

type Limiter struct {
	store   ports.CounterStore
	config  *config.Config
	logger  *slog.Logger
	emitter audit.Emitter
	auditor *audit.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	checks atomic.Uint64
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(l *Limiter) {
		if cfg != nil {
			l.config = cfg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Limiter) {
		if t != nil {
			l.tracer = t
		}
	}
}

func WithAuditEmitter(emitter audit.Emitter) Option {
	return func(l *Limiter) {
		l.emitter = emitter
	}
}

func New(store ports.CounterStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	l := &Limiter{
		store:  store,
		config: config.DefaultConfig(),
		logger: slog.Default(),
		tracer: otel.Tracer("leadgate/ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.auditor = audit.NewLogger(l.logger, l.emitter)
	return l, nil
}

// Check reports whether identifier may perform action now under the given
// limits, counting the attempt. Invalid limits deny.
func (l *Limiter) Check(ctx context.Context, identifier string, action models.Action, maxAttempts, windowSeconds, blockSeconds int) bool {
	d, err := l.Decide(ctx, identifier, action, models.NewPolicy(maxAttempts, windowSeconds, blockSeconds))
	if err != nil {
		return false
	}
	return d.Allowed
}

// DecideAction is Decide with the configured policy for action.
func (l *Limiter) DecideAction(ctx context.Context, identifier string, action models.Action) (*models.Decision, error) {
	return l.Decide(ctx, identifier, action, l.config.PolicyFor(action))
}

// PolicyFor returns the configured policy for action.
func (l *Limiter) PolicyFor(action models.Action) models.Policy {
	return l.config.PolicyFor(action)
}

// Decide counts one attempt and returns the full admission outcome. The only
// error is an invalid policy; storage failures fail open with FailedOpen set.
func (l *Limiter) Decide(ctx context.Context, identifier string, action models.Action, policy models.Policy) (decision *models.Decision, err error) {
	ctx, span := l.tracer.Start(ctx, spanDecide, trace.WithAttributes(
		attribute.String("ratelimit.action", action.String()),
		attribute.Int("ratelimit.max_attempts", policy.MaxAttempts),
		attribute.Int("ratelimit.window_seconds", policy.WindowSeconds()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Bool("ratelimit.allowed", decision.Allowed),
				attribute.Bool("ratelimit.failed_open", decision.FailedOpen),
			)
		}
		span.End()
	}()

	if err := policy.Validate(); err != nil {
		l.logger.ErrorContext(ctx, "invalid rate limit policy",
			"action", action.String(),
			"max_attempts", policy.MaxAttempts,
			"window_seconds", policy.WindowSeconds(),
			"block_seconds", int(policy.Block/time.Second),
			"error", err,
		)
		return nil, err
	}

	now := requestcontext.Now(ctx)
	storeCtx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	start := time.Now()
	record, err := l.store.Admit(storeCtx, identifier, action, policy, now)
	cancel()
	l.observeStore("admit", start)
	if err != nil {
		return l.failOpen(ctx, identifier, action, policy, err), nil
	}

	decision = record.Decide(now, policy)
	if decision.Allowed {
		l.observeDecision(action, metrics.OutcomeAllowed)
	} else {
		l.observeDecision(action, metrics.OutcomeDenied)
		l.auditor.Warn(ctx, audit.EventRateLimitExceeded,
			"identifier", identity.Redact(identifier),
			"action", action.String(),
			"attempts", decision.Attempts,
			"limit", decision.Limit,
			"retry_after_seconds", decision.RetryAfterSeconds(),
			"decision", "deny",
		)
	}

	l.maybeCollect(ctx, now)
	return decision, nil
}

// Reset deletes the counter for (identifier, action), clearing any block.
func (l *Limiter) Reset(ctx context.Context, identifier string, action models.Action) error {
	storeCtx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := l.store.Delete(storeCtx, identifier, action)
	l.observeStore("delete", start)
	if err != nil {
		l.logger.ErrorContext(ctx, "rate limit reset failed",
			"identifier", identity.Redact(identifier),
			"action", action.String(),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to reset rate limit")
	}
	if l.metrics != nil {
		l.metrics.IncrementResets(action.String())
	}
	l.auditor.Log(ctx, audit.EventRateLimitReset,
		"identifier", identity.Redact(identifier),
		"action", action.String(),
	)
	return nil
}

// RemainingAttempts returns how many attempts inside the current window are
// still admitted, without counting one. Storage failures report the full
// allowance, consistent with failing open.
func (l *Limiter) RemainingAttempts(ctx context.Context, identifier string, action models.Action, maxAttempts, windowSeconds int) int {
	policy := models.NewPolicy(maxAttempts, windowSeconds, 0)
	if err := policy.Validate(); err != nil {
		return 0
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	record, err := l.store.Get(storeCtx, identifier, action)
	l.observeStore("get", start)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			l.logger.ErrorContext(ctx, "rate limit lookup failed",
				"identifier", identity.Redact(identifier),
				"action", action.String(),
				"error", err,
			)
		}
		return maxAttempts
	}
	return record.Remaining(requestcontext.Now(ctx), policy)
}

func (l *Limiter) failOpen(ctx context.Context, identifier string, action models.Action, policy models.Policy, cause error) *models.Decision {
	if l.metrics != nil {
		l.metrics.IncrementFailOpen(action.String())
	}
	l.observeDecision(action, metrics.OutcomeFailedOpen)
	trace.SpanFromContext(ctx).RecordError(cause)
	l.auditor.Error(ctx, audit.EventRateLimitStoreFailure,
		"identifier", identity.Redact(identifier),
		"action", action.String(),
		"error", cause.Error(),
		"decision", "allow",
		"reason", "fail_open",
	)
	return &models.Decision{
		Allowed:    true,
		Limit:      policy.MaxAttempts,
		Remaining:  policy.MaxAttempts,
		FailedOpen: true,
	}
}

// maybeCollect deletes stale counters on every Nth check. It runs inline,
// bounded by the store timeout, and never affects the decision.
func (l *Limiter) maybeCollect(ctx context.Context, now time.Time) {
	every := l.config.CleanupEveryNChecks
	if every <= 0 || l.checks.Add(1)%uint64(every) != 0 {
		return
	}
	gcCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	removed, err := l.store.DeleteStale(gcCtx, now)
	l.observeStore("delete_stale", start)
	if err != nil {
		l.logger.WarnContext(ctx, "opportunistic rate limit cleanup failed", "error", err)
		return
	}
	if l.metrics != nil {
		l.metrics.IncrementCleanupDeleted(removed)
	}
	if removed > 0 {
		l.logger.DebugContext(ctx, "opportunistic rate limit cleanup", "removed", removed)
	}
}

func (l *Limiter) observeDecision(action models.Action, outcome string) {
	if l.metrics != nil {
		l.metrics.ObserveDecision(action.String(), outcome)
	}
}

func (l *Limiter) observeStore(operation string, start time.Time) {
	if l.metrics != nil {
		l.metrics.ObserveStoreLatency(operation, time.Since(start).Seconds())
	}
}
