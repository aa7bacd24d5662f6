package counter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"leadgate/internal/ratelimit/models"
	"leadgate/internal/ratelimit/ports"
	"leadgate/pkg/platform/circuit"
	"leadgate/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned without contacting the backend while the
// circuit is open. The limiter treats it like any store failure and fails open.
var ErrCircuitOpen = errors.New("counter store circuit open")

// ResilientStore wraps a shared counter store with a circuit breaker so that
// an outage costs one fast error per check instead of a full store timeout.
type ResilientStore struct {
	delegate ports.CounterStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewResilient(delegate ports.CounterStore, breaker *circuit.Breaker, logger *slog.Logger) *ResilientStore {
	if breaker == nil {
		breaker = circuit.New("counter_store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientStore{delegate: delegate, breaker: breaker, logger: logger}
}

// Healthy reports whether the circuit is closed.
func (s *ResilientStore) Healthy(context.Context) error {
	if s.breaker.IsOpen() {
		return ErrCircuitOpen
	}
	return nil
}

func (s *ResilientStore) Admit(ctx context.Context, identifier string, action models.Action, policy models.Policy, now time.Time) (*models.Record, error) {
	if !s.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	record, err := s.delegate.Admit(ctx, identifier, action, policy, now)
	s.record(ctx, err)
	return record, err
}

func (s *ResilientStore) Get(ctx context.Context, identifier string, action models.Action) (*models.Record, error) {
	if !s.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	record, err := s.delegate.Get(ctx, identifier, action)
	s.record(ctx, err)
	return record, err
}

func (s *ResilientStore) Delete(ctx context.Context, identifier string, action models.Action) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := s.delegate.Delete(ctx, identifier, action)
	s.record(ctx, err)
	return err
}

func (s *ResilientStore) DeleteStale(ctx context.Context, now time.Time) (int, error) {
	if !s.breaker.Allow() {
		return 0, ErrCircuitOpen
	}
	n, err := s.delegate.DeleteStale(ctx, now)
	s.record(ctx, err)
	return n, err
}

func (s *ResilientStore) record(ctx context.Context, err error) {
	// A cancelled caller says nothing about the backend. Deadlines still
	// count: they are the store timeout expiring.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		s.breaker.Abandon()
		return
	}
	if err == nil || errors.Is(err, sentinel.ErrNotFound) {
		if change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "circuit breaker closed", "circuit", s.breaker.Name())
		}
		return
	}
	if change := s.breaker.RecordFailure(); change.Opened {
		s.logger.ErrorContext(ctx, "circuit breaker opened",
			"circuit", s.breaker.Name(),
			"error", err,
		)
	}
}
