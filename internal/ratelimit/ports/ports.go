// Package ports defines the storage interfaces consumed by the rate limiter.
package ports

import (
	"context"
	"time"

	"leadgate/internal/ratelimit/models"
)

// CounterStore persists one counter per (identifier, action) pair and is the
// only state shared across concurrent requests.
//
// Implementations must make Admit linearizable per pair: two concurrent Admits
// for the same pair observe each other's increments. Different pairs must not
// contend on a common lock.
type CounterStore interface {
	// Admit applies models.Record.Admit to the pair's counter at now, creating the
	// counter when absent, and returns the resulting record in one atomic step.
	Admit(ctx context.Context, identifier string, action models.Action, policy models.Policy, now time.Time) (*models.Record, error)

	// Get returns the counter or sentinel.ErrNotFound.
	Get(ctx context.Context, identifier string, action models.Action) (*models.Record, error)

	// Delete removes the counter unconditionally. Deleting a missing counter is not an error.
	Delete(ctx context.Context, identifier string, action models.Action) error

	// DeleteStale removes counters for which models.Record.IsStale(now) holds and
	// returns how many were removed.
	DeleteStale(ctx context.Context, now time.Time) (int, error)
}
