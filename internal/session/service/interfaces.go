package service

import (
	"context"

	rlmodels "leadgate/internal/ratelimit/models"
	"leadgate/internal/session/models"
)

// SessionStore persists session state keyed by the opaque session identifier.
// Error Contract: Get returns sentinel.ErrNotFound when the session doesn't exist.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.State, error)
	Save(ctx context.Context, state *models.State) error
	Rotate(ctx context.Context, oldID string, state *models.State) error
	Delete(ctx context.Context, id string) error
}

// SubjectStore looks up login principals.
// Error Contract: FindByName returns sentinel.ErrNotFound when the subject doesn't exist.
type SubjectStore interface {
	FindByName(ctx context.Context, name string) (*models.Subject, error)
}

// Limiter is the slice of the rate limiter that guards login.
type Limiter interface {
	DecideAction(ctx context.Context, identifier string, action rlmodels.Action) (*rlmodels.Decision, error)
	Reset(ctx context.Context, identifier string, action rlmodels.Action) error
}

// CredentialVerifier checks a presented secret against a stored one-way hash.
type CredentialVerifier interface {
	Verify(storedHash, presented string) bool
}
