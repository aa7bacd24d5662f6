// Package csrf issues and checks the per-session anti-forgery token.
//
// A session holds at most one live token. It is bound to the session, not to
// a form or action: any live token of the session is accepted for any
// protected request in it. There is no sliding renewal; GetOrCreate replaces
// a token only once it has expired.
package csrf

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"leadgate/internal/session/models"
	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/platform/audit"
	"leadgate/pkg/requestcontext"
	"leadgate/pkg/secrets"
)

// DefaultLifetime is how long a token stays valid after issue.
const DefaultLifetime = time.Hour

// HeaderName carries the token on state-changing requests.
const HeaderName = "X-CSRF-Token"

// Failure reasons, used as log and metric labels.
const (
	reasonNoSession = "no_session"
	reasonMissing   = "missing"
	reasonExpired   = "expired"
	reasonMismatch  = "mismatch"
)

type Option func(*Manager)

func WithLifetime(lifetime time.Duration) Option {
	return func(m *Manager) {
		if lifetime > 0 {
			m.lifetime = lifetime
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithAuditEmitter(emitter audit.Emitter) Option {
	return func(m *Manager) {
		m.emitter = emitter
	}
}

type Manager struct {
	lifetime time.Duration
	logger   *slog.Logger
	emitter  audit.Emitter
	auditor  *audit.Logger
	metrics  *Metrics
	generate func() (string, error)
}

func New(opts ...Option) *Manager {
	m := &Manager{
		lifetime: DefaultLifetime,
		logger:   slog.Default(),
		generate: secrets.Generate,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.auditor = audit.NewLogger(m.logger, m.emitter)
	return m
}

// Lifetime returns the configured token lifetime.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// GetOrCreate returns the session's live token, minting a new one when it is
// absent or expired. The caller persists state afterwards.
func (m *Manager) GetOrCreate(ctx context.Context, state *models.State) (string, error) {
	if state == nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session is required")
	}
	now := requestcontext.Now(ctx)
	if state.CSRF.IsLive(now, m.lifetime) {
		return state.CSRF.Value, nil
	}

	value, err := m.generate()
	if err != nil {
		return "", err
	}
	state.CSRF = &models.CSRFToken{Value: value, IssuedAt: now}
	if m.metrics != nil {
		m.metrics.IncrementIssued()
	}
	return value, nil
}

// Validate reports whether presented matches the session's live token.
// Comparison is constant time. It never mutates state.
func (m *Manager) Validate(ctx context.Context, state *models.State, presented string) bool {
	reason := m.check(ctx, state, presented)
	if reason == "" {
		return true
	}

	if m.metrics != nil {
		m.metrics.IncrementFailure(reason)
	}
	attrs := []any{"reason", reason, "decision", "deny"}
	if state != nil && state.SubjectID != "" {
		attrs = append(attrs, "subject", state.SubjectID)
	}
	m.auditor.Warn(ctx, audit.EventCSRFValidationFailed, attrs...)
	return false
}

// ValidateOrReject is Validate returning a token_invalid domain error on
// failure. The caller aborts the request without side effects.
func (m *Manager) ValidateOrReject(ctx context.Context, state *models.State, presented string) error {
	if !m.Validate(ctx, state, presented) {
		return dErrors.New(dErrors.CodeTokenInvalid, "CSRF validation failed")
	}
	return nil
}

func (m *Manager) check(ctx context.Context, state *models.State, presented string) string {
	switch {
	case state == nil:
		return reasonNoSession
	case state.CSRF == nil || state.CSRF.Value == "" || presented == "":
		return reasonMissing
	case !state.CSRF.IsLive(requestcontext.Now(ctx), m.lifetime):
		return reasonExpired
	case subtle.ConstantTimeCompare([]byte(state.CSRF.Value), []byte(presented)) != 1:
		return reasonMismatch
	}
	return ""
}
