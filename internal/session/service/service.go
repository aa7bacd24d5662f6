// Package service implements the session lifecycle:
// Anonymous → Authenticated → (IdleExpired | LoggedOut) → Anonymous.
//
// Every storage failure fails closed. A session that cannot be read is
// anonymous, and a login or touch that cannot be persisted does not succeed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"leadgate/internal/identity"
	rlmodels "leadgate/internal/ratelimit/models"
	"leadgate/internal/session/metrics"
	"leadgate/internal/session/models"
	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/platform/audit"
	"leadgate/pkg/platform/sentinel"
	"leadgate/pkg/requestcontext"
	"leadgate/pkg/secrets"
)

// dummyHash is compared against when the subject does not exist, so unknown
// and known subjects cost the same bcrypt work.
var dummyHash = sync.OnceValue(func() string {
	hash, err := secrets.Hash("leadgate-unknown-subject")
	if err != nil {
		panic(fmt.Sprintf("hash dummy credential: %v", err))
	}
	return hash
})

type Manager struct {
	sessions SessionStore
	subjects SubjectStore
	limiter  Limiter
	verifier CredentialVerifier
	config   *Config
	logger   *slog.Logger
	emitter  audit.Emitter
	auditor  *audit.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	generate func() (string, error)
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithConfig(cfg *Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			m.config = cfg
		}
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithVerifier(verifier CredentialVerifier) Option {
	return func(m *Manager) {
		if verifier != nil {
			m.verifier = verifier
		}
	}
}

func WithAuditEmitter(emitter audit.Emitter) Option {
	return func(m *Manager) {
		m.emitter = emitter
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

func New(sessions SessionStore, subjects SubjectStore, limiter Limiter, opts ...Option) (*Manager, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if subjects == nil {
		return nil, fmt.Errorf("subject store is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	m := &Manager{
		sessions: sessions,
		subjects: subjects,
		limiter:  limiter,
		verifier: secrets.Verifier{},
		config:   DefaultConfig(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("leadgate/session"),
		generate: secrets.Generate,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.auditor = audit.NewLogger(m.logger, m.emitter)
	return m, nil
}

// IdleTimeout returns the configured idle timeout.
func (m *Manager) IdleTimeout() time.Duration {
	return m.config.IdleTimeout
}

// Load resolves a session cookie value. A missing, unknown or unreadable
// session yields a fresh anonymous state that has no identifier until saved.
func (m *Manager) Load(ctx context.Context, sessionID string) *models.State {
	now := requestcontext.Now(ctx)
	if sessionID == "" {
		return models.NewState("", now)
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	state, err := m.sessions.Get(storeCtx, sessionID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			m.storeFailure(ctx, "get", err)
		}
		return models.NewState("", now)
	}
	// Status is request-scoped; a transition persisted by an earlier request
	// does not carry over.
	state.Status = ""
	state.Status = m.statusAt(state, now)
	return state
}

// Authenticate logs state in as subjectName. The login limiter is consulted
// first, keyed by the client identifier, and a denied attempt never reaches
// the credential store. On success the session identifier is rotated, a new
// session token is minted, the CSRF token is dropped and the login limiter
// is reset for identifier. Failures are uniform: callers cannot tell an
// unknown subject from a wrong credential.
func (m *Manager) Authenticate(ctx context.Context, state *models.State, identifier, subjectName, credential string) (ok bool) {
	ctx, span := m.tracer.Start(ctx, "session.authenticate")
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("session.authenticated", ok))
		span.End()
		if m.metrics != nil {
			m.metrics.ObserveAuthenticate(time.Since(start).Seconds())
		}
	}()

	if state == nil {
		return false
	}

	decision, err := m.limiter.DecideAction(ctx, identifier, rlmodels.ActionLogin)
	if err != nil || !decision.Allowed {
		m.countLogin(metrics.LoginThrottled)
		m.auditor.Warn(ctx, audit.EventLoginThrottled,
			"identifier", identity.Redact(identifier),
			"subject", subjectName,
			"decision", "deny",
		)
		return false
	}

	subject, err := m.findSubject(ctx, subjectName)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		m.verifier.Verify(dummyHash(), credential)
		m.loginFailed(ctx, identifier, subjectName, "unknown_subject")
		return false
	case err != nil:
		m.storeFailure(ctx, "find_subject", err)
		m.countLogin(metrics.LoginUnavailable)
		return false
	case !m.verifier.Verify(subject.PasswordHash, credential):
		m.loginFailed(ctx, identifier, subjectName, "bad_credential")
		return false
	}

	next, err := m.loggedIn(ctx, state, subject)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to mint session secrets", "error", err)
		m.countLogin(metrics.LoginUnavailable)
		return false
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	err = m.sessions.Rotate(storeCtx, state.ID, next)
	cancel()
	if err != nil {
		m.storeFailure(ctx, "rotate", err)
		m.countLogin(metrics.LoginUnavailable)
		return false
	}
	*state = *next

	if err := m.limiter.Reset(ctx, identifier, rlmodels.ActionLogin); err != nil {
		m.logger.WarnContext(ctx, "failed to reset login limiter after successful login", "error", err)
	}

	m.countLogin(metrics.LoginSucceeded)
	m.countTransition(models.StatusAuthenticated)
	m.auditor.Log(ctx, audit.EventLoginSucceeded,
		"identifier", identity.Redact(identifier),
		"subject", state.SubjectID,
		"decision", "allow",
	)
	return true
}

// loggedIn builds the post-login state under a fresh identifier.
func (m *Manager) loggedIn(ctx context.Context, state *models.State, subject *models.Subject) (*models.State, error) {
	newID, err := m.generate()
	if err != nil {
		return nil, err
	}
	token, err := m.generate()
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	next := state.Clone()
	next.ID = newID
	next.SubjectID = subject.ID.String()
	next.Role = subject.Role
	next.SessionToken = token
	next.LoginTime = now
	next.LastActivity = now
	next.CSRF = nil
	next.Status = models.StatusAuthenticated
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	return next, nil
}

// Touch must run before protected work on every authenticated request. It
// reports whether the session is still authenticated: an idle session is
// cleared and reported as expired, an active one has LastActivity moved to
// now and is persisted.
func (m *Manager) Touch(ctx context.Context, state *models.State) bool {
	if !state.HasIdentity() {
		return false
	}

	now := requestcontext.Now(ctx)
	if state.IsIdle(now, m.config.IdleTimeout) {
		subjectID := state.SubjectID
		state.Clear()
		state.Status = models.StatusIdleExpired
		if err := m.persist(ctx, state); err != nil {
			m.storeFailure(ctx, "save", err)
		}
		m.countTransition(models.StatusIdleExpired)
		m.auditor.Log(ctx, audit.EventSessionIdleExpired, "subject", subjectID)
		return false
	}

	state.LastActivity = now
	if err := m.persist(ctx, state); err != nil {
		m.storeFailure(ctx, "save", err)
		return false
	}
	state.Status = models.StatusAuthenticated
	return true
}

// Logout clears state and replaces the session identifier. The old
// identifier is deleted from the store; a delete failure is logged and the
// stored session then lapses through its TTL.
func (m *Manager) Logout(ctx context.Context, state *models.State) {
	if state == nil {
		return
	}
	oldID, subjectID := state.ID, state.SubjectID

	if oldID != "" {
		storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
		err := m.sessions.Delete(storeCtx, oldID)
		cancel()
		if err != nil {
			m.storeFailure(ctx, "delete", err)
		}
	}

	*state = *models.NewState("", requestcontext.Now(ctx))
	state.Status = models.StatusLoggedOut
	m.countTransition(models.StatusLoggedOut)
	m.auditor.Log(ctx, audit.EventSessionLoggedOut, "subject", subjectID)
}

// Save persists state, assigning an identifier to a state that has none.
func (m *Manager) Save(ctx context.Context, state *models.State) error {
	if state == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "session is required")
	}
	if err := m.persist(ctx, state); err != nil {
		m.storeFailure(ctx, "save", err)
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to save session")
	}
	return nil
}

// Status reports where state sits in the lifecycle at the request time.
func (m *Manager) Status(ctx context.Context, state *models.State) models.Status {
	if state == nil {
		return models.StatusAnonymous
	}
	return m.statusAt(state, requestcontext.Now(ctx))
}

func (m *Manager) statusAt(state *models.State, now time.Time) models.Status {
	switch {
	case state.Status == models.StatusIdleExpired || state.Status == models.StatusLoggedOut:
		return state.Status
	case !state.HasIdentity():
		return models.StatusAnonymous
	case state.IsIdle(now, m.config.IdleTimeout):
		return models.StatusIdleExpired
	default:
		return models.StatusAuthenticated
	}
}

func (m *Manager) persist(ctx context.Context, state *models.State) error {
	if state.ID == "" {
		id, err := m.generate()
		if err != nil {
			return err
		}
		state.ID = id
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = requestcontext.Now(ctx)
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()
	return m.sessions.Save(storeCtx, state)
}

func (m *Manager) findSubject(ctx context.Context, name string) (*models.Subject, error) {
	if name == "" {
		return nil, sentinel.ErrNotFound
	}
	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()
	return m.subjects.FindByName(storeCtx, name)
}

func (m *Manager) loginFailed(ctx context.Context, identifier, subjectName, reason string) {
	m.countLogin(metrics.LoginFailed)
	m.auditor.Warn(ctx, audit.EventLoginFailed,
		"identifier", identity.Redact(identifier),
		"subject", subjectName,
		"reason", reason,
		"decision", "deny",
	)
}

func (m *Manager) storeFailure(ctx context.Context, operation string, err error) {
	if m.metrics != nil {
		m.metrics.IncrementStoreError(operation)
	}
	m.auditor.Error(ctx, audit.EventSessionStoreFailure,
		"operation", operation,
		"error", err.Error(),
		"decision", "deny",
		"reason", "fail_closed",
	)
}

func (m *Manager) countLogin(outcome string) {
	if m.metrics != nil {
		m.metrics.IncrementLogin(outcome)
	}
}

func (m *Manager) countTransition(to models.Status) {
	if m.metrics != nil {
		m.metrics.IncrementTransition(to.String())
	}
}
