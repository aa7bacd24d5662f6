// Package httptransport exposes the session, login and intake endpoints.
// Handlers stay thin: every state-changing request passes the guard before
// the intake collaborator sees it.
package httptransport

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"leadgate/internal/guard"
	rlmiddleware "leadgate/internal/ratelimit/middleware"
	rlmodels "leadgate/internal/ratelimit/models"
	"leadgate/internal/session/models"
)

// SessionManager is the session lifecycle as seen by the transport.
type SessionManager interface {
	Load(ctx context.Context, sessionID string) *models.State
	Authenticate(ctx context.Context, state *models.State, identifier, subjectName, credential string) bool
	Logout(ctx context.Context, state *models.State)
	Save(ctx context.Context, state *models.State) error
	Status(ctx context.Context, state *models.State) models.Status
}

type CSRFManager interface {
	GetOrCreate(ctx context.Context, state *models.State) (string, error)
	ValidateOrReject(ctx context.Context, state *models.State, presented string) error
}

type Guard interface {
	Protect(ctx context.Context, req guard.Request) guard.Outcome
}

// Intake receives admitted requests.
type Intake interface {
	SubmitForm(ctx context.Context, form string, fields map[string]string) (string, error)
	UpdateLeadStatus(ctx context.Context, leadID, status, actor string) error
	ReceiveWebhook(ctx context.Context, source string, payload []byte) error
}

// CookieConfig shapes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// DefaultCookieName names the session cookie.
const DefaultCookieName = "leadgate_session"

type Handler struct {
	sessions SessionManager
	csrf     CSRFManager
	guard    Guard
	intake   Intake
	logger   *slog.Logger
	cookie   CookieConfig
	forms    map[string]rlmodels.Action
}

// New builds a Handler accepting submissions for the named forms.
func New(sessions SessionManager, csrf CSRFManager, g Guard, intake Intake, logger *slog.Logger, cookie CookieConfig, forms []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	allowed := make(map[string]rlmodels.Action, len(forms))
	for _, form := range forms {
		allowed[form] = rlmodels.FormSubmissionAction(form)
	}
	return &Handler{
		sessions: sessions,
		csrf:     csrf,
		guard:    g,
		intake:   intake,
		logger:   logger,
		cookie:   cookie,
		forms:    allowed,
	}
}

// Register mounts the browser-facing routes. They run behind LoadSession.
func (h *Handler) Register(r chi.Router) {
	r.Get("/session", h.HandleSession)
	r.Post("/login", h.HandleLogin)
	r.Post("/logout", h.HandleLogout)
	r.Post("/forms/{form}/submissions", h.HandleSubmitForm)
	r.Post("/admin/leads/{leadID}/status", h.HandleLeadStatus)
}

// RegisterWebhooks mounts machine-to-machine routes. They carry no session;
// limits apply per source address.
func (h *Handler) RegisterWebhooks(r chi.Router, limits *rlmiddleware.Middleware) {
	r.With(limits.RateLimit(rlmodels.ActionWebhookAPI, rlmiddleware.ByIP)).
		Post("/webhooks/{source}", h.HandleWebhook)
}
