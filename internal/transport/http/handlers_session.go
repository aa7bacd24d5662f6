package httptransport

import (
	"net/http"

	"leadgate/internal/csrf"
	"leadgate/internal/guard"
	"leadgate/internal/identity"
	rlmodels "leadgate/internal/ratelimit/models"
	"leadgate/internal/session/models"
	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/platform/httputil"
	"leadgate/pkg/requestcontext"
	s "leadgate/pkg/string"
	"leadgate/pkg/validation"
)

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Status        string `json:"status"`
	SubjectID     string `json:"subject_id,omitempty"`
	Role          string `json:"role,omitempty"`
	CSRFToken     string `json:"csrf_token"`
}

type loginRequest struct {
	Subject    string `json:"subject" validate:"notblank,max=255"`
	Credential string `json:"credential" validate:"required,max=1024"`
}

func (r *loginRequest) Normalize() {
	s.TrimStrings(&r.Subject)
}

func (r *loginRequest) Validate() error {
	return validation.Validate(r)
}

// HandleSession implements GET /session. It reports the session status and
// hands out the session's CSRF token, minting one when none is live.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, _ := sessionFrom(r)

	token, err := h.csrf.GetOrCreate(ctx, state)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue csrf token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token"))
		return
	}
	if !h.commit(w, r, state) {
		return
	}

	status := h.sessions.Status(ctx, state)
	resp := sessionResponse{
		Authenticated: status == models.StatusAuthenticated,
		Status:        status.String(),
		CSRFToken:     token,
	}
	if resp.Authenticated {
		resp.SubjectID = state.SubjectID
		resp.Role = state.Role
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleLogin implements POST /login.
//
// Input: { "subject": "...", "credential": "..." } with the X-CSRF-Token header.
// Output: 204 with a rotated session cookie, or a uniform 401.
// A request with a bad token still spends a login attempt; a throttled
// client gets 429 before the token is looked at.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, _ := sessionFrom(r)
	identifier := identity.Derive(requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx))

	if err := h.csrf.ValidateOrReject(ctx, state, r.Header.Get(csrf.HeaderName)); err != nil {
		spend := guard.Request{State: state, Identifier: identifier, Action: rlmodels.ActionLogin, SkipCSRF: true}
		if h.admit(w, r, spend) {
			httputil.WriteError(w, err)
		}
		return
	}

	req, ok := httputil.DecodeAndPrepare[loginRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}

	if !h.sessions.Authenticate(ctx, state, identifier, req.Subject, req.Credential) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeAuthenticationFailed, "invalid subject or credential"))
		return
	}

	h.setCookie(w, state.ID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogout implements POST /logout. The session identifier is replaced
// and the new, empty session is saved under it.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, _ := sessionFrom(r)

	if err := h.csrf.ValidateOrReject(ctx, state, r.Header.Get(csrf.HeaderName)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.sessions.Logout(ctx, state)
	if !h.commit(w, r, state) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
