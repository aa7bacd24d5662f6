package httptransport

import (
	"context"
	"net/http"

	"leadgate/internal/session/models"
	"leadgate/pkg/platform/httputil"
	"leadgate/pkg/requestcontext"
)

type sessionKey struct{}

type loadedSession struct {
	state    *models.State
	cookieID string
}

// LoadSession resolves the session cookie into a State for the handlers.
// Unknown cookie values are never adopted; they yield a fresh session that
// gets its own identifier when saved.
func (h *Handler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cookieID string
		if c, err := r.Cookie(h.cookie.Name); err == nil {
			cookieID = c.Value
		}
		state := h.sessions.Load(r.Context(), cookieID)
		ctx := context.WithValue(r.Context(), sessionKey{}, &loadedSession{state: state, cookieID: cookieID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFrom returns the request's session. Outside LoadSession it returns
// a fresh anonymous state.
func sessionFrom(r *http.Request) (*models.State, string) {
	if s, ok := r.Context().Value(sessionKey{}).(*loadedSession); ok {
		return s.state, s.cookieID
	}
	return models.NewState("", requestcontext.Now(r.Context())), ""
}

// commit persists state and refreshes the cookie when the identifier changed.
// It writes the error response itself and reports whether the caller may go on.
func (h *Handler) commit(w http.ResponseWriter, r *http.Request, state *models.State) bool {
	_, cookieID := sessionFrom(r)
	if err := h.sessions.Save(r.Context(), state); err != nil {
		httputil.WriteError(w, err)
		return false
	}
	if state.ID != cookieID {
		h.setCookie(w, state.ID)
	}
	return true
}

// setCookie writes the cookie for an identifier already persisted elsewhere,
// as after login rotation.
func (h *Handler) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
