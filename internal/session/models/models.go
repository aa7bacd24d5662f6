package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle position of a session.
// Anonymous → Authenticated → (IdleExpired | LoggedOut) → Anonymous.
type Status string

const (
	StatusAnonymous     Status = "anonymous"
	StatusAuthenticated Status = "authenticated"
	StatusIdleExpired   Status = "idle_expired"
	StatusLoggedOut     Status = "logged_out"
)

func (s Status) String() string {
	return string(s)
}

// CSRFToken is the live anti-forgery token of one session. Issuing a new one
// replaces the previous value.
type CSRFToken struct {
	Value    string
	IssuedAt time.Time
}

// IsLive reports whether the token is still within lifetime at now.
func (t *CSRFToken) IsLive(now time.Time, lifetime time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Sub(t.IssuedAt) <= lifetime
}

// State is the server-side state behind a session cookie. ID is the opaque
// cookie value and changes on login and logout.
type State struct {
	ID           string
	SubjectID    string
	Role         string
	SessionToken string
	LoginTime    time.Time
	LastActivity time.Time
	CreatedAt    time.Time
	CSRF         *CSRFToken

	// Status records the last lifecycle transition taken during this request.
	Status Status
}

// NewState returns an empty anonymous state with the given identifier.
func NewState(id string, now time.Time) *State {
	return &State{ID: id, CreatedAt: now, Status: StatusAnonymous}
}

// HasIdentity reports whether login populated the state. It says nothing
// about idle expiry.
func (s *State) HasIdentity() bool {
	return s != nil && s.SubjectID != "" && s.SessionToken != ""
}

// IsIdle reports whether the idle timeout has elapsed since the last activity.
func (s *State) IsIdle(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastActivity) > idleTimeout
}

// IsAuthenticated holds iff the state carries an identity and has not idled out.
func (s *State) IsAuthenticated(now time.Time, idleTimeout time.Duration) bool {
	return s.HasIdentity() && !s.IsIdle(now, idleTimeout)
}

// Clear drops every identity field and the CSRF token. ID and CreatedAt stay.
func (s *State) Clear() {
	s.SubjectID = ""
	s.Role = ""
	s.SessionToken = ""
	s.LoginTime = time.Time{}
	s.LastActivity = time.Time{}
	s.CSRF = nil
}

// Clone returns a detached copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.CSRF != nil {
		token := *s.CSRF
		out.CSRF = &token
	}
	return &out
}

// Subject is a principal that can log in.
type Subject struct {
	ID           uuid.UUID
	Name         string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}
