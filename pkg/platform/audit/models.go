package audit

import "time"

// Event is emitted from domain logic to capture security-relevant actions.
// Keep it transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp  time.Time
	Action     string
	Subject    string // subject name or subject_id when known
	Identifier string // client identifier (hashed, never a raw address)
	Decision   string
	Reason     string
	RequestID  string
}

type AuditEvent string

const (
	EventRateLimitExceeded     AuditEvent = "rate_limit_exceeded"
	EventRateLimitReset        AuditEvent = "rate_limit_reset"
	EventRateLimitStoreFailure AuditEvent = "ratelimit_store_unavailable"
	EventCSRFValidationFailed  AuditEvent = "csrf_validation_failed"
	EventLoginSucceeded        AuditEvent = "login_succeeded"
	EventLoginFailed           AuditEvent = "login_failed"
	EventLoginThrottled        AuditEvent = "login_throttled"
	EventSessionIdleExpired    AuditEvent = "session_idle_expired"
	EventSessionLoggedOut      AuditEvent = "session_logged_out"
	EventSessionStoreFailure   AuditEvent = "session_store_unavailable"
)

func (e AuditEvent) String() string {
	return string(e)
}
