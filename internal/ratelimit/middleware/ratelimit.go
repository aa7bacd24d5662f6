package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"leadgate/internal/identity"
	"leadgate/internal/ratelimit/models"
	"leadgate/pkg/platform/httputil"
	"leadgate/pkg/requestcontext"
)

type RateLimiter interface {
	DecideAction(ctx context.Context, identifier string, action models.Action) (*models.Decision, error)
}

// KeyFunc picks the identifier a request is counted against.
type KeyFunc func(r *http.Request) string

// ByClient counts against the hashed address plus client signature.
func ByClient(r *http.Request) string {
	ctx := r.Context()
	return identity.Derive(requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx))
}

// ByIP counts against the client address alone.
func ByIP(r *http.Request) string {
	return identity.ForIP(requestcontext.ClientIP(r.Context()))
}

type Middleware struct {
	limiter RateLimiter
	logger  *slog.Logger
}

func New(limiter RateLimiter, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// RateLimit enforces the configured policy for action. The limiter itself
// fails open on storage errors; an error here means a misconfigured policy,
// which lets the request through and logs.
func (m *Middleware) RateLimit(action models.Action, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClient
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			decision, err := m.limiter.DecideAction(ctx, key(r), action)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "action", action.String(), "error", err)
				next.ServeHTTP(w, r)
				return
			}

			WriteHeaders(w, decision)
			if !decision.Allowed {
				WriteExceeded(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteHeaders adds X-RateLimit-* headers. Decisions taken while failing open
// carry no counter state and get none.
func WriteHeaders(w http.ResponseWriter, decision *models.Decision) {
	if decision == nil || decision.FailedOpen {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

// WriteExceeded writes the 429 response for a denied decision.
func WriteExceeded(w http.ResponseWriter, decision *models.Decision) {
	retryAfter := decision.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: retryAfter,
	})
}
