// Package guard runs the checks every state-changing request passes before
// business logic executes: session validity, then rate limit admission, then
// the CSRF token. Every failure is converted into a verdict; none escapes as
// an unhandled fault.
package guard

import (
	"context"
	"log/slog"

	rlmodels "leadgate/internal/ratelimit/models"
	"leadgate/internal/session/models"
	dErrors "leadgate/pkg/domain-errors"
)

// Verdict is what the caller does with the request.
type Verdict int

const (
	// Allow lets the request proceed.
	Allow Verdict = iota
	// DenyRetry rejects the request; the client may retry later or with a
	// fresh token.
	DenyRetry
	// DenyReauth rejects the request; the client must log in again.
	DenyReauth
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case DenyRetry:
		return "deny_retry"
	case DenyReauth:
		return "deny_reauth"
	default:
		return "unknown"
	}
}

type Limiter interface {
	DecideAction(ctx context.Context, identifier string, action rlmodels.Action) (*rlmodels.Decision, error)
}

type Sessions interface {
	Touch(ctx context.Context, state *models.State) bool
}

type CSRF interface {
	ValidateOrReject(ctx context.Context, state *models.State, presented string) error
}

// Request describes one protected operation.
type Request struct {
	State      *models.State
	Identifier string
	Action     rlmodels.Action
	CSRFToken  string
	// RequireAuth demands an authenticated, non-idle session.
	RequireAuth bool
	// SkipCSRF is for requests that carry no browser session, such as webhooks.
	SkipCSRF bool
}

// Outcome is the result of Protect. Err carries a domain code for transport
// mapping when Verdict is not Allow. Decision is set once the limiter ran.
type Outcome struct {
	Verdict  Verdict
	Err      error
	Decision *rlmodels.Decision
}

// Allowed reports whether the request may proceed.
func (o Outcome) Allowed() bool {
	return o.Verdict == Allow
}

type Guard struct {
	limiter  Limiter
	sessions Sessions
	csrf     CSRF
	logger   *slog.Logger
}

func New(limiter Limiter, sessions Sessions, csrf CSRF, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{limiter: limiter, sessions: sessions, csrf: csrf, logger: logger}
}

// Protect evaluates req. A throttled request does not reach CSRF
// validation, and a request without a valid session does not count against
// the limiter.
func (g *Guard) Protect(ctx context.Context, req Request) Outcome {
	if req.RequireAuth && !g.sessions.Touch(ctx, req.State) {
		return Outcome{
			Verdict: DenyReauth,
			Err:     dErrors.New(dErrors.CodeSessionExpired, "session expired, please log in again"),
		}
	}

	decision, err := g.limiter.DecideAction(ctx, req.Identifier, req.Action)
	if err != nil {
		g.logger.ErrorContext(ctx, "rate limit policy rejected", "action", req.Action.String(), "error", err)
		return Outcome{
			Verdict: DenyRetry,
			Err:     dErrors.New(dErrors.CodeThrottled, "try again later"),
		}
	}
	if !decision.Allowed {
		return Outcome{
			Verdict:  DenyRetry,
			Err:      dErrors.New(dErrors.CodeThrottled, "try again later"),
			Decision: decision,
		}
	}

	if !req.SkipCSRF {
		if err := g.csrf.ValidateOrReject(ctx, req.State, req.CSRFToken); err != nil {
			return Outcome{
				Verdict:  DenyRetry,
				Err:      dErrors.Wrap(err, dErrors.CodeTokenInvalid, "please reload the page and retry"),
				Decision: decision,
			}
		}
	}

	return Outcome{Verdict: Allow, Decision: decision}
}
