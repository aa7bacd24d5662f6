package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "leadgate/pkg/domain-errors"
)

// Action names a category of protected operation. Each action has an independent
// limiter per identifier.
type Action string

const (
	ActionLogin           Action = "login"
	ActionFormASubmission Action = "form_a_submission"
	ActionFormBSubmission Action = "form_b_submission"
	ActionWebhookAPI      Action = "webhook_api"
	ActionAdminWrite      Action = "admin_write"
)

// FormSubmissionAction returns the action guarding submissions of the named form.
func FormSubmissionAction(form string) Action {
	return Action(fmt.Sprintf("form_%s_submission", strings.ToLower(form)))
}

func (a Action) String() string {
	return string(a)
}

// Policy is the admission rule for one action.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// NewPolicy builds a policy from whole-second window and block lengths.
func NewPolicy(maxAttempts, windowSeconds, blockSeconds int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Window:      time.Duration(windowSeconds) * time.Second,
		Block:       time.Duration(blockSeconds) * time.Second,
	}
}

// Validate rejects policies that cannot be evaluated: maxAttempts < 1, a
// non-positive window or a negative block.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "max attempts must be at least 1")
	}
	if p.Window <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "window must be positive")
	}
	if p.Block < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "block must not be negative")
	}
	return nil
}

// WindowSeconds returns the window length in whole seconds.
func (p Policy) WindowSeconds() int {
	return int(p.Window / time.Second)
}

// Record is the persisted counter for one (identifier, action) pair.
type Record struct {
	Identifier    string
	Action        Action
	Attempts      int
	LastAttempt   time.Time
	BlockedUntil  *time.Time
	WindowSeconds int
}

// IsBlocked reports whether a block is in force at now.
func (r *Record) IsBlocked(now time.Time) bool {
	return r != nil && r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// startsFresh reports whether the next attempt opens a new window: there is no
// history, the last attempt fell out of the window, or a positive block has lapsed.
func (r *Record) startsFresh(now time.Time, window time.Duration) bool {
	if r.Attempts == 0 {
		return true
	}
	if r.LastAttempt.Before(now.Add(-window)) {
		return true
	}
	return r.BlockedUntil != nil && r.BlockedUntil.After(r.LastAttempt) && !r.BlockedUntil.After(now)
}

// Admit applies one attempt at now under policy p and mutates the record.
// It is the reference transition; durable stores reproduce it atomically.
//
// A record blocked at now is left untouched. Otherwise the attempt is counted,
// and exceeding MaxAttempts sets BlockedUntil = now + Block.
func (r *Record) Admit(now time.Time, p Policy) {
	if r.IsBlocked(now) {
		return
	}
	if r.startsFresh(now, p.Window) {
		r.Attempts = 0
		r.BlockedUntil = nil
	}
	r.Attempts++
	r.LastAttempt = now
	r.WindowSeconds = p.WindowSeconds()
	if r.Attempts > p.MaxAttempts {
		until := now.Add(p.Block)
		r.BlockedUntil = &until
	}
}

// IsStale reports whether cleanup may delete the record: the last attempt is
// older than twice the record's window and no block is in force.
func (r *Record) IsStale(now time.Time) bool {
	if r.IsBlocked(now) {
		return false
	}
	window := time.Duration(r.WindowSeconds) * time.Second
	return r.LastAttempt.Before(now.Add(-2 * window))
}

// Remaining returns how many further attempts policy p admits at now without
// counting a new one.
func (r *Record) Remaining(now time.Time, p Policy) int {
	if r == nil {
		return p.MaxAttempts
	}
	if r.IsBlocked(now) {
		return 0
	}
	if r.startsFresh(now, p.Window) {
		return p.MaxAttempts
	}
	return max(p.MaxAttempts-r.Attempts, 0)
}

// Decide evaluates a record returned by an admit against policy p.
func (r *Record) Decide(now time.Time, p Policy) *Decision {
	d := &Decision{
		Limit:    p.MaxAttempts,
		Attempts: r.Attempts,
		ResetAt:  r.LastAttempt.Add(p.Window),
	}
	d.Allowed = !r.IsBlocked(now) && r.Attempts <= p.MaxAttempts
	if d.Allowed {
		d.Remaining = max(p.MaxAttempts-r.Attempts, 0)
		return d
	}
	if r.IsBlocked(now) {
		until := *r.BlockedUntil
		d.BlockedUntil = &until
		d.ResetAt = until
		d.RetryAfter = until.Sub(now)
	} else {
		d.RetryAfter = p.Window
	}
	return d
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed      bool
	Limit        int
	Attempts     int
	Remaining    int
	ResetAt      time.Time
	BlockedUntil *time.Time
	RetryAfter   time.Duration
	// FailedOpen is set when the counter store could not be consulted and the
	// request was admitted anyway.
	FailedOpen bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1 when denied.
func (d *Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	return max(secs, 1)
}
