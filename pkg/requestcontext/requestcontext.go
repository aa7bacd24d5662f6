// Package requestcontext carries request-scoped values through context.Context:
// the request clock, the request ID, and client metadata.
//
// Every component reads "now" through Now so that a single request observes one
// timestamp, and tests can pin the clock with WithTime.
package requestcontext

import (
	"context"
	"time"
)

type (
	timeKey      struct{}
	requestIDKey struct{}
	clientKey    struct{}
)

type clientMetadata struct {
	ip        string
	userAgent string
}

// Now returns the request-scoped time, falling back to time.Now() outside a request.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request clock.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}

// WithRequestID stores the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request ID or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithClientMetadata stores the resolved client IP and User-Agent.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientMetadata{ip: ip, userAgent: userAgent})
}

// ClientIP returns the resolved client IP or "".
func ClientIP(ctx context.Context) string {
	if m, ok := ctx.Value(clientKey{}).(clientMetadata); ok {
		return m.ip
	}
	return ""
}

// UserAgent returns the client User-Agent or "".
func UserAgent(ctx context.Context) string {
	if m, ok := ctx.Value(clientKey{}).(clientMetadata); ok {
		return m.userAgent
	}
	return ""
}
