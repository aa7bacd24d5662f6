// Package requesttime captures the request clock once per HTTP request.
// All operations within a single request use the same "now", so a CSRF token
// minted and checked, or a limiter record written and read, agree on time.
package requesttime

import (
	"net/http"
	"time"

	"leadgate/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware reading the time from clock.
func WithClock(clock func() time.Time) func(http.Handler) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
