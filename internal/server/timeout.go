package server

import (
	"context"
	"net/http"
	"time"
)

// DispatchTimeoutHeader lets a caller shorten the deadline of one request,
// as a Go duration string such as "250ms".
const DispatchTimeoutHeader = "X-Dispatch-Timeout"

// TimeoutMiddleware bounds each request's context by limit, or by the
// shorter DispatchTimeoutHeader value when the caller sends a valid one.
// Dispatch checks the deadline between plugins; a plugin that is already
// running is not interrupted.
func TimeoutMiddleware(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout := limit
			if v := r.Header.Get(DispatchTimeoutHeader); v != "" {
				if d, err := time.ParseDuration(v); err == nil && d > 0 && d < limit {
					timeout = d
				}
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
