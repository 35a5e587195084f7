package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vexscan/api/pkg/apierror"
)

// Timeout bounds the request context. Handlers observe the deadline through
// ctx; if one returns without writing after the deadline passed, a 504
// envelope is sent. Routes that stream large bodies should be registered
// outside this middleware.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 && rec.bytes == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				apierror.New(http.StatusGatewayTimeout, "TIMEOUT", "Request timeout").
					WriteJSONWithRequestID(w, GetRequestID(r.Context()))
			}
		})
	}
}
