package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"electorate/pkg/platform/httputil"
	"electorate/pkg/requestcontext"
)

// Middleware throttles routes by endpoint class.
type Middleware struct {
	limiter  *Limiter
	disabled bool
}

// NewMiddleware wraps a limiter. disabled skips throttling entirely, for
// development mode and tests.
func NewMiddleware(limiter *Limiter, disabled bool) *Middleware {
	return &Middleware{limiter: limiter, disabled: disabled}
}

// Throttle returns the middleware for one endpoint class.
func (m *Middleware) Throttle(class EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			res := m.limiter.CheckIP(r.Context(), requestcontext.ClientIP(r.Context()), class)
			writeHeaders(w, res)
			if !res.Allowed {
				retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limited",
					"error_description": "too many requests, retry later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeHeaders(w http.ResponseWriter, res *Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}
