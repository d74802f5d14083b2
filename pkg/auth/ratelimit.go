package auth

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/Mindburn-Labs/veridecide/pkg/api"
)

// RateLimitMiddleware enforces per-tenant rate limiting at the HTTP layer.
// The bucket key is the tenant of the authenticated Principal, falling back
// to the remote IP for public paths. On rate limit exceeded, it returns 429
// with a Retry-After header.
func RateLimitMiddleware(limiter api.Limiter, retryAfterSecs int) func(http.Handler) http.Handler {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail open if no limiter configured (dev mode)
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := "ip:" + remoteIP(r)
			if tenantID, err := GetTenantID(r.Context()); err == nil && tenantID != "" {
				key = "tenant:" + tenantID
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Fail open on limiter errors to avoid blocking all traffic
				slog.Warn("rate limiter unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				api.WriteTooManyRequests(w, retryAfterSecs)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
