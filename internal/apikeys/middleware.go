package apikeys

import (
	"net/http"
	"strconv"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
	"github.com/OpenParlCA/OP-Backend/internal/utils"
)

// Limiter is the per-key hourly budget check; process-local and shared
// implementations both satisfy it.
type Limiter interface {
	Check(key string, perHour int) ratelimit.Decision
}

// Require authenticates every request with X-API-Key and applies the key's
// hourly rate limit. A key expiring between validation and response keeps its
// in-flight request.
func Require(svc *Service, limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				middleware.WriteError(w, r, http.StatusUnauthorized, "missing_api_key", "X-API-Key header required")
				return
			}

			key, err := svc.Validate(r.Context(), raw)
			if err != nil {
				middleware.WriteError(w, r, http.StatusUnauthorized, "invalid_api_key", "API key missing, expired, or inactive")
				return
			}

			d := limiter.Check("key:"+key.ID.String(), key.RequestsPerHour)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())+1))
				middleware.WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "API key request budget exhausted")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithAPIKeyID(r.Context(), key.ID.String())))
		})
	}
}
