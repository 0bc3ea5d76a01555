// Package middleware carries the HTTP edge shared by the API and feed
// surfaces: request IDs, CORS, panic recovery, device identity, and the one
// place error categories map to status codes and the JSON error envelope.
package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
	"github.com/OpenParlCA/OP-Backend/internal/utils"
)

// ErrorBody is the stable error shape every non-2xx JSON response carries.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// WriteError emits the JSON error envelope with the request's correlation ID.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	reqID, _ := utils.GetRequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: reqID,
	}})
}

// WriteJSON emits a 200-family JSON body.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RequestID assigns each request a correlation ID, honoring one supplied by
// an upstream proxy, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(utils.WithRequestID(r.Context(), id)))
	})
}

// Recoverer converts panics into 500 envelopes with the correlation ID.
// Stack traces go to the log, never to the client.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqID, _ := utils.GetRequestIDFromContext(r.Context())
				log.Printf("[http] panic request=%s: %v\n%s", reqID, rec, debug.Stack())
				WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS echoes the origin back only when it is on the configured allow-list.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Anon-Id")
			}
			w.Header().Set("Access-Control-Expose-Headers",
				"X-Request-Id, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// anonIDPattern is the device identity contract: 32-128 chars, alphanumeric
// plus hyphen.
var anonIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{32,128}$`)

// ValidAnonID reports whether raw is an acceptable X-Anon-Id value.
func ValidAnonID(raw string) bool {
	return anonIDPattern.MatchString(raw)
}

// AnonID extracts a valid X-Anon-Id into the request context. A malformed
// header is rejected rather than silently dropped so clients notice broken
// integrations.
func AnonID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Anon-Id")
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !ValidAnonID(raw) {
			WriteError(w, r, http.StatusBadRequest, "invalid_anon_id", "X-Anon-Id must be 32-128 alphanumeric or hyphen characters")
			return
		}
		next.ServeHTTP(w, r.WithContext(utils.WithDeviceID(r.Context(), raw)))
	})
}

// ClientIP extracts the request's source IP, trusting X-Forwarded-For's first
// hop when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthFailureThrottle rate-limits authentication failures per source IP to
// resist key enumeration. An IP that has burned its 401 budget gets 429
// before any key lookup happens; successful requests never consume budget.
func AuthFailureThrottle(perHour int) func(http.Handler) http.Handler {
	failures := ratelimit.NewFailureWindow(perHour)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if blocked, retryAfter := failures.Blocked(ip); blocked {
				w.Header().Set("Retry-After", formatSeconds(retryAfter))
				WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "too many failed authentication attempts")
				return
			}
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.status == http.StatusUnauthorized {
				failures.Record(ip)
			}
		})
	}
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// statusWriter observes the status the inner handler chose.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
