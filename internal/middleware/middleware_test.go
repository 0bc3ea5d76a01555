package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/utils"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestRequestID_Generated verifies every request gets a correlation ID echoed
// on the response and placed in context.
func TestRequestID_Generated(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = utils.GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	middleware.RequestID(inner).ServeHTTP(rec, req)

	header := rec.Header().Get("X-Request-Id")
	if header == "" {
		t.Fatal("X-Request-Id header missing")
	}
	if ctxID != header {
		t.Errorf("context ID %q != header ID %q", ctxID, header)
	}
}

// TestRequestID_Propagated verifies a proxy-supplied ID is kept.
func TestRequestID_Propagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-Id", "upstream-id-123")
	rec := httptest.NewRecorder()
	middleware.RequestID(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "upstream-id-123" {
		t.Errorf("X-Request-Id = %q, want upstream value", got)
	}
}

// TestRecoverer verifies a panicking handler becomes a 500 JSON envelope and
// leaks no stack trace to the client.
func TestRecoverer(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	middleware.RequestID(middleware.Recoverer(panicking)).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body struct {
		Error middleware.ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if body.Error.Code != "internal_error" || body.Error.RequestID == "" {
		t.Errorf("envelope = %+v", body.Error)
	}
	if strings.Contains(rec.Body.String(), "kaboom") {
		t.Error("panic value leaked to client")
	}
}

// TestCORS_AllowedOrigin verifies allow-listed origins are echoed back.
func TestCORS_AllowedOrigin(t *testing.T) {
	mw := middleware.CORS([]string{"https://app.example.org"})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://app.example.org")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.org" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

// TestCORS_UnknownOrigin verifies unknown origins get no CORS grant.
func TestCORS_UnknownOrigin(t *testing.T) {
	mw := middleware.CORS([]string{"https://app.example.org"})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

// TestCORS_Preflight verifies OPTIONS short-circuits with 204.
func TestCORS_Preflight(t *testing.T) {
	mw := middleware.CORS(nil)
	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

// TestAnonID_Valid verifies a well-formed device ID lands in context.
func TestAnonID_Valid(t *testing.T) {
	const device = "a1b2c3d4-e5f6-a1b2-c3d4-e5f6a1b2c3d4"

	var gotDevice string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDevice, _ = utils.GetDeviceIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Anon-Id", device)
	rec := httptest.NewRecorder()
	middleware.AnonID(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotDevice != device {
		t.Errorf("device in context = %q", gotDevice)
	}
}

// TestAnonID_Invalid verifies malformed device IDs are rejected with 400.
func TestAnonID_Invalid(t *testing.T) {
	for _, bad := range []string{"short", strings.Repeat("x", 200), "has space " + strings.Repeat("a", 30), "under_score" + strings.Repeat("a", 25)} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Anon-Id", bad)
		rec := httptest.NewRecorder()
		middleware.AnonID(okHandler()).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("X-Anon-Id %q: status = %d, want 400", bad, rec.Code)
		}
	}
}

// TestAnonID_Absent verifies requests without the header pass through.
func TestAnonID_Absent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	middleware.AnonID(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

// TestAuthFailureThrottle verifies repeated 401s from one IP get cut off with
// 429 while fresh IPs are unaffected.
func TestAuthFailureThrottle(t *testing.T) {
	always401 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mw := middleware.AuthFailureThrottle(3)
	handler := mw(always401)

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := do("10.0.0.1:1234"); code != http.StatusUnauthorized {
			t.Fatalf("request %d: status = %d, want 401", i+1, code)
		}
	}
	if code := do("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("over-budget status = %d, want 429", code)
	}
	if code := do("10.0.0.2:1234"); code != http.StatusUnauthorized {
		t.Errorf("fresh IP status = %d, want 401", code)
	}
}
