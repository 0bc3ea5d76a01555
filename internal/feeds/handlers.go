package feeds

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
)

// Handler is the HTTP surface for feeds. Feed endpoints sit outside the API
// key wall; abuse control is the per-IP, per-token, and global limiters.
type Handler struct {
	svc     *Service
	limiter *ratelimit.Hourly
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, limiter: ratelimit.NewHourly()}
}

// SetupRoutes mounts every scope in both formats under the feed base path.
func (h *Handler) SetupRoutes(r chi.Router) {
	for _, format := range []string{"xml", "atom"} {
		f := format
		r.Get("/all."+f, h.public(f, func(*http.Request) (scopeRequest, error) {
			return h.svc.allScope(), nil
		}))
		r.Get("/bills/latest."+f, h.public(f, func(*http.Request) (scopeRequest, error) {
			return h.svc.billsLatestScope(), nil
		}))
		r.Get("/bills/tag/{tag}."+f, h.public(f, func(r *http.Request) (scopeRequest, error) {
			return h.svc.billsTagScope(chi.URLParam(r, "tag")), nil
		}))
		r.Get("/bill/{bill_id}."+f, h.public(f, h.billScope))
		r.Get("/mp/{politician_id}."+f, h.public(f, h.mpScope))
		r.Get("/committee/{committee_id}."+f, h.public(f, h.committeeScope))
		r.Get("/p/{token}."+f, h.personal(f))
	}
}

func (h *Handler) ipPerHour() int {
	if h.svc.cfg.IPPerHour > 0 {
		return h.svc.cfg.IPPerHour
	}
	return DefaultIPPerHour
}

func (h *Handler) tokenPerHour() int {
	if h.svc.cfg.TokenPerHour > 0 {
		return h.svc.cfg.TokenPerHour
	}
	return DefaultTokenPerHour
}

func (h *Handler) globalPerHour() int {
	if h.svc.cfg.GlobalPerHour > 0 {
		return h.svc.cfg.GlobalPerHour
	}
	return DefaultGlobalPerHour
}

// allow applies the process-global cap plus one client-scoped budget.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, clientKey string, clientPerHour int) bool {
	for _, check := range []ratelimit.Decision{
		h.limiter.Check("feeds:global", h.globalPerHour()),
		h.limiter.Check(clientKey, clientPerHour),
	} {
		if !check.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(check.RetryAfter.Seconds())+1))
			middleware.WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "feed request budget exhausted")
			return false
		}
	}
	return true
}

func (h *Handler) public(format string, resolve func(*http.Request) (scopeRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allow(w, r, "feeds:ip:"+middleware.ClientIP(r), h.ipPerHour()) {
			return
		}
		req, err := resolve(r)
		if err == parl.ErrNotFound {
			middleware.WriteError(w, r, http.StatusNotFound, "not_found", "unknown resource")
			return
		}
		if err != nil {
			middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if err := h.svc.serve(w, r, format, req); err != nil {
			middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		}
	}
}

func (h *Handler) personal(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		deviceID, err := h.svc.prefs.ResolveToken(r.Context(), token)
		if err == prefs.ErrTokenNotFound {
			middleware.WriteError(w, r, http.StatusNotFound, "not_found", "unknown token")
			return
		}
		if err != nil {
			middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !h.allow(w, r, "feeds:token:"+token, h.tokenPerHour()) {
			return
		}
		ignored, err := h.svc.prefs.IgnoredBillIDs(r.Context(), deviceID)
		if err != nil {
			middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if err := h.svc.serve(w, r, format, h.svc.personalScope(token, deviceID, ignored)); err != nil {
			middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		}
	}
}

// Scope resolvers that need an entity lookup.

func (h *Handler) billScope(r *http.Request) (scopeRequest, error) {
	id, err := uuid.Parse(chi.URLParam(r, "bill_id"))
	if err != nil {
		return scopeRequest{}, parl.ErrNotFound
	}
	bill, err := h.svc.bills.GetByID(r.Context(), id)
	if err != nil {
		return scopeRequest{}, err
	}
	return h.svc.billScope(bill), nil
}

func (h *Handler) mpScope(r *http.Request) (scopeRequest, error) {
	id, err := uuid.Parse(chi.URLParam(r, "politician_id"))
	if err != nil {
		return scopeRequest{}, parl.ErrNotFound
	}
	p, err := h.svc.politicians.GetByID(r.Context(), id)
	if err != nil {
		return scopeRequest{}, err
	}
	return h.svc.mpScope(p), nil
}

func (h *Handler) committeeScope(r *http.Request) (scopeRequest, error) {
	id, err := uuid.Parse(chi.URLParam(r, "committee_id"))
	if err != nil {
		return scopeRequest{}, parl.ErrNotFound
	}
	c, err := h.svc.committees.GetByID(r.Context(), id)
	if err != nil {
		return scopeRequest{}, err
	}
	return h.svc.committeeScope(c), nil
}
