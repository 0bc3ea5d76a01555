// Package api is the read-only JSON surface over the persisted model:
// paginated lists, detail lookups, and search, all scoped by jurisdiction.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/cache"
	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
	"github.com/OpenParlCA/OP-Backend/internal/utils"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Handler struct {
	bills       *parl.BillRepo
	politicians *parl.PoliticianRepo
	votes       *parl.VoteRepo
	committees  *parl.CommitteeRepo
	debates     *parl.DebateRepo
	search      *parl.SearchService
	prefs       *prefs.Service
	// store caches search responses; nil disables that.
	store cache.Store
}

func NewHandler(bills *parl.BillRepo, politicians *parl.PoliticianRepo, votes *parl.VoteRepo,
	committees *parl.CommitteeRepo, debates *parl.DebateRepo,
	search *parl.SearchService, prefsSvc *prefs.Service, store cache.Store) *Handler {
	return &Handler{
		bills:       bills,
		politicians: politicians,
		votes:       votes,
		committees:  committees,
		debates:     debates,
		search:      search,
		prefs:       prefsSvc,
		store:       store,
	}
}

// Page is the list envelope every collection endpoint returns.
type Page struct {
	Items   any   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// newPage computes has_more from what was actually returned, so limit=0 pages
// still report whether anything exists past the cursor.
func newPage(items any, returned int, total int64, limit, offset int) Page {
	return Page{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+returned) < total,
	}
}

func jurisdiction(r *http.Request) string {
	return chi.URLParam(r, "jurisdiction")
}

// pagination parses limit/offset. Unparseable values are 400s; out-of-range
// values are 422s. limit=0 is a legal "count only" request.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = DefaultLimit
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", "limit must be an integer")
			return 0, 0, false
		}
		if n < 0 || n > MaxLimit {
			middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "limit must be between 0 and 200")
			return 0, 0, false
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", "offset must be an integer")
			return 0, 0, false
		}
		if n < 0 {
			middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "offset must not be negative")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// intParam parses an optional positive integer query parameter.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", name+" must be an integer")
		return 0, false
	}
	if n < 0 {
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", name+" must not be negative")
		return 0, false
	}
	return n, true
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

// ignoredIDs is the device's ignore set, empty when no device header rode in.
func (h *Handler) ignoredIDs(r *http.Request) ([]uuid.UUID, error) {
	deviceID, ok := utils.GetDeviceIDFromContext(r.Context())
	if !ok {
		return nil, nil
	}
	return h.prefs.IgnoredBillIDs(r.Context(), deviceID)
}

func internalError(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusNotFound, "not_found", "unknown resource")
}
