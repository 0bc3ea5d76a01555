package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

// billSorts is the whitelist behind the bills sort contract. Values map to
// ORDER BY fragments; client input never reaches the query verbatim.
var billSorts = map[string]string{
	"introduced_date": "introduced_date",
	"number":          "number",
	"updated_at":      "updated_at",
}

func billOrder(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := r.URL.Query()
	sortKey := q.Get("sort")
	if sortKey == "" {
		return "", true // repository default
	}
	col, ok := billSorts[sortKey]
	if !ok {
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "sort must be one of introduced_date, number, updated_at")
		return "", false
	}
	dir := "DESC"
	switch q.Get("order") {
	case "", "desc":
	case "asc":
		dir = "ASC"
	default:
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "order must be asc or desc")
		return "", false
	}
	return col + " " + dir, true
}

func (h *Handler) ListBillsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	parliament, ok := intParam(w, r, "parliament")
	if !ok {
		return
	}
	session, ok := intParam(w, r, "session")
	if !ok {
		return
	}
	order, ok := billOrder(w, r)
	if !ok {
		return
	}

	excluded, err := h.ignoredIDs(r)
	if err != nil {
		internalError(w, r)
		return
	}

	f := parl.BillFilter{
		Jurisdiction: jurisdiction(r),
		Parliament:   parliament,
		Session:      session,
		Tag:          r.URL.Query().Get("tag"),
		ExcludeIDs:   excluded,
	}
	bills, total, err := h.bills.List(r.Context(), f, parl.ListOpts{Limit: limit, Offset: offset, Order: order})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(bills, len(bills), total, limit, offset))
}

func (h *Handler) GetBillHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		notFound(w, r)
		return
	}
	bill, err := h.bills.GetByID(r.Context(), id)
	if err == parl.ErrNotFound {
		notFound(w, r)
		return
	}
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, bill)
}

func (h *Handler) SearchBillsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", "q is required")
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	// The device's ignore set filters search hits too, same as lists.
	excluded, err := h.ignoredIDs(r)
	if err != nil {
		internalError(w, r)
		return
	}

	results, total, err := h.search.SearchBills(r.Context(), q, excluded, limit, offset)
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(results, len(results), total, limit, offset))
}
