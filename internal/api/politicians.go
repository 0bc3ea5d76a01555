package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

func (h *Handler) ListPoliticiansHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	f := parl.PoliticianFilter{
		Jurisdiction: jurisdiction(r),
		Party:        r.URL.Query().Get("party"),
		Riding:       r.URL.Query().Get("riding"),
		CurrentOnly:  boolParam(r, "current_only"),
	}
	people, total, err := h.politicians.List(r.Context(), f, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(people, len(people), total, limit, offset))
}

func (h *Handler) GetPoliticianHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		notFound(w, r)
		return
	}
	p, err := h.politicians.GetByID(r.Context(), id)
	if err == parl.ErrNotFound {
		notFound(w, r)
		return
	}
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}
