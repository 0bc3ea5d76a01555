package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

func (h *Handler) ListDebatesHandler(w http.ResponseWriter, r *http.Request) {
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
	f := parl.DebateFilter{
		Jurisdiction: jurisdiction(r),
		Parliament:   parliament,
		Session:      session,
	}
	debates, total, err := h.debates.List(r.Context(), f, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(debates, len(debates), total, limit, offset))
}

type debateDetail struct {
	parl.Debate
	Speeches []parl.Speech `json:"speeches,omitempty"`
}

func (h *Handler) GetDebateHandler(w http.ResponseWriter, r *http.Request) {
	debate, err := h.debates.GetByNaturalKey(r.Context(), jurisdiction(r), chi.URLParam(r, "natural_id"))
	if err == parl.ErrNotFound {
		notFound(w, r)
		return
	}
	if err != nil {
		internalError(w, r)
		return
	}

	detail := debateDetail{Debate: *debate}
	if boolParam(r, "include_speeches") {
		speeches, _, err := h.debates.ListSpeeches(r.Context(), debate.ID, nil, parl.ListOpts{Limit: MaxLimit})
		if err != nil {
			internalError(w, r)
			return
		}
		detail.Speeches = speeches
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) ListSpeechesHandler(w http.ResponseWriter, r *http.Request) {
	debate, err := h.debates.GetByNaturalKey(r.Context(), jurisdiction(r), chi.URLParam(r, "natural_id"))
	if err == parl.ErrNotFound {
		notFound(w, r)
		return
	}
	if err != nil {
		internalError(w, r)
		return
	}

	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	var politicianID *uuid.UUID
	if raw := r.URL.Query().Get("politician_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", "politician_id must be a UUID")
			return
		}
		politicianID = &id
	}

	speeches, total, err := h.debates.ListSpeeches(r.Context(), debate.ID, politicianID, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(speeches, len(speeches), total, limit, offset))
}
