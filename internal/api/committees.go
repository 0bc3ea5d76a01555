package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

func (h *Handler) ListCommitteesHandler(w http.ResponseWriter, r *http.Request) {
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
	f := parl.CommitteeFilter{
		Jurisdiction: jurisdiction(r),
		Parliament:   parliament,
		Session:      session,
		Chamber:      r.URL.Query().Get("chamber"),
	}
	committees, total, err := h.committees.List(r.Context(), f, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(committees, len(committees), total, limit, offset))
}

// getCommittee resolves the slug path segment to the committee's most recent
// incarnation.
func (h *Handler) getCommittee(w http.ResponseWriter, r *http.Request) (*parl.Committee, bool) {
	c, err := h.committees.GetBySlug(r.Context(), jurisdiction(r), chi.URLParam(r, "natural_id"))
	if err == parl.ErrNotFound {
		notFound(w, r)
		return nil, false
	}
	if err != nil {
		internalError(w, r)
		return nil, false
	}
	return c, true
}

func (h *Handler) GetCommitteeHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.getCommittee(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) ListMeetingsHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := h.getCommittee(w, r)
	if !ok {
		return
	}
	limit, offset, pok := pagination(w, r)
	if !pok {
		return
	}
	meetings, total, err := h.committees.ListMeetings(r.Context(), c.ID, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(meetings, len(meetings), total, limit, offset))
}
