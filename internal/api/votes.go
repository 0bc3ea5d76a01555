package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

func voteResultParam(w http.ResponseWriter, r *http.Request) (parl.VoteResult, bool) {
	switch raw := r.URL.Query().Get("result"); raw {
	case "":
		return "", true
	case string(parl.ResultPassed), string(parl.ResultDefeated), string(parl.ResultTied):
		return parl.VoteResult(raw), true
	default:
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "result must be Passed, Defeated, or Tied")
		return "", false
	}
}

func (h *Handler) ListVotesHandler(w http.ResponseWriter, r *http.Request) {
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
	result, ok := voteResultParam(w, r)
	if !ok {
		return
	}

	f := parl.VoteFilter{
		Jurisdiction: jurisdiction(r),
		Parliament:   parliament,
		Session:      session,
		Result:       result,
	}
	if raw := r.URL.Query().Get("bill_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", "bill_id must be a UUID")
			return
		}
		f.BillID = &id
	}

	votes, total, err := h.votes.List(r.Context(), f, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(votes, len(votes), total, limit, offset))
}

// voteDetail is the detail payload; records ride along when asked for.
type voteDetail struct {
	parl.Vote
	Records []parl.VoteRecord `json:"records,omitempty"`
}

func (h *Handler) GetVoteHandler(w http.ResponseWriter, r *http.Request) {
	vote, err := h.votes.GetByNaturalKey(r.Context(), jurisdiction(r), chi.URLParam(r, "natural_id"))
	if err == parl.ErrNotFound {
		notFound(w, r)
		return
	}
	if err != nil {
		internalError(w, r)
		return
	}

	detail := voteDetail{Vote: *vote}
	if boolParam(r, "include_records") {
		records, _, err := h.votes.ListRecords(r.Context(), vote.ID, "", parl.ListOpts{Limit: MaxLimit})
		if err != nil {
			internalError(w, r)
			return
		}
		detail.Records = records
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) ListVoteRecordsHandler(w http.ResponseWriter, r *http.Request) {
	vote, err := h.votes.GetByNaturalKey(r.Context(), jurisdiction(r), chi.URLParam(r, "natural_id"))
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
	var position parl.BallotPosition
	switch raw := r.URL.Query().Get("position"); raw {
	case "":
	case string(parl.PositionYea), string(parl.PositionNay), string(parl.PositionPaired), string(parl.PositionAbstain):
		position = parl.BallotPosition(raw)
	default:
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "position must be Yea, Nay, Paired, or Abstain")
		return
	}

	records, total, err := h.votes.ListRecords(r.Context(), vote.ID, position, parl.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		internalError(w, r)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newPage(records, len(records), total, limit, offset))
}
