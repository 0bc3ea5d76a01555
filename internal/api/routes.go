package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OpenParlCA/OP-Backend/internal/prefs"
)

// SetupRoutes builds the jurisdiction-scoped API router. The caller mounts it
// under /api/v1/{jurisdiction} behind the API key wall.
func (h *Handler) SetupRoutes(prefsHandler *prefs.Handler) http.Handler {
	r := chi.NewRouter()

	r.Route("/bills", func(r chi.Router) {
		r.Get("/", h.ListBillsHandler)
		r.Get("/search", h.SearchBillsHandler)
		r.Get("/{id}", h.GetBillHandler)
	})

	r.Route("/politicians", func(r chi.Router) {
		r.Get("/", h.ListPoliticiansHandler)
		r.Get("/{id}", h.GetPoliticianHandler)
	})

	r.Route("/votes", func(r chi.Router) {
		r.Get("/", h.ListVotesHandler)
		r.Get("/{natural_id}", h.GetVoteHandler)
		r.Get("/{natural_id}/records", h.ListVoteRecordsHandler)
	})

	r.Route("/committees", func(r chi.Router) {
		r.Get("/", h.ListCommitteesHandler)
		r.Get("/{natural_id}", h.GetCommitteeHandler)
		r.Get("/{natural_id}/meetings", h.ListMeetingsHandler)
	})

	r.Route("/debates", func(r chi.Router) {
		r.Get("/", h.ListDebatesHandler)
		r.Get("/{natural_id}", h.GetDebateHandler)
		r.Get("/{natural_id}/speeches", h.ListSpeechesHandler)
	})

	r.Get("/search", h.SearchHandler)

	r.Route("/preferences", func(r chi.Router) {
		r.Post("/ignore", prefsHandler.IgnoreHandler)
		r.Delete("/ignore", prefsHandler.UnignoreHandler)
		r.Get("/ignored", prefsHandler.ListIgnoredHandler)
		r.Post("/feed-tokens", prefsHandler.CreateTokenHandler)
		r.Delete("/feed-tokens", prefsHandler.RevokeTokenHandler)
	})

	return r
}
