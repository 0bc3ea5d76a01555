package prefs

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/utils"
)

// Handler exposes the personalization endpoints. Every route requires a valid
// X-Anon-Id.
type Handler struct {
	svc   *Service
	bills *parl.BillRepo
}

func NewHandler(svc *Service, bills *parl.BillRepo) *Handler {
	return &Handler{svc: svc, bills: bills}
}

type ignoreRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// parseIgnore validates the shared body of the ignore/unignore endpoints.
func (h *Handler) parseIgnore(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	deviceID, ok := utils.GetDeviceIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "missing_anon_id", "X-Anon-Id header required")
		return "", uuid.Nil, false
	}

	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return "", uuid.Nil, false
	}
	if req.EntityType != "bill" {
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_entity_type", "only entity_type \"bill\" is supported")
		return "", uuid.Nil, false
	}
	billID, err := uuid.Parse(req.EntityID)
	if err != nil {
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_entity_id", "entity_id must be a UUID")
		return "", uuid.Nil, false
	}
	return deviceID, billID, true
}

func (h *Handler) IgnoreHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, billID, ok := h.parseIgnore(w, r)
	if !ok {
		return
	}
	if _, err := h.bills.GetByID(r.Context(), billID); err == parl.ErrNotFound {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "unknown bill")
		return
	} else if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if err := h.svc.Ignore(r.Context(), deviceID, billID); err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ignored": true, "bill_id": billID})
}

func (h *Handler) UnignoreHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, billID, ok := h.parseIgnore(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unignore(r.Context(), deviceID, billID); err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ignored": false, "bill_id": billID})
}

func (h *Handler) ListIgnoredHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := utils.GetDeviceIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "missing_anon_id", "X-Anon-Id header required")
		return
	}
	ids, err := h.svc.IgnoredBillIDs(r.Context(), deviceID)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"bill_ids": ids})
}

func (h *Handler) CreateTokenHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := utils.GetDeviceIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "missing_anon_id", "X-Anon-Id header required")
		return
	}
	token, err := h.svc.CreateToken(r.Context(), deviceID)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	// The token appears in this response and nowhere else.
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{"token": token})
}

func (h *Handler) RevokeTokenHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := utils.GetDeviceIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "missing_anon_id", "X-Anon-Id header required")
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_body", "token required")
		return
	}

	// A device may only revoke its own tokens; anything else is a 404.
	owner, err := h.svc.ResolveToken(r.Context(), req.Token)
	if err != nil || owner != deviceID {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "unknown token")
		return
	}
	if err := h.svc.RevokeToken(r.Context(), req.Token); err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"revoked": true})
}
