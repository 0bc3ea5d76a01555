package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

const searchCacheTTL = 5 * time.Minute

type searchResponse struct {
	Items   []parl.SearchResult `json:"items"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"has_more"`
}

// SearchHandler is the cross-entity search: bills and debates merged by
// score. Results are cached briefly per (query, type, page, ignore set).
func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_params", "q is required")
		return
	}
	entityType := r.URL.Query().Get("type")
	switch entityType {
	case "", "all", "bill", "debate":
	default:
		middleware.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_params", "type must be bill, debate, or all")
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	excluded, err := h.ignoredIDs(r)
	if err != nil {
		internalError(w, r)
		return
	}

	var cacheKey string
	if h.store != nil {
		sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d|%v",
			jurisdiction(r), q, entityType, limit, offset, excluded)))
		cacheKey = "search:" + hex.EncodeToString(sum[:16])
		if raw, found := h.store.Get(r.Context(), cacheKey); found {
			var cached searchResponse
			if json.Unmarshal(raw, &cached) == nil {
				middleware.WriteJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	var results []parl.SearchResult
	var total int64

	// Over-fetch each source by the full page window, merge, then cut.
	window := limit + offset
	if window == 0 {
		window = 1
	}
	if entityType == "" || entityType == "all" || entityType == "bill" {
		hits, n, err := h.search.SearchBills(r.Context(), q, excluded, window, 0)
		if err != nil {
			internalError(w, r)
			return
		}
		results = append(results, hits...)
		total += n
	}
	if entityType == "" || entityType == "all" || entityType == "debate" {
		hits, n, err := h.search.SearchDebates(r.Context(), q, window, 0)
		if err != nil {
			internalError(w, r)
			return
		}
		results = append(results, hits...)
		total += n
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if offset >= len(results) {
		results = []parl.SearchResult{}
	} else {
		end := offset + limit
		if end > len(results) {
			end = len(results)
		}
		results = results[offset:end]
	}

	resp := searchResponse{
		Items:   results,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(results)) < total,
	}
	if h.store != nil && cacheKey != "" {
		if raw, err := json.Marshal(resp); err == nil {
			h.store.Set(r.Context(), cacheKey, raw, searchCacheTTL)
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
