// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/tracker"
)

// SearchSource is the tracker surface the search passthrough needs.
type SearchSource interface {
	Search(ctx context.Context, apiKey string, mode domain.Mode, pageNumber, pageSize int) ([]tracker.Listing, int, error)
}

// TorrentsHandler exposes a browse-style tracker search on behalf of a
// stored account, with the rule-style size and seeder bounds applied locally.
type TorrentsHandler struct {
	accounts *models.AccountStore
	source   SearchSource
}

func NewTorrentsHandler(accounts *models.AccountStore, source SearchSource) *TorrentsHandler {
	return &TorrentsHandler{accounts: accounts, source: source}
}

func (h *TorrentsHandler) Routes(r chi.Router) {
	r.Post("/search", h.Search)
}

type searchRequest struct {
	AccountID  int         `json:"accountId"`
	Mode       domain.Mode `json:"mode"`
	PageNumber int         `json:"pageNumber"`
	PageSize   int         `json:"pageSize"`
	MinSize    *float64    `json:"minSize,omitempty"` // GiB
	MaxSize    *float64    `json:"maxSize,omitempty"` // GiB
	MinSeeders *int        `json:"minSeeders,omitempty"`
	MaxSeeders *int        `json:"maxSeeders,omitempty"`
}

func (h *TorrentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeNormal
	}
	if !req.Mode.Valid() {
		RespondError(w, http.StatusBadRequest, "Unknown mode")
		return
	}
	if req.PageNumber <= 0 {
		req.PageNumber = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 100
	}

	account, err := h.accounts.Get(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Error().Err(err).Int("accountId", req.AccountID).Msg("failed to load account")
		RespondError(w, http.StatusInternalServerError, "Failed to load account")
		return
	}

	apiKey, err := h.accounts.GetDecryptedAPIKey(account)
	if err != nil {
		log.Error().Err(err).Str("account", account.Username).Msg("failed to decrypt api key")
		RespondError(w, http.StatusInternalServerError, "Failed to decrypt API key")
		return
	}

	listings, total, err := h.source.Search(r.Context(), apiKey, req.Mode, req.PageNumber, req.PageSize)
	if err != nil {
		log.Error().Err(err).Str("account", account.Username).Msg("tracker search failed")
		RespondError(w, http.StatusBadGateway, "Tracker search failed: "+err.Error())
		return
	}

	filtered := make([]tracker.Listing, 0, len(listings))
	for _, listing := range listings {
		if matchesBounds(&listing, &req) {
			filtered = append(filtered, listing)
		}
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"torrents": filtered,
		"total":    total,
	})
}

// matchesBounds applies the optional size and seeder windows. The tracker
// does not filter on these server-side, so the page total stays unfiltered.
func matchesBounds(listing *tracker.Listing, req *searchRequest) bool {
	sizeGiB := listing.SizeGiB()
	if req.MinSize != nil && sizeGiB < *req.MinSize {
		return false
	}
	if req.MaxSize != nil && sizeGiB > *req.MaxSize {
		return false
	}
	if req.MinSeeders != nil && listing.Seeders < *req.MinSeeders {
		return false
	}
	if req.MaxSeeders != nil && listing.Seeders > *req.MaxSeeders {
		return false
	}
	return true
}
