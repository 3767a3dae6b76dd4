// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/accountsync"
)

type AccountsHandler struct {
	store   *models.AccountStore
	refresh *accountsync.Service
}

func NewAccountsHandler(store *models.AccountStore, refresh *accountsync.Service) *AccountsHandler {
	return &AccountsHandler{store: store, refresh: refresh}
}

func (h *AccountsHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/refresh", h.Refresh)
	})
}

type accountPayload struct {
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
	IsActive *bool  `json:"isActive"`
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts")
		RespondError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}
	RespondJSON(w, http.StatusOK, accounts)
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if strings.TrimSpace(payload.Username) == "" || strings.TrimSpace(payload.APIKey) == "" {
		RespondError(w, http.StatusBadRequest, "Username and API key are required")
		return
	}

	account, err := h.store.Create(r.Context(), payload.Username, payload.APIKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to create account")
		RespondError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}

func (h *AccountsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var payload accountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	account, err := h.store.Update(r.Context(), id, payload.Username, payload.APIKey, payload.IsActive)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to update account")
		RespondError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to delete account")
		RespondError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}

// Refresh pulls the tracker profile for one account on demand.
func (h *AccountsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	account, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to load account")
		RespondError(w, http.StatusInternalServerError, "Failed to load account")
		return
	}

	if err := h.refresh.Refresh(r.Context(), account); err != nil {
		log.Error().Err(err).Str("account", account.Username).Msg("manual refresh failed")
		RespondError(w, http.StatusBadGateway, "Tracker refresh failed: "+err.Error())
		return
	}

	account, err = h.store.Get(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to reload account")
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

// urlID parses the {id} route parameter, writing a 400 on bad input.
func urlID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}
