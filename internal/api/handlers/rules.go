// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/models"
)

type RulesHandler struct {
	store *models.RuleStore
}

func NewRulesHandler(store *models.RuleStore) *RulesHandler {
	return &RulesHandler{store: store}
}

func (h *RulesHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/toggle", h.Toggle)
	})
}

func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list rules")
		RespondError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}
	RespondJSON(w, http.StatusOK, rules)
}

func (h *RulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			RespondError(w, http.StatusNotFound, "Rule not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to load rule")
		RespondError(w, http.StatusInternalServerError, "Failed to load rule")
		return
	}
	RespondJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	created, err := h.store.Create(r.Context(), &rule)
	if err != nil {
		log.Error().Err(err).Msg("failed to create rule")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusCreated, created)
}

func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updated, err := h.store.Update(r.Context(), id, &rule)
	if err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			RespondError(w, http.StatusNotFound, "Rule not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to update rule")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			RespondError(w, http.StatusNotFound, "Rule not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to delete rule")
		RespondError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"message": "Rule deleted"})
}

// Toggle flips a rule's enabled flag; edits take effect on the next poll.
func (h *RulesHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			RespondError(w, http.StatusNotFound, "Rule not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to load rule")
		return
	}

	updated, err := h.store.SetEnabled(r.Context(), id, !rule.IsEnabled)
	if err != nil {
		log.Error().Err(err).Int("id", id).Msg("failed to toggle rule")
		RespondError(w, http.StatusInternalServerError, "Failed to toggle rule")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}
