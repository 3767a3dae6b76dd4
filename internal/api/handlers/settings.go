// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/scheduler"
)

type SettingsHandler struct {
	store     *models.SettingsStore
	scheduler *scheduler.Scheduler
}

func NewSettingsHandler(store *models.SettingsStore, sched *scheduler.Scheduler) *SettingsHandler {
	return &SettingsHandler{store: store, scheduler: sched}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/refresh-intervals", h.GetRefreshIntervals)
	r.Put("/refresh-intervals", h.UpdateRefreshIntervals)
	r.Get("/auto-delete", h.GetAutoDelete)
	r.Put("/auto-delete", h.UpdateAutoDelete)
	r.Get("/schedule-control", h.GetSchedule)
	r.Put("/schedule-control", h.UpdateSchedule)
	r.Get("/scheduler-status", h.SchedulerStatus)
	r.Post("/restart-scheduler", h.RestartScheduler)
}

func (h *SettingsHandler) GetRefreshIntervals(w http.ResponseWriter, r *http.Request) {
	intervals, err := h.store.GetRefreshIntervals(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load refresh intervals")
		RespondError(w, http.StatusInternalServerError, "Failed to load refresh intervals")
		return
	}
	RespondJSON(w, http.StatusOK, intervals)
}

// UpdateRefreshIntervals persists new cadences and restarts the scheduler so
// they take effect; in-flight runs finish first.
func (h *SettingsHandler) UpdateRefreshIntervals(w http.ResponseWriter, r *http.Request) {
	var intervals models.RefreshIntervals
	if err := json.NewDecoder(r.Body).Decode(&intervals); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.store.SetRefreshIntervals(r.Context(), &intervals); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.scheduler.Restart(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to restart scheduler")
		RespondError(w, http.StatusInternalServerError, "Saved, but scheduler restart failed")
		return
	}
	RespondJSON(w, http.StatusOK, &intervals)
}

func (h *SettingsHandler) GetAutoDelete(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetAutoDelete(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load auto-delete settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load auto-delete settings")
		return
	}
	RespondJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) UpdateAutoDelete(w http.ResponseWriter, r *http.Request) {
	var settings models.AutoDeleteSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.store.SetAutoDelete(r.Context(), &settings); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, &settings)
}

func (h *SettingsHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSchedule(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load schedule settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load schedule settings")
		return
	}
	RespondJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var settings models.ScheduleSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.store.SetSchedule(r.Context(), &settings); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, &settings)
}

func (h *SettingsHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}

func (h *SettingsHandler) RestartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Restart(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to restart scheduler")
		RespondError(w, http.StatusInternalServerError, "Failed to restart scheduler")
		return
	}
	RespondJSON(w, http.StatusOK, h.scheduler.Status(r.Context()))
}
