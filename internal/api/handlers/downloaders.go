// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
)

type DownloadersHandler struct {
	store *models.DownloaderStore
	pool  *downloader.Pool
}

func NewDownloadersHandler(store *models.DownloaderStore, pool *downloader.Pool) *DownloadersHandler {
	return &DownloadersHandler{store: store, pool: pool}
}

func (h *DownloadersHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/test", h.TestConnection)
		r.Get("/free-space", h.FreeSpace)
	})
}

type downloaderPayload struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   *bool  `json:"useSsl"`
	IsActive *bool  `json:"isActive"`
}

func (h *DownloadersHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list downloaders")
		RespondError(w, http.StatusInternalServerError, "Failed to list downloaders")
		return
	}
	RespondJSON(w, http.StatusOK, clients)
}

func (h *DownloadersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload downloaderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	useSSL := payload.UseSSL != nil && *payload.UseSSL
	client, err := h.store.Create(r.Context(), payload.Name, domain.DownloaderType(payload.Type),
		payload.Host, payload.Port, payload.Username, payload.Password, useSSL)
	if err != nil {
		log.Error().Err(err).Msg("failed to create downloader")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusCreated, client)
}

func (h *DownloadersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var payload downloaderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	client, err := h.store.Update(r.Context(), id, payload.Name, payload.Host, payload.Port,
		payload.Username, payload.Password, payload.UseSSL, payload.IsActive)
	if err != nil {
		if errors.Is(err, models.ErrDownloaderNotFound) {
			RespondError(w, http.StatusNotFound, "Downloader not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to update downloader")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Cached connections hold the old credentials.
	h.pool.Invalidate(id)
	RespondJSON(w, http.StatusOK, client)
}

func (h *DownloadersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrDownloaderNotFound) {
			RespondError(w, http.StatusNotFound, "Downloader not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to delete downloader")
		RespondError(w, http.StatusInternalServerError, "Failed to delete downloader")
		return
	}

	h.pool.Invalidate(id)
	RespondJSON(w, http.StatusOK, map[string]string{"message": "Downloader deleted"})
}

func (h *DownloadersHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	client, err := h.pool.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, downloader.ErrClientNotFound) {
			RespondError(w, http.StatusNotFound, "Downloader not found")
			return
		}
		RespondError(w, http.StatusBadGateway, "Connection failed: "+err.Error())
		return
	}

	if err := client.TestConnection(r.Context()); err != nil {
		RespondJSON(w, http.StatusOK, map[string]any{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func (h *DownloadersHandler) FreeSpace(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	client, err := h.pool.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, downloader.ErrClientNotFound) {
			RespondError(w, http.StatusNotFound, "Downloader not found")
			return
		}
		RespondError(w, http.StatusBadGateway, "Connection failed: "+err.Error())
		return
	}

	stats, err := client.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Int("id", id).Msg("failed to read downloader stats")
		RespondError(w, http.StatusBadGateway, "Failed to read stats: "+err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"freeSpaceBytes": stats.FreeSpaceBytes,
		"downloadSpeed":  stats.DownloadSpeed,
		"uploadSpeed":    stats.UploadSpeed,
	})
}
