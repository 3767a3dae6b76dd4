// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/reconcile"
)

// 16 MiB is plenty for any .torrent file.
const maxTorrentUpload = 16 << 20

type HistoryHandler struct {
	downloads *models.DownloadStore
	pool      *downloader.Pool
	reconcile *reconcile.Service
}

func NewHistoryHandler(downloads *models.DownloadStore, pool *downloader.Pool, reconcileService *reconcile.Service) *HistoryHandler {
	return &HistoryHandler{
		downloads: downloads,
		pool:      pool,
		reconcile: reconcileService,
	}
}

func (h *HistoryHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Delete("/", h.Clear)
	r.Post("/sync-status", h.SyncStatus)
	r.Post("/clear-deleted", h.ClearDeleted)
	r.Post("/upload-torrent", h.UploadTorrent)
	r.Get("/downloader-tags/{id}", h.DownloaderTags)
	r.Delete("/{id}", h.Delete)
}

func filterFromQuery(r *http.Request) models.DownloadFilter {
	q := r.URL.Query()
	filter := models.DownloadFilter{
		Status: domain.DownloadStatus(q.Get("status")),
		Search: q.Get("search"),
	}
	filter.AccountID, _ = strconv.Atoi(q.Get("accountId"))
	filter.RuleID, _ = strconv.Atoi(q.Get("ruleId"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filter
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	records, total, err := h.downloads.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("failed to list download records")
		RespondError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	if err := h.downloads.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrDownloadNotFound) {
			RespondError(w, http.StatusNotFound, "Record not found")
			return
		}
		log.Error().Err(err).Int("id", id).Msg("failed to delete record")
		RespondError(w, http.StatusInternalServerError, "Failed to delete record")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"message": "Record deleted"})
}

// Clear removes records matching the query-scoped filter. Only the record
// rows go away; nothing is touched on the download clients.
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.downloads.Clear(r.Context(), filterFromQuery(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to clear history")
		RespondError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// SyncStatus runs a manual reconcile across all downloaders. With
// importUnmapped set, handles the engine never pushed become records too.
func (h *HistoryHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	importUnmapped := r.URL.Query().Get("importNew") == "true"

	changes := h.reconcile.RunAll(r.Context(), importUnmapped)
	RespondJSON(w, http.StatusOK, map[string]any{
		"changes": changes,
		"applied": len(changes),
	})
}

func (h *HistoryHandler) ClearDeleted(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.downloads.ClearDeleted(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to clear deleted records")
		RespondError(w, http.StatusInternalServerError, "Failed to clear deleted records")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// UploadTorrent pushes a user-supplied .torrent straight to a downloader,
// bypassing rule matching but still producing a record so the engine tracks
// it from here on.
func (h *HistoryHandler) UploadTorrent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxTorrentUpload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid multipart payload")
		return
	}

	downloaderID, err := strconv.Atoi(r.FormValue("downloaderId"))
	if err != nil || downloaderID <= 0 {
		RespondError(w, http.StatusBadRequest, "downloaderId is required")
		return
	}

	file, header, err := r.FormFile("torrent")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "torrent file is required")
		return
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, maxTorrentUpload))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Failed to read torrent file")
		return
	}

	meta, err := downloader.ParseTorrent(fileData)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Not a valid torrent file")
		return
	}
	infoHash := meta.InfoHash

	if existing, err := h.downloads.GetByHandle(r.Context(), downloaderID, infoHash); err == nil && !existing.Status.Terminal() {
		RespondError(w, http.StatusConflict, "Torrent is already tracked on this downloader")
		return
	}

	client, err := h.pool.Get(r.Context(), downloaderID)
	if err != nil {
		if errors.Is(err, downloader.ErrClientNotFound) {
			RespondError(w, http.StatusNotFound, "Downloader not found")
			return
		}
		RespondError(w, http.StatusBadGateway, "Downloader unavailable: "+err.Error())
		return
	}

	var tags []string
	if raw := strings.TrimSpace(r.FormValue("tags")); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	if err := client.AddTorrent(r.Context(), fileData, downloader.AddOptions{
		SavePath: r.FormValue("savePath"),
		Tags:     tags,
	}); err != nil {
		log.Error().Err(err).Int("downloaderId", downloaderID).Msg("manual push failed")
		RespondError(w, http.StatusBadGateway, "Push failed: "+err.Error())
		return
	}

	name := meta.Name
	if name == "" {
		name = strings.TrimSuffix(header.Filename, ".torrent")
	}
	record, err := h.downloads.Create(r.Context(), &models.DownloadRecord{
		TorrentID:    infoHash,
		TorrentName:  name,
		TorrentSize:  meta.Size,
		DownloaderID: &downloaderID,
		InfoHash:     &infoHash,
		Status:       domain.StatusPending,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record manual push")
		RespondError(w, http.StatusInternalServerError, "Pushed, but failed to record")
		return
	}

	log.Info().
		Int("recordId", record.ID).
		Str("infoHash", infoHash).
		Str("name", name).
		Msg("manually pushed torrent")
	RespondJSON(w, http.StatusCreated, record)
}

func (h *HistoryHandler) DownloaderTags(w http.ResponseWriter, r *http.Request) {
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
		RespondError(w, http.StatusBadGateway, "Downloader unavailable: "+err.Error())
		return
	}

	tags, err := client.ListTags(r.Context())
	if err != nil {
		RespondError(w, http.StatusBadGateway, "Failed to list tags: "+err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, tags)
}
