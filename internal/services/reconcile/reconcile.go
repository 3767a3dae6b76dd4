// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconcile maps live download-client state back onto download
// records: progress and seeding updates, deletions performed outside the
// engine, and imports of handles the engine never pushed.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/metrics"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/schedule"
)

// ClientPool resolves a downloader id to a live client.
type ClientPool interface {
	Get(ctx context.Context, downloaderID int) (downloader.Client, error)
}

// StatusChange records one transition applied during a reconcile pass.
type StatusChange struct {
	RecordID int                   `json:"recordId"`
	From     domain.DownloadStatus `json:"from"`
	To       domain.DownloadStatus `json:"to"`
}

type Service struct {
	downloads   *models.DownloadStore
	downloaders *models.DownloaderStore
	gate        *schedule.Gate
	pool        ClientPool
	metrics     *metrics.Manager
}

func NewService(downloads *models.DownloadStore, downloaders *models.DownloaderStore, gate *schedule.Gate, pool ClientPool) *Service {
	return &Service{
		downloads:   downloads,
		downloaders: downloaders,
		gate:        gate,
		pool:        pool,
	}
}

// SetMetrics attaches the transition counter. Safe to leave unset in tests.
func (s *Service) SetMetrics(m *metrics.Manager) {
	s.metrics = m
}

// Run is the periodic edition of RunAll, honoring the schedule gate on the
// auto-download window. Manual sync requests call RunAll directly and are
// never gated.
func (s *Service) Run(ctx context.Context) error {
	allowed, err := s.gate.Allowed(ctx, domain.TaskAutoDownload, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to evaluate schedule gate")
	}
	if !allowed {
		log.Debug().Msg("reconcile outside scheduled window, skipping cycle")
		return nil
	}
	s.RunAll(ctx, false)
	return nil
}

// RunAll reconciles every active downloader. Failures are isolated per
// downloader so one unreachable client does not stall the rest.
func (s *Service) RunAll(ctx context.Context, importUnmapped bool) []StatusChange {
	clients, err := s.downloaders.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list downloaders")
		return nil
	}

	var changes []StatusChange
	for _, d := range clients {
		if !d.IsActive {
			continue
		}
		c, err := s.Reconcile(ctx, d.ID, importUnmapped)
		if err != nil {
			log.Error().Err(err).Str("downloader", d.Name).Msg("reconcile failed")
			continue
		}
		changes = append(changes, c...)
	}
	return changes
}

// Reconcile pulls the current item list from one downloader and walks every
// non-terminal record with a handle there, stepping its status toward what
// the client reports. Running it twice with no client change applies nothing
// the second time.
func (s *Service) Reconcile(ctx context.Context, downloaderID int, importUnmapped bool) ([]StatusChange, error) {
	client, err := s.pool.Get(ctx, downloaderID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get downloader %d", downloaderID)
	}

	items, err := client.ListItems(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list client items")
	}

	byHash := make(map[string]downloader.Item, len(items))
	for _, item := range items {
		byHash[strings.ToLower(item.Hash)] = item
	}

	live, err := s.downloads.ListLive(ctx, downloaderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list live records")
	}

	var changes []StatusChange
	tracked := make(map[string]bool, len(live))
	for _, record := range live {
		hash := strings.ToLower(*record.InfoHash)
		tracked[hash] = true

		item, present := byHash[hash]
		var next domain.DownloadStatus
		if !present {
			// Removed outside the engine. Engine-initiated deletions are
			// already terminal and never show up in the live list.
			next = domain.StatusDeleted
		} else {
			next = nextStatus(record.Status, item)
		}

		if next == record.Status || !record.Status.CanTransition(next) {
			continue
		}
		if err := s.downloads.Transition(ctx, record.ID, next); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				// Another task moved the record first; its write wins.
				log.Debug().Int("recordId", record.ID).Str("next", string(next)).Msg("transition already superseded")
				continue
			}
			return changes, errors.Wrapf(err, "failed to transition record %d", record.ID)
		}
		if s.metrics != nil {
			s.metrics.ReconcileChanges.Inc()
		}
		changes = append(changes, StatusChange{RecordID: record.ID, From: record.Status, To: next})
	}

	if importUnmapped {
		imported, err := s.importUnmapped(ctx, downloaderID, items, tracked)
		if err != nil {
			return changes, err
		}
		changes = append(changes, imported...)
	}

	return changes, nil
}

// importUnmapped creates records for client items the engine never pushed,
// so manually added torrents participate in retention.
func (s *Service) importUnmapped(ctx context.Context, downloaderID int, items []downloader.Item, tracked map[string]bool) ([]StatusChange, error) {
	var changes []StatusChange
	for _, item := range items {
		hash := strings.ToLower(item.Hash)
		if tracked[hash] {
			continue
		}
		// Terminal records keep their handle; don't re-import those.
		if _, err := s.downloads.GetByHandle(ctx, downloaderID, hash); err == nil {
			continue
		} else if !errors.Is(err, models.ErrDownloadNotFound) {
			return changes, errors.Wrap(err, "failed to look up handle")
		}

		record, err := s.downloads.Create(ctx, &models.DownloadRecord{
			TorrentID:    hash,
			TorrentName:  item.Name,
			TorrentSize:  item.Size,
			DownloaderID: &downloaderID,
			InfoHash:     &hash,
			Status:       importStatus(item),
		})
		if err != nil {
			return changes, errors.Wrapf(err, "failed to import handle %s", hash)
		}

		log.Info().
			Int("recordId", record.ID).
			Str("infoHash", hash).
			Str("name", item.Name).
			Msg("imported unmanaged torrent")
		changes = append(changes, StatusChange{RecordID: record.ID, To: record.Status})
	}
	return changes, nil
}

// nextStatus returns the single lifecycle step toward what the client
// reports. A freshly finished download lands in completed first; the
// following pass moves it to seeding if the client still serves it.
func nextStatus(current domain.DownloadStatus, item downloader.Item) domain.DownloadStatus {
	if item.Progress >= 1 {
		if current == domain.StatusCompleted && isSeeding(item.State) {
			return domain.StatusSeeding
		}
		if current == domain.StatusSeeding {
			return current
		}
		return domain.StatusCompleted
	}

	switch {
	case isPaused(item.State):
		return domain.StatusPaused
	case isQueued(item.State):
		return domain.StatusQueued
	default:
		return domain.StatusDownloading
	}
}

func importStatus(item downloader.Item) domain.DownloadStatus {
	if item.Progress >= 1 {
		if isSeeding(item.State) {
			return domain.StatusSeeding
		}
		return domain.StatusCompleted
	}
	return domain.StatusDownloading
}

func isPaused(state string) bool {
	s := strings.ToLower(state)
	return strings.Contains(s, "paused") || s == "stopped"
}

func isQueued(state string) bool {
	return strings.Contains(strings.ToLower(state), "queued")
}

func isSeeding(state string) bool {
	s := strings.ToLower(state)
	return strings.Contains(s, "seeding") || strings.Contains(s, "uploading") || strings.Contains(s, "stalledup")
}
