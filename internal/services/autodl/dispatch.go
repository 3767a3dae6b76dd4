// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package autodl

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/metrics"
	"github.com/autoseed/seedarr/internal/models"
)

// TorrentSource fetches .torrent payloads from the tracker.
type TorrentSource interface {
	DownloadTorrent(ctx context.Context, apiKey, torrentID string) ([]byte, error)
}

// ClientPool resolves a downloader id to a live client.
type ClientPool interface {
	Get(ctx context.Context, downloaderID int) (downloader.Client, error)
}

// Dispatcher pushes rule matches to the configured download client and records
// the result. Count-then-create is serialized per rule so racing ticks cannot
// exceed a rule's max_downloading cap.
type Dispatcher struct {
	downloads *models.DownloadStore
	source    TorrentSource
	pool      ClientPool
	metrics   *metrics.Manager

	mu        sync.Mutex
	ruleLocks map[int]*sync.Mutex
}

func NewDispatcher(downloads *models.DownloadStore, source TorrentSource, pool ClientPool) *Dispatcher {
	return &Dispatcher{
		downloads: downloads,
		source:    source,
		pool:      pool,
		ruleLocks: make(map[int]*sync.Mutex),
	}
}

// SetMetrics attaches push counters. Safe to leave unset in tests.
func (d *Dispatcher) SetMetrics(m *metrics.Manager) {
	d.metrics = m
}

func (d *Dispatcher) recordFailure(rule *models.Rule) {
	if d.metrics != nil {
		d.metrics.PushFailures.WithLabelValues(rule.Name).Inc()
	}
}

func (d *Dispatcher) ruleLock(ruleID int) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.ruleLocks[ruleID]
	if !ok {
		lock = &sync.Mutex{}
		d.ruleLocks[ruleID] = lock
	}
	return lock
}

// Dispatch pushes one match. A nil record with a nil error means the match was
// intentionally skipped (no downloader configured, cap reached, or already
// tracked); a failed push leaves no record so the next poll can retry it.
func (d *Dispatcher) Dispatch(ctx context.Context, account *models.Account, apiKey string, match RuleMatch) (*models.DownloadRecord, error) {
	rule := match.Rule
	listing := match.Listing

	if rule.DownloaderID == nil {
		log.Info().
			Int("ruleId", rule.ID).
			Str("torrentId", listing.ID).
			Str("name", listing.Name).
			Msg("matched, not pushed: rule has no downloader")
		return nil, nil
	}

	lock := d.ruleLock(rule.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := d.downloads.GetByAccountTorrent(ctx, account.ID, listing.ID)
	if err != nil && !errors.Is(err, models.ErrDownloadNotFound) {
		return nil, errors.Wrap(err, "failed to check existing record")
	}
	if existing != nil && !existing.Status.Terminal() {
		log.Debug().
			Int("recordId", existing.ID).
			Str("torrentId", listing.ID).
			Msg("skipping dispatch, torrent already tracked")
		return nil, nil
	}

	if rule.MaxDownloading != nil {
		active, err := d.downloads.CountActiveForRule(ctx, rule.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to count active downloads")
		}
		if active >= *rule.MaxDownloading {
			log.Debug().
				Int("ruleId", rule.ID).
				Int("active", active).
				Int("cap", *rule.MaxDownloading).
				Msg("skipping dispatch, rule at capacity")
			return nil, nil
		}
	}

	fileData, err := d.source.DownloadTorrent(ctx, apiKey, listing.ID)
	if err != nil {
		d.recordFailure(rule)
		return nil, errors.Wrapf(err, "failed to fetch torrent %s", listing.ID)
	}

	infoHash, err := downloader.InfoHash(fileData)
	if err != nil {
		d.recordFailure(rule)
		return nil, errors.Wrapf(err, "failed to parse torrent %s", listing.ID)
	}

	client, err := d.pool.Get(ctx, *rule.DownloaderID)
	if err != nil {
		d.recordFailure(rule)
		return nil, errors.Wrapf(err, "failed to get downloader %d", *rule.DownloaderID)
	}

	if err := client.AddTorrent(ctx, fileData, downloader.AddOptions{
		SavePath: rule.SavePath,
		Tags:     rule.Tags,
	}); err != nil {
		d.recordFailure(rule)
		return nil, errors.Wrapf(err, "failed to push torrent %s to downloader %d", listing.ID, *rule.DownloaderID)
	}

	record, err := d.downloads.Create(ctx, &models.DownloadRecord{
		AccountID:       &account.ID,
		TorrentID:       listing.ID,
		TorrentName:     listing.Name,
		TorrentSize:     listing.Size,
		RuleID:          &rule.ID,
		DownloaderID:    rule.DownloaderID,
		InfoHash:        &infoHash,
		DiscountType:    listing.Discount,
		DiscountEndTime: listing.DiscountEndTime,
	})
	if err != nil {
		// The torrent is on the client but untracked; the reconciler will
		// import it as an unmapped handle on its next run.
		return nil, errors.Wrap(err, "failed to create download record")
	}

	if d.metrics != nil {
		d.metrics.TorrentsPushed.WithLabelValues(rule.Name).Inc()
	}

	log.Info().
		Int("recordId", record.ID).
		Int("ruleId", rule.ID).
		Str("torrentId", listing.ID).
		Str("name", listing.Name).
		Str("infoHash", infoHash).
		Msg("pushed torrent to downloader")

	return record, nil
}
