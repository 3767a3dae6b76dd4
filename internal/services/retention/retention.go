// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package retention reclaims seed slots and disk space: a promo-expiry pass
// removes downloads whose promo window lapsed, and a capacity pass evicts
// tracked items when the designated downloader grows past its budget.
package retention

import (
	"context"
	"sort"
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

const bytesPerGB = int64(1) << 30

// ClientPool resolves a downloader id to a live client.
type ClientPool interface {
	Get(ctx context.Context, downloaderID int) (downloader.Client, error)
}

type Service struct {
	downloads   *models.DownloadStore
	downloaders *models.DownloaderStore
	rules       *models.RuleStore
	settings    *models.SettingsStore
	gate        *schedule.Gate
	pool        ClientPool
	metrics     *metrics.Manager
}

func NewService(downloads *models.DownloadStore, downloaders *models.DownloaderStore, rules *models.RuleStore, settings *models.SettingsStore, gate *schedule.Gate, pool ClientPool) *Service {
	return &Service{
		downloads:   downloads,
		downloaders: downloaders,
		rules:       rules,
		settings:    settings,
		gate:        gate,
		pool:        pool,
	}
}

// SetMetrics attaches eviction counters. Safe to leave unset in tests.
func (s *Service) SetMetrics(m *metrics.Manager) {
	s.metrics = m
}

// Run executes both retention passes once, honoring the schedule gate and
// the auto-delete settings snapshot taken at the start of the tick.
func (s *Service) Run(ctx context.Context) error {
	allowed, err := s.gate.Allowed(ctx, domain.TaskExpiredCheck, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to evaluate schedule gate")
	}
	if !allowed {
		log.Debug().Msg("retention outside scheduled window, skipping cycle")
		return nil
	}

	settings, err := s.settings.GetAutoDelete(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load auto-delete settings")
	}
	if !settings.Enabled {
		return nil
	}

	if err := s.expiryPass(ctx, settings); err != nil {
		log.Error().Err(err).Msg("promo-expiry pass failed")
	}

	if settings.EnableDynamicDelete {
		if err := s.capacityPass(ctx, settings); err != nil {
			log.Error().Err(err).Msg("capacity pass failed")
		}
	}
	return nil
}

// expiryPass deletes downloads whose promo window ended so they stop burning
// download quota. Records are grouped per downloader so the item list is
// fetched once per client.
func (s *Service) expiryPass(ctx context.Context, settings *models.AutoDeleteSettings) error {
	expired, err := s.downloads.ListExpiredPromos(ctx, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to list expired records")
	}

	byDownloader := make(map[int][]*models.DownloadRecord)
	for _, record := range expired {
		if record.DownloaderID == nil || record.InfoHash == nil {
			continue
		}
		if !s.scopeIncludes(ctx, settings.DeleteScope, record) {
			continue
		}
		byDownloader[*record.DownloaderID] = append(byDownloader[*record.DownloaderID], record)
	}

	for downloaderID, records := range byDownloader {
		client, items, err := s.clientItems(ctx, downloaderID)
		if err != nil {
			log.Error().Err(err).Int("downloaderId", downloaderID).Msg("skipping expiry pass for downloader")
			continue
		}

		for _, record := range records {
			hash := strings.ToLower(*record.InfoHash)
			item, present := items[hash]
			if present && settings.CheckTags && !s.ruleTagsIntersect(ctx, record, item) {
				continue
			}

			if present {
				if err := client.RemoveItems(ctx, []string{hash}, settings.DeleteFiles); err != nil {
					log.Error().Err(err).Int("recordId", record.ID).Msg("failed to remove expired item")
					continue
				}
			}

			if err := s.downloads.Transition(ctx, record.ID, domain.StatusExpiredDeleted); err != nil {
				if errors.Is(err, models.ErrInvalidTransition) {
					log.Debug().Int("recordId", record.ID).Msg("record already terminal, skipping")
					continue
				}
				return errors.Wrapf(err, "failed to transition record %d", record.ID)
			}

			if s.metrics != nil {
				s.metrics.ExpiredDeleted.Inc()
			}
			log.Info().
				Int("recordId", record.ID).
				Str("name", record.TorrentName).
				Msg("deleted download with lapsed promo")
		}
	}
	return nil
}

// capacityPass evicts tracked items on the designated downloader per the
// configured strategy until its tracked size drops under the low-water mark.
// Each iteration removes exactly one item, so the loop is bounded by the
// item count.
func (s *Service) capacityPass(ctx context.Context, settings *models.AutoDeleteSettings) error {
	if settings.MaxCapacityGB <= 0 {
		return nil
	}
	if settings.DownloaderID == nil {
		log.Warn().Msg("dynamic delete enabled without a designated downloader, skipping")
		return nil
	}
	maxBytes := int64(settings.MaxCapacityGB * float64(bytesPerGB))
	minBytes := int64(settings.MinCapacityGB * float64(bytesPerGB))

	d, err := s.downloaders.Get(ctx, *settings.DownloaderID)
	if err != nil {
		return errors.Wrapf(err, "failed to get downloader %d", *settings.DownloaderID)
	}
	if !d.IsActive {
		log.Warn().Str("downloader", d.Name).Msg("designated downloader is disabled, skipping capacity pass")
		return nil
	}

	if err := s.evictDownloader(ctx, d.ID, settings, maxBytes, minBytes); err != nil {
		return errors.Wrapf(err, "capacity eviction failed on %s", d.Name)
	}
	return nil
}

func (s *Service) evictDownloader(ctx context.Context, downloaderID int, settings *models.AutoDeleteSettings, maxBytes, minBytes int64) error {
	live, err := s.downloads.ListLive(ctx, downloaderID)
	if err != nil {
		return errors.Wrap(err, "failed to list live records")
	}

	var total int64
	for _, record := range live {
		total += record.TorrentSize
	}
	if total <= maxBytes {
		return nil
	}

	client, items, err := s.clientItems(ctx, downloaderID)
	if err != nil {
		return err
	}

	victims := make([]*models.DownloadRecord, 0, len(live))
	for _, record := range live {
		if !s.scopeIncludes(ctx, settings.DeleteScope, record) {
			continue
		}
		hash := strings.ToLower(*record.InfoHash)
		if item, present := items[hash]; present && settings.CheckTags && !s.ruleTagsIntersect(ctx, record, item) {
			continue
		}
		victims = append(victims, record)
	}
	orderVictims(victims, items, settings.DeleteStrategy)

	log.Info().
		Int("downloaderId", downloaderID).
		Int64("totalBytes", total).
		Int64("maxBytes", maxBytes).
		Int("candidates", len(victims)).
		Msg("tracked size over budget, evicting")

	for _, victim := range victims {
		if total <= minBytes {
			break
		}

		hash := strings.ToLower(*victim.InfoHash)
		if _, present := items[hash]; present {
			if err := client.RemoveItems(ctx, []string{hash}, settings.DeleteFiles); err != nil {
				log.Error().Err(err).Int("recordId", victim.ID).Msg("failed to evict item")
				continue
			}
		}

		if err := s.downloads.Transition(ctx, victim.ID, domain.StatusDeleted); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				log.Debug().Int("recordId", victim.ID).Msg("record already terminal, skipping")
				continue
			}
			return errors.Wrapf(err, "failed to transition record %d", victim.ID)
		}

		if s.metrics != nil {
			s.metrics.CapacityEvicted.Inc()
		}
		total -= victim.TorrentSize
		log.Info().
			Int("recordId", victim.ID).
			Str("name", victim.TorrentName).
			Int64("remainingBytes", total).
			Msg("evicted for capacity")
	}
	return nil
}

func (s *Service) clientItems(ctx context.Context, downloaderID int) (downloader.Client, map[string]downloader.Item, error) {
	client, err := s.pool.Get(ctx, downloaderID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to get downloader %d", downloaderID)
	}
	list, err := client.ListItems(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list client items")
	}
	items := make(map[string]downloader.Item, len(list))
	for _, item := range list {
		items[strings.ToLower(item.Hash)] = item
	}
	return client, items, nil
}

// scopeIncludes resolves the record's mode through its rule. Records with no
// rule (imported handles) only fall under the all scope.
func (s *Service) scopeIncludes(ctx context.Context, scope domain.DeleteScope, record *models.DownloadRecord) bool {
	if scope == domain.ScopeAll {
		return true
	}
	if record.RuleID == nil {
		return false
	}
	rule, err := s.rules.Get(ctx, *record.RuleID)
	if err != nil {
		return false
	}
	return scope.Includes(rule.Mode)
}

// ruleTagsIntersect applies the check-tags guard: the record's rule must
// share at least one tag with the live item. Records without a rule, or
// whose rule carries no tags, never pass the guard.
func (s *Service) ruleTagsIntersect(ctx context.Context, record *models.DownloadRecord, item downloader.Item) bool {
	if record.RuleID == nil {
		return false
	}
	rule, err := s.rules.Get(ctx, *record.RuleID)
	if err != nil {
		return false
	}
	for _, want := range rule.Tags {
		for _, have := range item.Tags {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(have)) {
				return true
			}
		}
	}
	return false
}

func orderVictims(victims []*models.DownloadRecord, items map[string]downloader.Item, strategy domain.DeleteStrategy) {
	sort.SliceStable(victims, func(i, j int) bool {
		switch strategy {
		case domain.StrategyLargestFirst:
			return victims[i].TorrentSize > victims[j].TorrentSize
		case domain.StrategyLowestRatio:
			ri, iok := ratioOf(victims[i], items)
			rj, jok := ratioOf(victims[j], items)
			// Unknown ratios sort last.
			if iok != jok {
				return iok
			}
			return ri < rj
		default:
			return victims[i].CreatedAt.Before(victims[j].CreatedAt)
		}
	})
}

func ratioOf(record *models.DownloadRecord, items map[string]downloader.Item) (float64, bool) {
	item, ok := items[strings.ToLower(*record.InfoHash)]
	if !ok {
		return 0, false
	}
	return item.Ratio, true
}
