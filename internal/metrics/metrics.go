// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes engine counters and record/downloader state on a
// dedicated Prometheus endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
)

// Manager owns the registry plus the counters the engine bumps as it works.
type Manager struct {
	registry *prometheus.Registry

	TorrentsMatched  *prometheus.CounterVec
	TorrentsPushed   *prometheus.CounterVec
	PushFailures     *prometheus.CounterVec
	ExpiredDeleted   prometheus.Counter
	CapacityEvicted  prometheus.Counter
	TrackerRequests  *prometheus.CounterVec
	ReconcileChanges prometheus.Counter
}

// ClientPool resolves a downloader id to a live client.
type ClientPool interface {
	Get(ctx context.Context, downloaderID int) (downloader.Client, error)
}

func NewManager(downloads *models.DownloadStore, downloaders *models.DownloaderStore, pool ClientPool) *Manager {
	registry := prometheus.NewRegistry()

	m := &Manager{
		registry: registry,
		TorrentsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedarr_torrents_matched_total",
			Help: "Listings that matched a rule, by rule name",
		}, []string{"rule"}),
		TorrentsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedarr_torrents_pushed_total",
			Help: "Torrents pushed to a download client, by rule name",
		}, []string{"rule"}),
		PushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedarr_push_failures_total",
			Help: "Dispatch attempts that failed, by rule name",
		}, []string{"rule"}),
		ExpiredDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seedarr_expired_deleted_total",
			Help: "Downloads removed because their free-leech promo lapsed",
		}),
		CapacityEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seedarr_capacity_evicted_total",
			Help: "Downloads removed by the capacity pass",
		}),
		TrackerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedarr_tracker_requests_total",
			Help: "Tracker API requests, by outcome",
		}, []string{"outcome"}),
		ReconcileChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seedarr_reconcile_transitions_total",
			Help: "Status transitions applied by the reconciler",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TorrentsMatched,
		m.TorrentsPushed,
		m.PushFailures,
		m.ExpiredDeleted,
		m.CapacityEvicted,
		m.TrackerRequests,
		m.ReconcileChanges,
		newStateCollector(downloads, downloaders, pool),
	)
	return m
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// stateCollector reads record counts and client speeds at scrape time.
type stateCollector struct {
	downloads   *models.DownloadStore
	downloaders *models.DownloaderStore
	pool        ClientPool

	recordsDesc   *prometheus.Desc
	dlSpeedDesc   *prometheus.Desc
	upSpeedDesc   *prometheus.Desc
	freeSpaceDesc *prometheus.Desc
}

func newStateCollector(downloads *models.DownloadStore, downloaders *models.DownloaderStore, pool ClientPool) *stateCollector {
	return &stateCollector{
		downloads:   downloads,
		downloaders: downloaders,
		pool:        pool,
		recordsDesc: prometheus.NewDesc(
			"seedarr_download_records",
			"Download records by status",
			[]string{"status"}, nil,
		),
		dlSpeedDesc: prometheus.NewDesc(
			"seedarr_downloader_download_speed_bytes",
			"Current download speed per client",
			[]string{"downloader"}, nil,
		),
		upSpeedDesc: prometheus.NewDesc(
			"seedarr_downloader_upload_speed_bytes",
			"Current upload speed per client",
			[]string{"downloader"}, nil,
		),
		freeSpaceDesc: prometheus.NewDesc(
			"seedarr_downloader_free_space_bytes",
			"Free disk space per client",
			[]string{"downloader"}, nil,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordsDesc
	ch <- c.dlSpeedDesc
	ch <- c.upSpeedDesc
	ch <- c.freeSpaceDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := c.downloads.CountByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("metrics: failed to count records")
	} else {
		for status, count := range counts {
			ch <- prometheus.MustNewConstMetric(c.recordsDesc, prometheus.GaugeValue, float64(count), string(status))
		}
	}

	clients, err := c.downloaders.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("metrics: failed to list downloaders")
		return
	}
	for _, d := range clients {
		if !d.IsActive {
			continue
		}
		client, err := c.pool.Get(ctx, d.ID)
		if err != nil {
			continue
		}
		stats, err := client.Stats(ctx)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.dlSpeedDesc, prometheus.GaugeValue, float64(stats.DownloadSpeed), d.Name)
		ch <- prometheus.MustNewConstMetric(c.upSpeedDesc, prometheus.GaugeValue, float64(stats.UploadSpeed), d.Name)
		ch <- prometheus.MustNewConstMetric(c.freeSpaceDesc, prometheus.GaugeValue, float64(stats.FreeSpaceBytes), d.Name)
	}
}
