// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/autoseed/seedarr/internal/dbinterface"
	"github.com/autoseed/seedarr/internal/domain"
)

const (
	settingsKeySchedule         = "schedule"
	settingsKeyAutoDelete       = "auto_delete"
	settingsKeyRefreshIntervals = "refresh_intervals"
)

// TimeRange is a daily window in "HH:MM" local time. Start after End means
// the window wraps past midnight.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ScheduleSettings gates the periodic task classes. With the gate disabled
// every task runs unconditionally; enabled, a task runs only while the
// current time falls inside one of its ranges.
type ScheduleSettings struct {
	Enabled bool                             `json:"enabled"`
	Ranges  map[domain.TaskClass][]TimeRange `json:"ranges"`
}

// AutoDeleteSettings controls the retention passes. With CheckTags set, a
// record may only be deleted while its rule's tags intersect the live item's
// tags. DownloaderID designates the single downloader the capacity pass
// watches and is required once EnableDynamicDelete is set.
type AutoDeleteSettings struct {
	Enabled             bool                  `json:"enabled"`
	DeleteScope         domain.DeleteScope    `json:"deleteScope"`
	CheckTags           bool                  `json:"checkTags"`
	EnableDynamicDelete bool                  `json:"enableDynamicDelete"`
	DownloaderID        *int                  `json:"downloaderId,omitempty"`
	MaxCapacityGB       float64               `json:"maxCapacityGb"`
	MinCapacityGB       float64               `json:"minCapacityGb"`
	DeleteStrategy      domain.DeleteStrategy `json:"deleteStrategy"`
	DeleteFiles         bool                  `json:"deleteFiles"`
}

// RefreshIntervals are the periodic task cadences in seconds.
type RefreshIntervals struct {
	AccountRefresh int `json:"accountRefresh"`
	TorrentCheck   int `json:"torrentCheck"`
	ExpiredCheck   int `json:"expiredCheck"`
}

func DefaultScheduleSettings() *ScheduleSettings {
	return &ScheduleSettings{
		Enabled: false,
		Ranges:  map[domain.TaskClass][]TimeRange{},
	}
}

func DefaultAutoDeleteSettings() *AutoDeleteSettings {
	return &AutoDeleteSettings{
		Enabled:             false,
		DeleteScope:         domain.ScopeAll,
		CheckTags:           true,
		EnableDynamicDelete: false,
		MaxCapacityGB:       0,
		MinCapacityGB:       0,
		DeleteStrategy:      domain.StrategyOldestFirst,
		DeleteFiles:         true,
	}
}

func DefaultRefreshIntervals() *RefreshIntervals {
	return &RefreshIntervals{
		AccountRefresh: 3600,
		TorrentCheck:   300,
		ExpiredCheck:   600,
	}
}

// SettingsStore persists engine settings as JSON documents in a key/value
// table. Reads return defaults when no row exists yet.
type SettingsStore struct {
	db dbinterface.Querier
}

func NewSettingsStore(db dbinterface.Querier) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) GetSchedule(ctx context.Context) (*ScheduleSettings, error) {
	settings := DefaultScheduleSettings()
	if err := s.get(ctx, settingsKeySchedule, settings); err != nil {
		return nil, err
	}
	if settings.Ranges == nil {
		settings.Ranges = map[domain.TaskClass][]TimeRange{}
	}
	return settings, nil
}

func (s *SettingsStore) SetSchedule(ctx context.Context, settings *ScheduleSettings) error {
	for task, ranges := range settings.Ranges {
		switch task {
		case domain.TaskAutoDownload, domain.TaskExpiredCheck, domain.TaskAccountRefresh:
		default:
			return fmt.Errorf("unknown task class %q", task)
		}
		for _, r := range ranges {
			if !validClock(r.Start) || !validClock(r.End) {
				return fmt.Errorf("task %s: invalid time range %s-%s", task, r.Start, r.End)
			}
		}
	}
	return s.set(ctx, settingsKeySchedule, settings)
}

func (s *SettingsStore) GetAutoDelete(ctx context.Context) (*AutoDeleteSettings, error) {
	settings := DefaultAutoDeleteSettings()
	if err := s.get(ctx, settingsKeyAutoDelete, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *SettingsStore) SetAutoDelete(ctx context.Context, settings *AutoDeleteSettings) error {
	if !settings.DeleteScope.Valid() {
		return fmt.Errorf("unknown delete scope %q", settings.DeleteScope)
	}
	if !settings.DeleteStrategy.Valid() {
		return fmt.Errorf("unknown delete strategy %q", settings.DeleteStrategy)
	}
	if settings.MaxCapacityGB < 0 || settings.MinCapacityGB < 0 {
		return errors.New("capacity bounds cannot be negative")
	}
	if settings.EnableDynamicDelete {
		if settings.DownloaderID == nil {
			return errors.New("dynamic delete requires a downloader")
		}
		if settings.MinCapacityGB > settings.MaxCapacityGB {
			return errors.New("minCapacityGb cannot exceed maxCapacityGb")
		}
	}
	return s.set(ctx, settingsKeyAutoDelete, settings)
}

func (s *SettingsStore) GetRefreshIntervals(ctx context.Context) (*RefreshIntervals, error) {
	intervals := DefaultRefreshIntervals()
	if err := s.get(ctx, settingsKeyRefreshIntervals, intervals); err != nil {
		return nil, err
	}
	return intervals, nil
}

func (s *SettingsStore) SetRefreshIntervals(ctx context.Context, intervals *RefreshIntervals) error {
	if intervals.AccountRefresh < 60 || intervals.TorrentCheck < 60 || intervals.ExpiredCheck < 60 {
		return errors.New("refresh intervals must be at least 60 seconds")
	}
	return s.set(ctx, settingsKeyRefreshIntervals, intervals)
}

func (s *SettingsStore) get(ctx context.Context, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("settings %s: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(data))
	return err
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[3]-'0')*10 + int(s[4]-'0')
	for _, c := range []byte{s[0], s[1], s[3], s[4]} {
		if c < '0' || c > '9' {
			return false
		}
	}
	return hh < 24 && mm < 60
}
