// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 1, hour, minute, 0, 0, time.Local)
}

func TestEvaluateGateDisabled(t *testing.T) {
	settings := &models.ScheduleSettings{Enabled: false}
	assert.True(t, Evaluate(settings, domain.TaskAutoDownload, at(3, 0)))
	assert.True(t, Evaluate(nil, domain.TaskAutoDownload, at(3, 0)))
}

func TestEvaluateSimpleRange(t *testing.T) {
	settings := &models.ScheduleSettings{
		Enabled: true,
		Ranges: map[domain.TaskClass][]models.TimeRange{
			domain.TaskAutoDownload: {{Start: "09:00", End: "17:00"}},
		},
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before_window", now: at(8, 59), want: false},
		{name: "window_start_inclusive", now: at(9, 0), want: true},
		{name: "inside_window", now: at(12, 30), want: true},
		{name: "window_end_exclusive", now: at(17, 0), want: false},
		{name: "after_window", now: at(22, 0), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(settings, domain.TaskAutoDownload, tt.now))
		})
	}
}

func TestEvaluateWrapAroundMidnight(t *testing.T) {
	settings := &models.ScheduleSettings{
		Enabled: true,
		Ranges: map[domain.TaskClass][]models.TimeRange{
			domain.TaskAutoDownload: {{Start: "22:00", End: "06:00"}},
		},
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "late_evening", now: at(23, 30), want: true},
		{name: "exact_start", now: at(22, 0), want: true},
		{name: "after_midnight", now: at(2, 0), want: true},
		{name: "just_before_end", now: at(5, 59), want: true},
		{name: "exact_end_excluded", now: at(6, 0), want: false},
		{name: "midday", now: at(12, 0), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(settings, domain.TaskAutoDownload, tt.now))
		})
	}
}

func TestEvaluateOverlappingRangesUnion(t *testing.T) {
	settings := &models.ScheduleSettings{
		Enabled: true,
		Ranges: map[domain.TaskClass][]models.TimeRange{
			domain.TaskExpiredCheck: {
				{Start: "08:00", End: "12:00"},
				{Start: "11:00", End: "14:00"},
			},
		},
	}

	// any matching range admits the task
	assert.True(t, Evaluate(settings, domain.TaskExpiredCheck, at(11, 30)))
	assert.True(t, Evaluate(settings, domain.TaskExpiredCheck, at(13, 0)))
	assert.False(t, Evaluate(settings, domain.TaskExpiredCheck, at(15, 0)))
}

func TestEvaluateDeniesWithoutRanges(t *testing.T) {
	settings := &models.ScheduleSettings{
		Enabled: true,
		Ranges: map[domain.TaskClass][]models.TimeRange{
			domain.TaskAutoDownload: {{Start: "00:00", End: "23:59"}},
		},
	}

	// enabled gate with no ranges for a class denies that class
	assert.False(t, Evaluate(settings, domain.TaskAccountRefresh, at(12, 0)))
	assert.True(t, Evaluate(settings, domain.TaskAutoDownload, at(12, 0)))
}

func TestEvaluateIgnoresMalformedRanges(t *testing.T) {
	settings := &models.ScheduleSettings{
		Enabled: true,
		Ranges: map[domain.TaskClass][]models.TimeRange{
			domain.TaskAutoDownload: {
				{Start: "garbage", End: "06:00"},
				{Start: "09:00", End: "10:00"},
			},
		},
	}

	assert.False(t, Evaluate(settings, domain.TaskAutoDownload, at(5, 0)), "malformed range matches nothing")
	assert.True(t, Evaluate(settings, domain.TaskAutoDownload, at(9, 30)))
}
