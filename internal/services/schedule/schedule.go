// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package schedule evaluates the time-of-day gate for periodic task classes.
package schedule

import (
	"context"
	"time"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
)

// SettingsSource yields the current schedule settings.
type SettingsSource interface {
	GetSchedule(ctx context.Context) (*models.ScheduleSettings, error)
}

// Gate answers "may this task class run right now". With the gate disabled
// everything runs. Enabled, a task runs only while the wall clock sits inside
// one of its configured ranges; a task class with ranges configured but none
// matching is denied, and so is a class with no ranges at all.
type Gate struct {
	source SettingsSource
}

func NewGate(source SettingsSource) *Gate {
	return &Gate{source: source}
}

// Allowed reports whether the task class may run at the given time.
func (g *Gate) Allowed(ctx context.Context, task domain.TaskClass, now time.Time) (bool, error) {
	settings, err := g.source.GetSchedule(ctx)
	if err != nil {
		return false, err
	}
	return Evaluate(settings, task, now), nil
}

// Evaluate is the pure form of the gate decision.
func Evaluate(settings *models.ScheduleSettings, task domain.TaskClass, now time.Time) bool {
	if settings == nil || !settings.Enabled {
		return true
	}

	for _, r := range settings.Ranges[task] {
		if inRange(r, now) {
			return true
		}
	}
	return false
}

// inRange checks a single daily window. Start after End means the window
// wraps past midnight: 22:00-06:00 covers late evening and early morning.
func inRange(r models.TimeRange, now time.Time) bool {
	start, okStart := clockMinutes(r.Start)
	end, okEnd := clockMinutes(r.End)
	if !okStart || !okEnd {
		return false
	}

	minute := now.Hour()*60 + now.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func clockMinutes(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	for _, c := range []byte{s[0], s[1], s[3], s[4]} {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[3]-'0')*10 + int(s[4]-'0')
	if hh >= 24 || mm >= 60 {
		return 0, false
	}
	return hh*60 + mm, true
}
