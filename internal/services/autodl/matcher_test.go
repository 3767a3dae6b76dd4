// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package autodl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/tracker"
)

func ptr[T any](v T) *T {
	return &v
}

func baseRule() *models.Rule {
	return &models.Rule{
		ID:        1,
		IsEnabled: true,
		Mode:      domain.ModeNormal,
	}
}

const gib = int64(1) << 30

func TestSatisfiesFilters(t *testing.T) {
	tests := []struct {
		name    string
		rule    func(*models.Rule)
		listing tracker.Listing
		want    bool
	}{
		{
			name:    "no filters matches everything",
			rule:    func(r *models.Rule) {},
			listing: tracker.Listing{Name: "anything", Size: 3 * gib},
			want:    true,
		},
		{
			name: "size within bounds",
			rule: func(r *models.Rule) {
				r.MinSize = ptr(1.0)
				r.MaxSize = ptr(5.0)
				r.FreeOnly = true
			},
			listing: tracker.Listing{Size: 3 * gib, Discount: domain.DiscountFree},
			want:    true,
		},
		{
			name: "size above max",
			rule: func(r *models.Rule) {
				r.MinSize = ptr(1.0)
				r.MaxSize = ptr(5.0)
				r.FreeOnly = true
			},
			listing: tracker.Listing{Size: 6 * gib, Discount: domain.DiscountFree},
			want:    false,
		},
		{
			name:    "size below min",
			rule:    func(r *models.Rule) { r.MinSize = ptr(2.0) },
			listing: tracker.Listing{Size: 1 * gib},
			want:    false,
		},
		{
			name: "inverted size range matches nothing",
			rule: func(r *models.Rule) {
				r.MinSize = ptr(10.0)
				r.MaxSize = ptr(2.0)
			},
			listing: tracker.Listing{Size: 5 * gib},
			want:    false,
		},
		{
			name:    "min seeders",
			rule:    func(r *models.Rule) { r.MinSeeders = ptr(5) },
			listing: tracker.Listing{Seeders: 4},
			want:    false,
		},
		{
			name:    "max seeders",
			rule:    func(r *models.Rule) { r.MaxSeeders = ptr(10) },
			listing: tracker.Listing{Seeders: 11},
			want:    false,
		},
		{
			name:    "free only rejects plain listing",
			rule:    func(r *models.Rule) { r.FreeOnly = true },
			listing: tracker.Listing{Discount: domain.DiscountNone},
			want:    false,
		},
		{
			name:    "free only accepts double free",
			rule:    func(r *models.Rule) { r.FreeOnly = true },
			listing: tracker.Listing{Discount: domain.Discount2XFree},
			want:    true,
		},
		{
			name:    "double upload rejects plain free",
			rule:    func(r *models.Rule) { r.DoubleUpload = true },
			listing: tracker.Listing{Discount: domain.DiscountFree},
			want:    false,
		},
		{
			name: "free and double upload intersect",
			rule: func(r *models.Rule) {
				r.FreeOnly = true
				r.DoubleUpload = true
			},
			listing: tracker.Listing{Discount: domain.Discount2XFree},
			want:    true,
		},
		{
			name: "free and double upload reject half discount double",
			rule: func(r *models.Rule) {
				r.FreeOnly = true
				r.DoubleUpload = true
			},
			listing: tracker.Listing{Discount: domain.Discount2XPercent50},
			want:    false,
		},
		{
			name:    "categories enabled with empty selection matches all",
			rule:    func(r *models.Rule) { r.UseCategories = true },
			listing: tracker.Listing{Category: "401"},
			want:    true,
		},
		{
			name: "categories enabled filters by set",
			rule: func(r *models.Rule) {
				r.UseCategories = true
				r.Categories = []string{"401", "402"}
			},
			listing: tracker.Listing{Category: "410"},
			want:    false,
		},
		{
			name: "categories disabled ignores category",
			rule: func(r *models.Rule) {
				r.Categories = []string{"401"}
			},
			listing: tracker.Listing{Category: "410"},
			want:    true,
		},
		{
			name:    "keyword matches name case insensitively",
			rule:    func(r *models.Rule) { r.Keywords = []string{"BluRay", "remux"} },
			listing: tracker.Listing{Name: "Some.Movie.2024.1080p.bluray.x264"},
			want:    true,
		},
		{
			name:    "keyword matches description",
			rule:    func(r *models.Rule) { r.Keywords = []string{"director's cut"} },
			listing: tracker.Listing{Name: "Some.Movie", Description: "Director's Cut edition"},
			want:    true,
		},
		{
			name:    "no keyword matches",
			rule:    func(r *models.Rule) { r.Keywords = []string{"remux", "hdr"} },
			listing: tracker.Listing{Name: "Some.Movie.2024.1080p.web.x264"},
			want:    false,
		},
		{
			name:    "exclude keyword rejects",
			rule:    func(r *models.Rule) { r.ExcludeKeywords = []string{"CAM"} },
			listing: tracker.Listing{Name: "Some.Movie.2024.cam.rip"},
			want:    false,
		},
		{
			name: "exclude beats include",
			rule: func(r *models.Rule) {
				r.Keywords = []string{"1080p"}
				r.ExcludeKeywords = []string{"hevc"}
			},
			listing: tracker.Listing{Name: "Some.Movie.1080p.HEVC"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := baseRule()
			tt.rule(rule)
			assert.Equal(t, tt.want, satisfies(tt.listing, rule))
		})
	}
}

func TestMatchSkipsDisabledAndWrongMode(t *testing.T) {
	listing := tracker.Listing{Name: "x", Size: gib}

	disabled := baseRule()
	disabled.IsEnabled = false

	adult := baseRule()
	adult.ID = 2
	adult.Mode = domain.ModeAdult

	matches := Match(listing, domain.ModeNormal, []*models.Rule{disabled, adult})
	assert.Empty(t, matches)
}

func TestMatchReturnsAllMatchingRules(t *testing.T) {
	listing := tracker.Listing{Name: "Some.Movie.1080p", Size: 3 * gib, Discount: domain.DiscountFree}

	first := baseRule()
	second := baseRule()
	second.ID = 2
	second.FreeOnly = true
	third := baseRule()
	third.ID = 3
	third.Keywords = []string{"2160p"}

	matches := Match(listing, domain.ModeNormal, []*models.Rule{first, second, third})
	assert.Len(t, matches, 2)
	assert.Equal(t, 1, matches[0].Rule.ID)
	assert.Equal(t, 2, matches[1].Rule.ID)
}

func TestStricterFilterNeverGrowsMatchSet(t *testing.T) {
	listings := []tracker.Listing{
		{Name: "a.1080p", Size: 2 * gib, Seeders: 3, Discount: domain.DiscountFree},
		{Name: "b.2160p", Size: 40 * gib, Seeders: 50},
		{Name: "c.web", Size: 1 * gib, Seeders: 0, Discount: domain.Discount2XFree},
	}

	loose := baseRule()
	strict := baseRule()
	strict.FreeOnly = true
	strict.MaxSize = ptr(10.0)

	var looseCount, strictCount int
	for _, l := range listings {
		if satisfies(l, loose) {
			looseCount++
		}
		if satisfies(l, strict) {
			strictCount++
		}
	}
	assert.LessOrEqual(t, strictCount, looseCount)
}
