// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package autodl

import (
	"strings"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/tracker"
)

// RuleMatch pairs a tracker listing with one rule it satisfied. A listing can
// match several rules at once; each match is dispatched independently.
type RuleMatch struct {
	Listing tracker.Listing
	Rule    *models.Rule
}

// Match evaluates a listing against every enabled rule for the given mode and
// returns all matches. It is a pure predicate over the rule snapshot passed in,
// so callers re-read rules each poll cycle to pick up edits.
func Match(listing tracker.Listing, mode domain.Mode, rules []*models.Rule) []RuleMatch {
	var matches []RuleMatch
	for _, rule := range rules {
		if !rule.IsEnabled || rule.Mode != mode {
			continue
		}
		if satisfies(listing, rule) {
			matches = append(matches, RuleMatch{Listing: listing, Rule: rule})
		}
	}
	return matches
}

func satisfies(listing tracker.Listing, rule *models.Rule) bool {
	sizeGiB := listing.SizeGiB()
	// An inverted range (min > max) matches nothing rather than erroring.
	if rule.MinSize != nil && sizeGiB < *rule.MinSize {
		return false
	}
	if rule.MaxSize != nil && sizeGiB > *rule.MaxSize {
		return false
	}
	if rule.MinSeeders != nil && listing.Seeders < *rule.MinSeeders {
		return false
	}
	if rule.MaxSeeders != nil && listing.Seeders > *rule.MaxSeeders {
		return false
	}
	if rule.FreeOnly && !listing.Discount.IsFree() {
		return false
	}
	if rule.DoubleUpload && !listing.Discount.IsDoubleUpload() {
		return false
	}
	// Category filtering only applies when enabled; enabled with an empty
	// selection means every category passes.
	if rule.UseCategories && len(rule.Categories) > 0 {
		if !containsFold(rule.Categories, listing.Category) {
			return false
		}
	}
	haystack := strings.ToLower(listing.Name + " " + listing.Description)
	if len(rule.Keywords) > 0 && !anyKeyword(haystack, rule.Keywords) {
		return false
	}
	if len(rule.ExcludeKeywords) > 0 && anyKeyword(haystack, rule.ExcludeKeywords) {
		return false
	}
	return true
}

func anyKeyword(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func containsFold(set []string, value string) bool {
	for _, s := range set {
		if strings.EqualFold(strings.TrimSpace(s), value) {
			return true
		}
	}
	return false
}
