// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Mode separates the tracker's two listing sections. Rules, candidate
// listings, and retention scopes all carry one.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeAdult  Mode = "adult"
)

func (m Mode) Valid() bool {
	return m == ModeNormal || m == ModeAdult
}

// DiscountType is the tracker's promo vocabulary for a listing.
type DiscountType string

const (
	DiscountNone         DiscountType = "NORMAL"
	DiscountFree         DiscountType = "FREE"
	DiscountPercent50    DiscountType = "PERCENT_50"
	Discount2X           DiscountType = "_2X"
	Discount2XFree       DiscountType = "_2X_FREE"
	Discount2XPercent50  DiscountType = "_2X_PERCENT_50"
)

// IsFree reports whether the listing costs no download quota.
func (d DiscountType) IsFree() bool {
	return d == DiscountFree || d == Discount2XFree
}

// IsDoubleUpload reports whether the listing counts upload twice.
func (d DiscountType) IsDoubleUpload() bool {
	return d == Discount2X || d == Discount2XFree || d == Discount2XPercent50
}

// DownloadStatus is the lifecycle state of a DownloadRecord.
//
// pending -> downloading -> {completed, paused, queued}; completed -> seeding.
// Any non-terminal state can go to deleted. failed is reached from
// pending/downloading on push or verification errors. expired_deleted is the
// terminal variant reached only through the promo-expiry eviction path.
type DownloadStatus string

const (
	StatusPending        DownloadStatus = "pending"
	StatusDownloading    DownloadStatus = "downloading"
	StatusCompleted      DownloadStatus = "completed"
	StatusSeeding        DownloadStatus = "seeding"
	StatusPaused         DownloadStatus = "paused"
	StatusQueued         DownloadStatus = "queued"
	StatusFailed         DownloadStatus = "failed"
	StatusDeleted        DownloadStatus = "deleted"
	StatusExpiredDeleted DownloadStatus = "expired_deleted"
)

// legacyStatuses maps historical status strings onto the current vocabulary.
// Older deployments wrote these before the lifecycle was consolidated.
var legacyStatuses = map[string]DownloadStatus{
	"downloaded":      StatusCompleted,
	"pushing":         StatusDownloading,
	"push_failed":     StatusFailed,
	"dynamic_deleted": StatusDeleted,
}

// NormalizeStatus maps legacy status strings onto the current state machine.
// Unknown values pass through unchanged so they surface in the history view
// instead of being silently rewritten.
func NormalizeStatus(raw string) DownloadStatus {
	if s, ok := legacyStatuses[raw]; ok {
		return s
	}
	return DownloadStatus(raw)
}

// statusTransitions is the lifecycle edge set. Terminal states have no entry.
var statusTransitions = map[DownloadStatus][]DownloadStatus{
	StatusPending:     {StatusDownloading, StatusFailed, StatusDeleted, StatusExpiredDeleted},
	StatusDownloading: {StatusCompleted, StatusPaused, StatusQueued, StatusFailed, StatusDeleted, StatusExpiredDeleted},
	StatusQueued:      {StatusDownloading, StatusDeleted, StatusExpiredDeleted},
	StatusPaused:      {StatusDownloading, StatusDeleted, StatusExpiredDeleted},
	StatusCompleted:   {StatusSeeding, StatusDeleted, StatusExpiredDeleted},
	StatusSeeding:     {StatusDeleted, StatusExpiredDeleted},
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s DownloadStatus) CanTransition(next DownloadStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may move to next. Used to build
// compare-and-swap guards so concurrent writers cannot race a record past a
// terminal state.
func TransitionSources(next DownloadStatus) []DownloadStatus {
	var sources []DownloadStatus
	for from, outs := range statusTransitions {
		for _, out := range outs {
			if out == next {
				sources = append(sources, from)
				break
			}
		}
	}
	return sources
}

// Terminal reports whether no further lifecycle transitions apply.
func (s DownloadStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusDeleted, StatusExpiredDeleted:
		return true
	}
	return false
}

// Active reports whether the record counts against a rule's max_downloading cap.
func (s DownloadStatus) Active() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusQueued:
		return true
	}
	return false
}

// TaskClass identifies a gated periodic task for schedule control.
type TaskClass string

const (
	TaskAutoDownload   TaskClass = "auto_download"
	TaskExpiredCheck   TaskClass = "expired_check"
	TaskAccountRefresh TaskClass = "account_refresh"
)

// DeleteScope limits retention passes to one listing mode.
type DeleteScope string

const (
	ScopeAll    DeleteScope = "all"
	ScopeNormal DeleteScope = "normal"
	ScopeAdult  DeleteScope = "adult"
)

func (s DeleteScope) Valid() bool {
	return s == ScopeAll || s == ScopeNormal || s == ScopeAdult
}

// Includes reports whether records of the given mode fall inside the scope.
// Records with no associated rule have no mode and are always included.
func (s DeleteScope) Includes(mode Mode) bool {
	switch s {
	case ScopeNormal:
		return mode != ModeAdult
	case ScopeAdult:
		return mode != ModeNormal
	}
	return true
}

// DeleteStrategy orders capacity-eviction victims.
type DeleteStrategy string

const (
	StrategyOldestFirst  DeleteStrategy = "oldest_first"
	StrategyLargestFirst DeleteStrategy = "largest_first"
	StrategyLowestRatio  DeleteStrategy = "lowest_ratio"
)

func (s DeleteStrategy) Valid() bool {
	return s == StrategyOldestFirst || s == StrategyLargestFirst || s == StrategyLowestRatio
}

// DownloaderType selects the capability implementation for a downloader.
type DownloaderType string

const (
	DownloaderQBittorrent  DownloaderType = "qbittorrent"
	DownloaderTransmission DownloaderType = "transmission"
)

func (t DownloaderType) Valid() bool {
	return t == DownloaderQBittorrent || t == DownloaderTransmission
}
