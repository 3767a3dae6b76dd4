// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autoseed/seedarr/internal/dbinterface"
	"github.com/autoseed/seedarr/internal/domain"
)

var (
	ErrDownloadNotFound = errors.New("download record not found")

	// ErrInvalidTransition means the record exists but its current status
	// does not permit the requested transition. Callers racing each other
	// over the same record see this instead of a double-apply.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DownloadRecord tracks one pushed torrent through its lifecycle. TorrentID is
// the tracker-side listing id; InfoHash plus DownloaderID form the client-side
// handle once the push succeeds. AccountID is nil for records imported from
// handles the engine never pushed (manual adds on the client).
type DownloadRecord struct {
	ID              int                   `json:"id"`
	AccountID       *int                  `json:"accountId,omitempty"`
	TorrentID       string                `json:"torrentId"`
	TorrentName     string                `json:"torrentName"`
	TorrentSize     int64                 `json:"torrentSize"`
	RuleID          *int                  `json:"ruleId,omitempty"`
	DownloaderID    *int                  `json:"downloaderId,omitempty"`
	Status          domain.DownloadStatus `json:"status"`
	InfoHash        *string               `json:"infoHash,omitempty"`
	DiscountType    domain.DiscountType   `json:"discountType,omitempty"`
	DiscountEndTime *time.Time            `json:"discountEndTime,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
}

// DownloadFilter narrows List queries. Zero values mean no constraint.
type DownloadFilter struct {
	AccountID int
	RuleID    int
	Status    domain.DownloadStatus
	Search    string
	Limit     int
	Offset    int
}

type DownloadStore struct {
	db dbinterface.Querier
}

func NewDownloadStore(db dbinterface.Querier) *DownloadStore {
	return &DownloadStore{db: db}
}

func (s *DownloadStore) Create(ctx context.Context, record *DownloadRecord) (*DownloadRecord, error) {
	if record.TorrentID == "" {
		return nil, errors.New("torrent id cannot be empty")
	}
	if record.Status == "" {
		record.Status = domain.StatusPending
	}

	var id int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO download_records (
			account_id, torrent_id, torrent_name, torrent_size,
			rule_id, downloader_id, status, info_hash, discount_type, discount_end_time
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		record.AccountID, record.TorrentID, record.TorrentName, record.TorrentSize,
		record.RuleID, record.DownloaderID, record.Status, record.InfoHash,
		nullableString(string(record.DiscountType)), record.DiscountEndTime,
	).Scan(&id)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *DownloadStore) Get(ctx context.Context, id int) (*DownloadRecord, error) {
	record, err := s.scanRow(s.db.QueryRowContext(ctx, downloadSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadNotFound
		}
		return nil, err
	}
	return record, nil
}

// GetByAccountTorrent returns the most recent record for a tracker listing,
// regardless of status. Dispatch uses it to decide whether a candidate was
// already handled.
func (s *DownloadStore) GetByAccountTorrent(ctx context.Context, accountID int, torrentID string) (*DownloadRecord, error) {
	record, err := s.scanRow(s.db.QueryRowContext(ctx,
		downloadSelect+` WHERE account_id = ? AND torrent_id = ? ORDER BY id DESC LIMIT 1`,
		accountID, torrentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadNotFound
		}
		return nil, err
	}
	return record, nil
}

// GetByHandle resolves a client-side (downloader, info hash) pair back to its
// record. Reconciliation keys on this.
func (s *DownloadStore) GetByHandle(ctx context.Context, downloaderID int, infoHash string) (*DownloadRecord, error) {
	record, err := s.scanRow(s.db.QueryRowContext(ctx,
		downloadSelect+` WHERE downloader_id = ? AND info_hash = ?`,
		downloaderID, strings.ToLower(infoHash)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *DownloadStore) List(ctx context.Context, filter DownloadFilter) ([]*DownloadRecord, int, error) {
	where := " WHERE 1=1"
	var args []any

	if filter.AccountID > 0 {
		where += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if filter.RuleID > 0 {
		where += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND torrent_name LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM download_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := downloadSelect + where + " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*DownloadRecord
	for rows.Next() {
		record, err := s.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// Transition moves a record to the next lifecycle state. The guard is a
// compare-and-swap on the set of valid source states, so two writers racing
// the same edge results in exactly one apply and one ErrInvalidTransition.
func (s *DownloadStore) Transition(ctx context.Context, id int, next domain.DownloadStatus) error {
	sources := domain.TransitionSources(next)
	if len(sources) == 0 {
		return fmt.Errorf("%w: no status may move to %q", ErrInvalidTransition, next)
	}

	placeholders := strings.Repeat("?, ", len(sources)-1) + "?"
	args := make([]any, 0, len(sources)+2)
	args = append(args, next)
	args = append(args, id)
	for _, source := range sources {
		args = append(args, source)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE download_records SET status = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		// Distinguish a missing record from a disallowed edge.
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM download_records WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDownloadNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	return nil
}

// SetHandle records the client-side handle after a successful push.
func (s *DownloadStore) SetHandle(ctx context.Context, id, downloaderID int, infoHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE download_records SET downloader_id = ?, info_hash = ? WHERE id = ?`,
		downloaderID, strings.ToLower(infoHash), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrDownloadNotFound
	}

	return nil
}

// CountActiveForRule counts records holding a slot against the rule's
// max_downloading cap.
func (s *DownloadStore) CountActiveForRule(ctx context.Context, ruleID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM download_records
		WHERE rule_id = ? AND status IN (?, ?, ?)
	`, ruleID, domain.StatusPending, domain.StatusDownloading, domain.StatusQueued).Scan(&count)
	return count, err
}

// ListLive returns records that should still exist in a download client:
// everything non-terminal with an assigned handle.
func (s *DownloadStore) ListLive(ctx context.Context, downloaderID int) ([]*DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, downloadSelect+`
		WHERE downloader_id = ? AND info_hash IS NOT NULL
		  AND status NOT IN (?, ?, ?)
		ORDER BY id ASC
	`, downloaderID, domain.StatusFailed, domain.StatusDeleted, domain.StatusExpiredDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collect(rows)
}

// CountByStatus returns record counts grouped by normalized status.
func (s *DownloadStore) CountByStatus(ctx context.Context) (map[domain.DownloadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM download_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.DownloadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.NormalizeStatus(status)] += count
	}
	return counts, rows.Err()
}

// ListExpiredPromos returns live records whose promo window has ended as of
// now, whatever the discount type. They are the promo-expiry eviction
// candidates.
func (s *DownloadStore) ListExpiredPromos(ctx context.Context, now time.Time) ([]*DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, downloadSelect+`
		WHERE discount_end_time IS NOT NULL AND discount_end_time <= ?
		  AND status NOT IN (?, ?, ?)
		ORDER BY discount_end_time ASC
	`,
		now.UTC(),
		domain.StatusFailed, domain.StatusDeleted, domain.StatusExpiredDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collect(rows)
}

// ClearDeleted removes terminal deletion records from history.
func (s *DownloadStore) ClearDeleted(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM download_records WHERE status IN (?, ?)`,
		domain.StatusDeleted, domain.StatusExpiredDeleted)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Clear removes history records matching the filter. An empty filter clears
// everything.
func (s *DownloadStore) Clear(ctx context.Context, filter DownloadFilter) (int64, error) {
	query := "DELETE FROM download_records WHERE 1=1"
	var args []any

	if filter.AccountID > 0 {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if filter.RuleID > 0 {
		query += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes a single history record.
func (s *DownloadStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM download_records WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrDownloadNotFound
	}

	return nil
}

const downloadSelect = `
	SELECT id, account_id, torrent_id, torrent_name, torrent_size,
	       rule_id, downloader_id, status, info_hash, discount_type, discount_end_time, created_at
	FROM download_records`

func (s *DownloadStore) collect(rows *sql.Rows) ([]*DownloadRecord, error) {
	var records []*DownloadRecord
	for rows.Next() {
		record, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (s *DownloadStore) scanRow(row rowScanner) (*DownloadRecord, error) {
	var r DownloadRecord
	var status, discountType, infoHash sql.NullString
	var discountEnd sql.NullTime

	err := row.Scan(
		&r.ID, &r.AccountID, &r.TorrentID, &r.TorrentName, &r.TorrentSize,
		&r.RuleID, &r.DownloaderID, &status, &infoHash, &discountType, &discountEnd, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Normalize on read so rows written by older versions surface with the
	// current vocabulary.
	r.Status = domain.NormalizeStatus(status.String)
	r.DiscountType = domain.DiscountType(discountType.String)
	if infoHash.Valid {
		r.InfoHash = &infoHash.String
	}
	if discountEnd.Valid {
		t := discountEnd.Time
		r.DiscountEndTime = &t
	}

	return &r, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
