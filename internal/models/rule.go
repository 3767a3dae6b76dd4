// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autoseed/seedarr/internal/dbinterface"
	"github.com/autoseed/seedarr/internal/domain"
)

var ErrRuleNotFound = errors.New("rule not found")

// Rule describes what a tracker listing must look like to be picked up, and
// where the match gets dispatched. Size bounds are GiB, nil means unbounded.
type Rule struct {
	ID              int         `json:"id"`
	AccountID       int         `json:"accountId"`
	Name            string      `json:"name"`
	IsEnabled       bool        `json:"isEnabled"`
	Mode            domain.Mode `json:"mode"`
	FreeOnly        bool        `json:"freeOnly"`
	DoubleUpload    bool        `json:"doubleUpload"`
	MinSize         *float64    `json:"minSize,omitempty"`
	MaxSize         *float64    `json:"maxSize,omitempty"`
	MinSeeders      *int        `json:"minSeeders,omitempty"`
	MaxSeeders      *int        `json:"maxSeeders,omitempty"`
	UseCategories   bool        `json:"useCategories"`
	Categories      []string    `json:"categories,omitempty"`
	Keywords        []string    `json:"keywords,omitempty"`
	ExcludeKeywords []string    `json:"excludeKeywords,omitempty"`
	DownloaderID    *int        `json:"downloaderId,omitempty"`
	SavePath        string      `json:"savePath,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	MaxDownloading  *int        `json:"maxDownloading,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type RuleStore struct {
	db dbinterface.Querier
}

func NewRuleStore(db dbinterface.Querier) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) validate(rule *Rule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return errors.New("rule name cannot be empty")
	}
	if rule.Mode == "" {
		rule.Mode = domain.ModeNormal
	}
	if !rule.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", rule.Mode)
	}
	if rule.MinSize != nil && *rule.MinSize < 0 {
		return errors.New("minSize cannot be negative")
	}
	if rule.MaxSize != nil && *rule.MaxSize < 0 {
		return errors.New("maxSize cannot be negative")
	}
	if rule.MinSeeders != nil && *rule.MinSeeders < 0 {
		return errors.New("minSeeders cannot be negative")
	}
	if rule.MaxDownloading != nil && *rule.MaxDownloading < 0 {
		return errors.New("maxDownloading cannot be negative")
	}
	return nil
}

func (s *RuleStore) Create(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := s.validate(rule); err != nil {
		return nil, err
	}

	categoriesJSON, keywordsJSON, excludeJSON, tagsJSON, err := marshalRuleLists(rule)
	if err != nil {
		return nil, err
	}

	var id int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rules (
			account_id, name, is_enabled, mode, free_only, double_upload,
			min_size, max_size, min_seeders, max_seeders,
			use_categories, categories, keywords, exclude_keywords,
			downloader_id, save_path, tags, max_downloading
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		rule.AccountID, rule.Name, rule.IsEnabled, rule.Mode, rule.FreeOnly, rule.DoubleUpload,
		rule.MinSize, rule.MaxSize, rule.MinSeeders, rule.MaxSeeders,
		rule.UseCategories, categoriesJSON, keywordsJSON, excludeJSON,
		rule.DownloaderID, nullableString(rule.SavePath), tagsJSON, rule.MaxDownloading,
	).Scan(&id)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *RuleStore) Get(ctx context.Context, id int) (*Rule, error) {
	rule, err := s.scanRow(s.db.QueryRowContext(ctx, ruleSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

func (s *RuleStore) List(ctx context.Context) ([]*Rule, error) {
	return s.list(ctx, ruleSelect+` ORDER BY id ASC`)
}

// ListEnabled returns enabled rules for an account, oldest first. Evaluation
// order is creation order.
func (s *RuleStore) ListEnabled(ctx context.Context, accountID int) ([]*Rule, error) {
	return s.list(ctx, ruleSelect+` WHERE account_id = ? AND is_enabled = 1 ORDER BY id ASC`, accountID)
}

func (s *RuleStore) list(ctx context.Context, query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

func (s *RuleStore) Update(ctx context.Context, id int, rule *Rule) (*Rule, error) {
	if err := s.validate(rule); err != nil {
		return nil, err
	}

	categoriesJSON, keywordsJSON, excludeJSON, tagsJSON, err := marshalRuleLists(rule)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, is_enabled = ?, mode = ?, free_only = ?, double_upload = ?,
			min_size = ?, max_size = ?, min_seeders = ?, max_seeders = ?,
			use_categories = ?, categories = ?, keywords = ?, exclude_keywords = ?,
			downloader_id = ?, save_path = ?, tags = ?, max_downloading = ?
		WHERE id = ?
	`,
		rule.Name, rule.IsEnabled, rule.Mode, rule.FreeOnly, rule.DoubleUpload,
		rule.MinSize, rule.MaxSize, rule.MinSeeders, rule.MaxSeeders,
		rule.UseCategories, categoriesJSON, keywordsJSON, excludeJSON,
		rule.DownloaderID, nullableString(rule.SavePath), tagsJSON, rule.MaxDownloading,
		id,
	)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		return nil, ErrRuleNotFound
	}

	return s.Get(ctx, id)
}

// SetEnabled flips the rule on or off without touching the filter fields.
func (s *RuleStore) SetEnabled(ctx context.Context, id int, enabled bool) (*Rule, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE rules SET is_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		return nil, ErrRuleNotFound
	}

	return s.Get(ctx, id)
}

func (s *RuleStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrRuleNotFound
	}

	return nil
}

const ruleSelect = `
	SELECT id, account_id, name, is_enabled, mode, free_only, double_upload,
	       min_size, max_size, min_seeders, max_seeders,
	       use_categories, categories, keywords, exclude_keywords,
	       downloader_id, save_path, tags, max_downloading, created_at
	FROM rules`

func (s *RuleStore) scanRow(row rowScanner) (*Rule, error) {
	var r Rule
	var categoriesJSON, keywordsJSON, excludeJSON, tagsJSON, savePath sql.NullString

	err := row.Scan(
		&r.ID, &r.AccountID, &r.Name, &r.IsEnabled, &r.Mode, &r.FreeOnly, &r.DoubleUpload,
		&r.MinSize, &r.MaxSize, &r.MinSeeders, &r.MaxSeeders,
		&r.UseCategories, &categoriesJSON, &keywordsJSON, &excludeJSON,
		&r.DownloaderID, &savePath, &tagsJSON, &r.MaxDownloading, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.SavePath = savePath.String
	if r.Categories, err = unmarshalStringList(categoriesJSON); err != nil {
		return nil, fmt.Errorf("rule %d: bad categories: %w", r.ID, err)
	}
	if r.Keywords, err = unmarshalStringList(keywordsJSON); err != nil {
		return nil, fmt.Errorf("rule %d: bad keywords: %w", r.ID, err)
	}
	if r.ExcludeKeywords, err = unmarshalStringList(excludeJSON); err != nil {
		return nil, fmt.Errorf("rule %d: bad exclude keywords: %w", r.ID, err)
	}
	if r.Tags, err = unmarshalStringList(tagsJSON); err != nil {
		return nil, fmt.Errorf("rule %d: bad tags: %w", r.ID, err)
	}

	return &r, nil
}

func marshalRuleLists(rule *Rule) (categories, keywords, exclude, tags sql.NullString, err error) {
	if categories, err = marshalStringList(rule.Categories); err != nil {
		return
	}
	if keywords, err = marshalStringList(rule.Keywords); err != nil {
		return
	}
	if exclude, err = marshalStringList(rule.ExcludeKeywords); err != nil {
		return
	}
	tags, err = marshalStringList(rule.Tags)
	return
}

func marshalStringList(list []string) (sql.NullString, error) {
	if len(list) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStringList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" || raw.String == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
