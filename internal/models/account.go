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

var ErrAccountNotFound = errors.New("account not found")

// Account is a tracker account whose API key is stored encrypted.
type Account struct {
	ID              int        `json:"id"`
	Username        string     `json:"username"`
	APIKeyEncrypted string     `json:"-"`
	IsActive        bool       `json:"isActive"`
	Uploaded        float64    `json:"uploaded"`
	Downloaded      float64    `json:"downloaded"`
	Ratio           float64    `json:"ratio"`
	Bonus           float64    `json:"bonus"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		ID              int        `json:"id"`
		Username        string     `json:"username"`
		APIKey          string     `json:"apiKey,omitempty"`
		IsActive        bool       `json:"isActive"`
		Uploaded        float64    `json:"uploaded"`
		Downloaded      float64    `json:"downloaded"`
		Ratio           float64    `json:"ratio"`
		Bonus           float64    `json:"bonus"`
		LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty"`
		CreatedAt       time.Time  `json:"createdAt"`
		UpdatedAt       time.Time  `json:"updatedAt"`
	}{
		ID:              a.ID,
		Username:        a.Username,
		APIKey:          domain.RedactString(a.APIKeyEncrypted),
		IsActive:        a.IsActive,
		Uploaded:        a.Uploaded,
		Downloaded:      a.Downloaded,
		Ratio:           a.Ratio,
		Bonus:           a.Bonus,
		LastRefreshedAt: a.LastRefreshedAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	})
}

// AccountStats is the usage snapshot pulled from the tracker profile.
type AccountStats struct {
	Uploaded   float64 `json:"uploaded"`
	Downloaded float64 `json:"downloaded"`
	Ratio      float64 `json:"ratio"`
	Bonus      float64 `json:"bonus"`
}

type AccountStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewAccountStore(db dbinterface.Querier, encryptionKey []byte) (*AccountStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &AccountStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

func (s *AccountStore) Create(ctx context.Context, username, apiKey string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key cannot be empty")
	}

	encryptedKey, err := encryptSecret(s.encryptionKey, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt api key: %w", err)
	}

	var id int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (username, api_key_encrypted)
		VALUES (?, ?)
		RETURNING id
	`, username, encryptedKey).Scan(&id)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *AccountStore) Get(ctx context.Context, id int) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, api_key_encrypted, is_active, uploaded, downloaded, ratio, bonus,
		       last_refreshed_at, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`, id))
}

func (s *AccountStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, api_key_encrypted, is_active, uploaded, downloaded, ratio, bonus,
		       last_refreshed_at, created_at, updated_at
		FROM accounts
		ORDER BY username COLLATE NOCASE ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// ListActive returns accounts eligible for polling and refresh.
func (s *AccountStore) ListActive(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, api_key_encrypted, is_active, uploaded, downloaded, ratio, bonus,
		       last_refreshed_at, created_at, updated_at
		FROM accounts
		WHERE is_active = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (s *AccountStore) Update(ctx context.Context, id int, username, apiKey string, isActive *bool) (*Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := "UPDATE accounts SET updated_at = CURRENT_TIMESTAMP"
	var args []any

	if username = strings.TrimSpace(username); username != "" {
		query += ", username = ?"
		args = append(args, username)
	}

	// Skip redacted values so a round-tripped account payload doesn't
	// clobber the stored key.
	if apiKey != "" && !domain.IsRedactedString(apiKey) {
		encryptedKey, err := encryptSecret(s.encryptionKey, apiKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt api key: %w", err)
		}
		query += ", api_key_encrypted = ?"
		args = append(args, encryptedKey)
	}

	if isActive != nil {
		query += ", is_active = ?"
		args = append(args, *isActive)
	}

	query += " WHERE id = ?"
	args = append(args, id)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		return nil, ErrAccountNotFound
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, id)
}

// UpdateStats records a profile refresh snapshot and bumps last_refreshed_at.
func (s *AccountStore) UpdateStats(ctx context.Context, id int, stats AccountStats) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET uploaded = ?, downloaded = ?, ratio = ?, bonus = ?,
		    last_refreshed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, stats.Uploaded, stats.Downloaded, stats.Ratio, stats.Bonus, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (s *AccountStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// GetDecryptedAPIKey returns the decrypted tracker API key for an account.
func (s *AccountStore) GetDecryptedAPIKey(account *Account) (string, error) {
	return decryptSecret(s.encryptionKey, account.APIKeyEncrypted)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *AccountStore) scanOne(row *sql.Row) (*Account, error) {
	account, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (s *AccountStore) scanRow(row rowScanner) (*Account, error) {
	var a Account
	var apiKey sql.NullString
	var lastRefreshed sql.NullTime

	err := row.Scan(
		&a.ID, &a.Username, &apiKey, &a.IsActive,
		&a.Uploaded, &a.Downloaded, &a.Ratio, &a.Bonus,
		&lastRefreshed, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.APIKeyEncrypted = apiKey.String
	if lastRefreshed.Valid {
		a.LastRefreshedAt = &lastRefreshed.Time
	}

	return &a, nil
}
