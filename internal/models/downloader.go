// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/autoseed/seedarr/internal/dbinterface"
	"github.com/autoseed/seedarr/internal/domain"
)

var ErrDownloaderNotFound = errors.New("downloader not found")

// Downloader is a configured download client records get pushed to.
type Downloader struct {
	ID                int                   `json:"id"`
	Name              string                `json:"name"`
	Type              domain.DownloaderType `json:"type"`
	Host              string                `json:"host"`
	Port              int                   `json:"port"`
	Username          string                `json:"username"`
	PasswordEncrypted string                `json:"-"`
	UseSSL            bool                  `json:"useSsl"`
	IsActive          bool                  `json:"isActive"`
	CreatedAt         time.Time             `json:"createdAt"`
}

func (d Downloader) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		ID        int                   `json:"id"`
		Name      string                `json:"name"`
		Type      domain.DownloaderType `json:"type"`
		Host      string                `json:"host"`
		Port      int                   `json:"port"`
		Username  string                `json:"username"`
		Password  string                `json:"password,omitempty"`
		UseSSL    bool                  `json:"useSsl"`
		IsActive  bool                  `json:"isActive"`
		CreatedAt time.Time             `json:"createdAt"`
	}{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		Host:      d.Host,
		Port:      d.Port,
		Username:  d.Username,
		Password:  domain.RedactString(d.PasswordEncrypted),
		UseSSL:    d.UseSSL,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
	})
}

// URL assembles the client base URL from host, port, and scheme.
func (d *Downloader) URL() string {
	scheme := "http"
	if d.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, d.Host, d.Port)
}

// validateDownloaderHost normalizes a bare hostname or IP; a scheme or path
// in the input is rejected since scheme comes from useSsl and port is separate.
func validateDownloaderHost(rawHost string) (string, error) {
	rawHost = strings.TrimSpace(rawHost)
	if rawHost == "" {
		return "", errors.New("host cannot be empty")
	}

	if strings.Contains(rawHost, "://") {
		u, err := url.Parse(rawHost)
		if err != nil {
			return "", fmt.Errorf("invalid host: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
		}
		rawHost = u.Hostname()
		if rawHost == "" {
			return "", errors.New("host cannot be empty")
		}
	}

	if strings.ContainsAny(rawHost, "/ ") {
		return "", fmt.Errorf("invalid host %q", rawHost)
	}

	return rawHost, nil
}

type DownloaderStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewDownloaderStore(db dbinterface.Querier, encryptionKey []byte) (*DownloaderStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &DownloaderStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

func (s *DownloaderStore) Create(ctx context.Context, name string, clientType domain.DownloaderType, rawHost string, port int, username, password string, useSSL bool) (*Downloader, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name cannot be empty")
	}
	if !clientType.Valid() {
		return nil, fmt.Errorf("unknown downloader type %q", clientType)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	host, err := validateDownloaderHost(rawHost)
	if err != nil {
		return nil, err
	}

	var encryptedPassword sql.NullString
	if password != "" {
		encrypted, err := encryptSecret(s.encryptionKey, password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
		encryptedPassword = sql.NullString{String: encrypted, Valid: true}
	}

	var id int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO downloaders (name, type, host, port, username, password_encrypted, use_ssl)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, strings.TrimSpace(name), clientType, host, port, username, encryptedPassword, useSSL).Scan(&id)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *DownloaderStore) Get(ctx context.Context, id int) (*Downloader, error) {
	downloader, err := s.scanRow(s.db.QueryRowContext(ctx, `
		SELECT id, name, type, host, port, username, password_encrypted, use_ssl, is_active, created_at
		FROM downloaders
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloaderNotFound
		}
		return nil, err
	}
	return downloader, nil
}

func (s *DownloaderStore) List(ctx context.Context) ([]*Downloader, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, host, port, username, password_encrypted, use_ssl, is_active, created_at
		FROM downloaders
		ORDER BY name COLLATE NOCASE ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloaders []*Downloader
	for rows.Next() {
		downloader, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		downloaders = append(downloaders, downloader)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return downloaders, nil
}

func (s *DownloaderStore) Update(ctx context.Context, id int, name, rawHost string, port int, username, password string, useSSL, isActive *bool) (*Downloader, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := "UPDATE downloaders SET id = id"
	var args []any

	if name = strings.TrimSpace(name); name != "" {
		query += ", name = ?"
		args = append(args, name)
	}

	if strings.TrimSpace(rawHost) != "" {
		host, err := validateDownloaderHost(rawHost)
		if err != nil {
			return nil, err
		}
		query += ", host = ?"
		args = append(args, host)
	}

	if port > 0 {
		if port > 65535 {
			return nil, fmt.Errorf("invalid port %d", port)
		}
		query += ", port = ?"
		args = append(args, port)
	}

	if username != "" {
		query += ", username = ?"
		args = append(args, username)
	}

	if password != "" && !domain.IsRedactedString(password) {
		encrypted, err := encryptSecret(s.encryptionKey, password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
		query += ", password_encrypted = ?"
		args = append(args, encrypted)
	}

	if useSSL != nil {
		query += ", use_ssl = ?"
		args = append(args, *useSSL)
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
		return nil, ErrDownloaderNotFound
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *DownloaderStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM downloaders WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrDownloaderNotFound
	}

	return nil
}

// GetDecryptedPassword returns the decrypted client password.
func (s *DownloaderStore) GetDecryptedPassword(downloader *Downloader) (string, error) {
	if downloader.PasswordEncrypted == "" {
		return "", nil
	}
	return decryptSecret(s.encryptionKey, downloader.PasswordEncrypted)
}

func (s *DownloaderStore) scanRow(row rowScanner) (*Downloader, error) {
	var d Downloader
	var password sql.NullString

	err := row.Scan(
		&d.ID, &d.Name, &d.Type, &d.Host, &d.Port,
		&d.Username, &password, &d.UseSSL, &d.IsActive, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.PasswordEncrypted = password.String
	return &d, nil
}
