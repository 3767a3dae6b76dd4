// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database opens the sqlite database and applies schema migrations.
package database

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// migrations run in order inside a single transaction each; user_version
// tracks the last applied index.
var migrations = []string{
	`
	CREATE TABLE accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		api_key_encrypted TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		uploaded REAL NOT NULL DEFAULT 0,
		downloaded REAL NOT NULL DEFAULT 0,
		ratio REAL NOT NULL DEFAULT 0,
		bonus REAL NOT NULL DEFAULT 0,
		last_refreshed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE downloaders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('qbittorrent', 'transmission')),
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		username TEXT,
		password_encrypted TEXT,
		use_ssl INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		mode TEXT NOT NULL DEFAULT 'normal' CHECK (mode IN ('normal', 'adult')),
		free_only INTEGER NOT NULL DEFAULT 0,
		double_upload INTEGER NOT NULL DEFAULT 0,
		min_size REAL,
		max_size REAL,
		min_seeders INTEGER,
		max_seeders INTEGER,
		use_categories INTEGER NOT NULL DEFAULT 0,
		categories TEXT,
		keywords TEXT,
		exclude_keywords TEXT,
		downloader_id INTEGER REFERENCES downloaders(id) ON DELETE SET NULL,
		save_path TEXT,
		tags TEXT,
		max_downloading INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_rules_account ON rules(account_id);

	CREATE TABLE download_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER REFERENCES accounts(id) ON DELETE CASCADE,
		torrent_id TEXT NOT NULL,
		torrent_name TEXT NOT NULL,
		torrent_size INTEGER NOT NULL DEFAULT 0,
		rule_id INTEGER REFERENCES rules(id) ON DELETE SET NULL,
		downloader_id INTEGER REFERENCES downloaders(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		info_hash TEXT,
		discount_type TEXT,
		discount_end_time DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_download_records_account_torrent ON download_records(account_id, torrent_id);
	CREATE UNIQUE INDEX idx_download_records_handle ON download_records(downloader_id, info_hash)
		WHERE downloader_id IS NOT NULL AND info_hash IS NOT NULL;
	CREATE INDEX idx_download_records_status ON download_records(status);

	CREATE TABLE settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`,
}

// New opens (creating if necessary) the database at path and migrates it.
func New(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn between the periodic tasks.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}

		// PRAGMA does not support placeholders.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}

		log.Debug().Int("version", i+1).Msg("Applied database migration")
	}

	return nil
}
