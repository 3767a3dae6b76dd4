// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })

	return db
}

func testEncryptionKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func createTestAccount(t *testing.T, db *sql.DB, username string) *Account {
	t.Helper()

	store, err := NewAccountStore(db, testEncryptionKey())
	require.NoError(t, err)

	account, err := store.Create(t.Context(), username, "test-api-key")
	require.NoError(t, err)

	return account
}
