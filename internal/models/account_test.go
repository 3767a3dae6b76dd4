// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountStoreCRUD(t *testing.T) {
	ctx := t.Context()
	db := setupTestDB(t)

	store, err := NewAccountStore(db, testEncryptionKey())
	require.NoError(t, err, "Failed to create account store")

	account, err := store.Create(ctx, "alice", "super-secret-key")
	require.NoError(t, err, "Failed to create account")
	assert.Equal(t, "alice", account.Username)
	assert.True(t, account.IsActive)
	assert.NotEqual(t, "super-secret-key", account.APIKeyEncrypted, "api key must be stored encrypted")

	decrypted, err := store.GetDecryptedAPIKey(account)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-key", decrypted)

	retrieved, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, retrieved.ID)
	assert.Nil(t, retrieved.LastRefreshedAt)

	inactive := false
	updated, err := store.Update(ctx, account.ID, "alice2", "", &inactive)
	require.NoError(t, err)
	assert.Equal(t, "alice2", updated.Username)
	assert.False(t, updated.IsActive)

	// Key untouched by empty update
	decrypted, err = store.GetDecryptedAPIKey(updated)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-key", decrypted)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, store.Delete(ctx, account.ID))
	_, err = store.Get(ctx, account.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountStoreRedactedKeyIgnored(t *testing.T) {
	ctx := t.Context()
	db := setupTestDB(t)

	store, err := NewAccountStore(db, testEncryptionKey())
	require.NoError(t, err)

	account, err := store.Create(ctx, "bob", "original-key")
	require.NoError(t, err)

	// Round-trip the JSON form and feed the redacted key back through Update
	data, err := json.Marshal(account)
	require.NoError(t, err)

	var payload struct {
		APIKey string `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Equal(t, "********", payload.APIKey)

	updated, err := store.Update(ctx, account.ID, "", payload.APIKey, nil)
	require.NoError(t, err)

	decrypted, err := store.GetDecryptedAPIKey(updated)
	require.NoError(t, err)
	assert.Equal(t, "original-key", decrypted, "redacted key must not overwrite the stored one")
}

func TestAccountStoreUpdateStats(t *testing.T) {
	ctx := t.Context()
	db := setupTestDB(t)

	store, err := NewAccountStore(db, testEncryptionKey())
	require.NoError(t, err)

	account, err := store.Create(ctx, "carol", "key")
	require.NoError(t, err)

	stats := AccountStats{Uploaded: 1024, Downloaded: 512, Ratio: 2.0, Bonus: 99.5}
	require.NoError(t, store.UpdateStats(ctx, account.ID, stats))

	refreshed, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1024.0, refreshed.Uploaded)
	assert.Equal(t, 2.0, refreshed.Ratio)
	assert.NotNil(t, refreshed.LastRefreshedAt)

	assert.ErrorIs(t, store.UpdateStats(ctx, 9999, stats), ErrAccountNotFound)
}
