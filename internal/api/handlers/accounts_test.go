// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/tracker"
)

func TestAccountsCRUD(t *testing.T) {
	env := setupAPI(t)

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"username": "tester",
		"apiKey":   "secret-key",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[models.Account](t, rec)
	assert.Equal(t, "tester", created.Username)
	assert.True(t, created.IsActive)

	rec = env.do(t, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]models.Account](t, rec)
	require.Len(t, listed, 1)

	inactive := false
	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/accounts/%d", created.ID), map[string]any{
		"username": "renamed",
		"isActive": &inactive,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[models.Account](t, rec)
	assert.Equal(t, "renamed", updated.Username)
	assert.False(t, updated.IsActive)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/accounts/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/accounts", nil)
	assert.Empty(t, decodeBody[[]models.Account](t, rec))
}

func TestAccountCreateRequiresFields(t *testing.T) {
	env := setupAPI(t)

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{"username": "tester"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/accounts", map[string]string{"apiKey": "key"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountUpdateNotFound(t *testing.T) {
	env := setupAPI(t)

	rec := env.do(t, http.MethodPut, "/api/accounts/999", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/accounts/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/accounts/not-a-number", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountManualRefresh(t *testing.T) {
	env := setupAPI(t)
	env.profiles.profiles["secret-key"] = &tracker.Profile{
		Username: "tester",
		Uploaded: 1024,
		Ratio:    2.5,
	}

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"username": "tester",
		"apiKey":   "secret-key",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[models.Account](t, rec)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/refresh", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decodeBody[models.Account](t, rec)
	assert.InDelta(t, 2.5, refreshed.Ratio, 0.001)
	assert.InDelta(t, 1024, refreshed.Uploaded, 0.001)
	assert.NotNil(t, refreshed.LastRefreshedAt)
}

func TestAccountManualRefreshBadKey(t *testing.T) {
	env := setupAPI(t)

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"username": "tester",
		"apiKey":   "rejected-key",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[models.Account](t, rec)

	// No profile registered for the key, so the tracker rejects it and the
	// account gets suspended.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/refresh", created.ID), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	account, err := env.accounts.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, account.IsActive)
}
