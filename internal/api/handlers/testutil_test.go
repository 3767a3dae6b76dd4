// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/database"
	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/accountsync"
	"github.com/autoseed/seedarr/internal/services/reconcile"
	"github.com/autoseed/seedarr/internal/services/schedule"
	"github.com/autoseed/seedarr/internal/services/scheduler"
	"github.com/autoseed/seedarr/internal/tracker"
)

type apiEnv struct {
	db          *sql.DB
	accounts    *models.AccountStore
	downloaders *models.DownloaderStore
	rules       *models.RuleStore
	downloads   *models.DownloadStore
	settings    *models.SettingsStore
	pool        *downloader.Pool
	client      *fakeClient
	profiles    *fakeProfiles
	search      *fakeSearch
	scheduler   *scheduler.Scheduler
	router      *chi.Mux
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	accounts, err := models.NewAccountStore(db, key)
	require.NoError(t, err)
	downloaders, err := models.NewDownloaderStore(db, key)
	require.NoError(t, err)

	env := &apiEnv{
		db:          db,
		accounts:    accounts,
		downloaders: downloaders,
		rules:       models.NewRuleStore(db),
		downloads:   models.NewDownloadStore(db),
		settings:    models.NewSettingsStore(db),
		client:      &fakeClient{},
		profiles:    &fakeProfiles{profiles: map[string]*tracker.Profile{}},
		search:      &fakeSearch{},
	}

	env.pool = downloader.NewPool(downloaders)
	env.pool.SetClientFactory(func(_ *models.Downloader, _ string) (downloader.Client, error) {
		return env.client, nil
	})

	gate := schedule.NewGate(env.settings)
	env.scheduler = scheduler.New(env.settings, gate)
	t.Cleanup(env.scheduler.Stop)

	accountSync := accountsync.NewService(accounts, gate, env.profiles)
	reconcileService := reconcile.NewService(env.downloads, downloaders, gate, env.pool)

	env.router = chi.NewRouter()
	env.router.Route("/api/accounts", NewAccountsHandler(accounts, accountSync).Routes)
	env.router.Route("/api/downloaders", NewDownloadersHandler(downloaders, env.pool).Routes)
	env.router.Route("/api/rules", NewRulesHandler(env.rules).Routes)
	env.router.Route("/api/history", NewHistoryHandler(env.downloads, env.pool, reconcileService).Routes)
	env.router.Route("/api/settings", NewSettingsHandler(env.settings, env.scheduler).Routes)
	env.router.Route("/api/torrents", NewTorrentsHandler(accounts, env.search).Routes)

	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// testTorrent builds a minimal single-file torrent. Distinct names yield
// distinct info hashes.
func testTorrent(name string) []byte {
	return fmt.Appendf(nil,
		"d4:infod6:lengthi16384e4:name%d:%s12:piece lengthi16384e6:pieces20:aaaaaaaaaaaaaaaaaaaaee",
		len(name), name)
}

type fakeClient struct {
	mu      sync.Mutex
	added   [][]byte
	removed []string
	items     []downloader.Item
	tags      []string
	freeSpace int64
	testErr   error
	addErr    error
}

func (c *fakeClient) TestConnection(ctx context.Context) error { return c.testErr }

func (c *fakeClient) AddTorrent(ctx context.Context, fileData []byte, opts downloader.AddOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return c.addErr
	}
	c.added = append(c.added, fileData)
	return nil
}

func (c *fakeClient) ListItems(ctx context.Context) ([]downloader.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]downloader.Item(nil), c.items...), nil
}

func (c *fakeClient) RemoveItems(ctx context.Context, hashes []string, deleteFiles bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, hashes...)
	return nil
}

func (c *fakeClient) ListTags(ctx context.Context) ([]string, error) { return c.tags, nil }

func (c *fakeClient) Stats(ctx context.Context) (*downloader.Stats, error) {
	return &downloader.Stats{FreeSpaceBytes: c.freeSpace}, nil
}

type fakeProfiles struct {
	profiles map[string]*tracker.Profile
	err      error
}

func (f *fakeProfiles) Profile(ctx context.Context, apiKey string) (*tracker.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	profile, ok := f.profiles[apiKey]
	if !ok {
		return nil, tracker.ErrUnauthorized
	}
	return profile, nil
}

type fakeSearch struct {
	listings []tracker.Listing
	err      error
	lastKey  string
}

func (f *fakeSearch) Search(ctx context.Context, apiKey string, mode domain.Mode, pageNumber, pageSize int) ([]tracker.Listing, int, error) {
	f.lastKey = apiKey
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.listings, len(f.listings), nil
}
