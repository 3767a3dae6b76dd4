// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package autodl

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/database"
	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/tracker"
)

type testEnv struct {
	db        *sql.DB
	accounts  *models.AccountStore
	rules     *models.RuleStore
	downloads *models.DownloadStore
	settings  *models.SettingsStore
	account   *models.Account
}

func setupEnv(t *testing.T) *testEnv {
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

	account, err := accounts.Create(t.Context(), "tester", "test-api-key")
	require.NoError(t, err)

	// Tests reference downloader ID 1; the first insert gets that ID.
	downloaders, err := models.NewDownloaderStore(db, key)
	require.NoError(t, err)
	_, err = downloaders.Create(t.Context(), "qbit", domain.DownloaderQBittorrent, "localhost", 8080, "admin", "pass", false)
	require.NoError(t, err)

	return &testEnv{
		db:        db,
		accounts:  accounts,
		rules:     models.NewRuleStore(db),
		downloads: models.NewDownloadStore(db),
		settings:  models.NewSettingsStore(db),
		account:   account,
	}
}

func (e *testEnv) createRule(t *testing.T, mutate func(*models.Rule)) *models.Rule {
	t.Helper()

	rule := &models.Rule{
		AccountID: e.account.ID,
		Name:      "test rule",
		IsEnabled: true,
		Mode:      domain.ModeNormal,
	}
	if mutate != nil {
		mutate(rule)
	}
	created, err := e.rules.Create(t.Context(), rule)
	require.NoError(t, err)
	return created
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
	addErr  error
	items   []downloader.Item
	stats   downloader.Stats
}

func (c *fakeClient) TestConnection(ctx context.Context) error { return nil }

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

func (c *fakeClient) ListTags(ctx context.Context) ([]string, error) { return nil, nil }

func (c *fakeClient) Stats(ctx context.Context) (*downloader.Stats, error) {
	stats := c.stats
	return &stats, nil
}

func (c *fakeClient) addCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added)
}

type fakePool struct {
	client downloader.Client
	err    error
}

func (p *fakePool) Get(ctx context.Context, downloaderID int) (downloader.Client, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.client, nil
}

type fakeTracker struct {
	mu          sync.Mutex
	listings    []tracker.Listing
	searchErr   error
	downloadErr error
	searches    int
}

func (f *fakeTracker) Search(ctx context.Context, apiKey string, mode domain.Mode, pageNumber, pageSize int) ([]tracker.Listing, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.listings, len(f.listings), nil
}

func (f *fakeTracker) DownloadTorrent(ctx context.Context, apiKey, torrentID string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return testTorrent("torrent-" + torrentID), nil
}
