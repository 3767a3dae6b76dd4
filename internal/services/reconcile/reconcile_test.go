// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/database"
	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/schedule"
)

type fakeClient struct {
	items   []downloader.Item
	listErr error
}

func (c *fakeClient) TestConnection(ctx context.Context) error { return nil }

func (c *fakeClient) AddTorrent(ctx context.Context, fileData []byte, opts downloader.AddOptions) error {
	return nil
}

func (c *fakeClient) ListItems(ctx context.Context) ([]downloader.Item, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.items, nil
}

func (c *fakeClient) RemoveItems(ctx context.Context, hashes []string, deleteFiles bool) error {
	return nil
}

func (c *fakeClient) ListTags(ctx context.Context) ([]string, error) { return nil, nil }

func (c *fakeClient) Stats(ctx context.Context) (*downloader.Stats, error) {
	return &downloader.Stats{}, nil
}

type fakePool struct {
	client *fakeClient
}

func (p *fakePool) Get(ctx context.Context, downloaderID int) (downloader.Client, error) {
	return p.client, nil
}

type testEnv struct {
	db           *sql.DB
	downloads    *models.DownloadStore
	downloaders  *models.DownloaderStore
	settings     *models.SettingsStore
	gate         *schedule.Gate
	downloaderID int
	accountID    int
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

	downloaders, err := models.NewDownloaderStore(db, key)
	require.NoError(t, err)
	dl, err := downloaders.Create(t.Context(), "qbit", domain.DownloaderQBittorrent, "localhost", 8080, "admin", "pass", false)
	require.NoError(t, err)

	settings := models.NewSettingsStore(db)
	return &testEnv{
		db:           db,
		downloads:    models.NewDownloadStore(db),
		downloaders:  downloaders,
		settings:     settings,
		gate:         schedule.NewGate(settings),
		downloaderID: dl.ID,
		accountID:    account.ID,
	}
}

func (e *testEnv) createRecord(t *testing.T, hash string, status domain.DownloadStatus) *models.DownloadRecord {
	t.Helper()

	record, err := e.downloads.Create(t.Context(), &models.DownloadRecord{
		AccountID:    &e.accountID,
		TorrentID:    "t-" + hash,
		TorrentName:  "name-" + hash,
		TorrentSize:  1 << 30,
		DownloaderID: &e.downloaderID,
		InfoHash:     &hash,
		Status:       status,
	})
	require.NoError(t, err)
	return record
}

func item(hash, state string, progress float64) downloader.Item {
	return downloader.Item{Hash: hash, Name: "name-" + hash, Size: 1 << 30, State: state, Progress: progress}
}

func TestReconcileStepsStatuses(t *testing.T) {
	env := setupEnv(t)
	pending := env.createRecord(t, "aaaa000000000000000000000000000000000001", domain.StatusPending)
	downloading := env.createRecord(t, "aaaa000000000000000000000000000000000002", domain.StatusDownloading)
	completed := env.createRecord(t, "aaaa000000000000000000000000000000000003", domain.StatusCompleted)

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{items: []downloader.Item{
		item("aaaa000000000000000000000000000000000001", "downloading", 0.2),
		item("aaaa000000000000000000000000000000000002", "uploading", 1.0),
		item("aaaa000000000000000000000000000000000003", "uploading", 1.0),
	}}})

	changes, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	got, err := env.downloads.Get(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)

	got, err = env.downloads.Get(t.Context(), downloading.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status, "finished download lands in completed before seeding")

	got, err = env.downloads.Get(t.Context(), completed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSeeding, got.Status)
}

func TestReconcileMarksMissingHandleDeleted(t *testing.T) {
	env := setupEnv(t)
	record := env.createRecord(t, "aaaa000000000000000000000000000000000001", domain.StatusDownloading)

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{}})

	changes, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.StatusDeleted, changes[0].To)

	got, err := env.downloads.Get(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)
}

func TestReconcileLeavesEngineDeletedAlone(t *testing.T) {
	env := setupEnv(t)
	record := env.createRecord(t, "aaaa000000000000000000000000000000000001", domain.StatusSeeding)
	require.NoError(t, env.downloads.Transition(t.Context(), record.ID, domain.StatusExpiredDeleted))

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{}})

	changes, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	assert.Empty(t, changes)

	got, err := env.downloads.Get(t.Context(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpiredDeleted, got.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	env := setupEnv(t)
	env.createRecord(t, "aaaa000000000000000000000000000000000001", domain.StatusDownloading)

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{items: []downloader.Item{
		item("aaaa000000000000000000000000000000000001", "uploading", 1.0),
	}}})

	first, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same client state: the record is already completed and steps to
	// seeding, then a third run applies nothing.
	second, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, domain.StatusSeeding, second[0].To)

	third, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestReconcileImportsUnmappedHandles(t *testing.T) {
	env := setupEnv(t)

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{items: []downloader.Item{
		item("BBBB000000000000000000000000000000000001", "uploading", 1.0),
	}}})

	changes, err := svc.Reconcile(t.Context(), env.downloaderID, true)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	record, err := env.downloads.GetByHandle(t.Context(), env.downloaderID, "bbbb000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Nil(t, record.RuleID)
	assert.Nil(t, record.AccountID)
	assert.Equal(t, domain.StatusSeeding, record.Status)

	// A second run must not import it again.
	changes, err = svc.Reconcile(t.Context(), env.downloaderID, true)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestReconcileSkipsImportWithoutFlag(t *testing.T) {
	env := setupEnv(t)

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{items: []downloader.Item{
		item("bbbb000000000000000000000000000000000001", "downloading", 0.5),
	}}})

	changes, err := svc.Reconcile(t.Context(), env.downloaderID, false)
	require.NoError(t, err)
	assert.Empty(t, changes)

	_, total, err := env.downloads.List(t.Context(), models.DownloadFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestNextStatusPausedAndQueued(t *testing.T) {
	assert.Equal(t, domain.StatusPaused, nextStatus(domain.StatusDownloading, downloader.Item{State: "pausedDL", Progress: 0.4}))
	assert.Equal(t, domain.StatusQueued, nextStatus(domain.StatusDownloading, downloader.Item{State: "queuedDL", Progress: 0.4}))
	assert.Equal(t, domain.StatusDownloading, nextStatus(domain.StatusPaused, downloader.Item{State: "downloading", Progress: 0.4}))
	assert.Equal(t, domain.StatusPaused, nextStatus(domain.StatusDownloading, downloader.Item{State: "stopped", Progress: 0.4}))
}

func TestRunSkipsWhenGated(t *testing.T) {
	env := setupEnv(t)
	pending := env.createRecord(t, "aaaa000000000000000000000000000000000001", domain.StatusPending)

	// Enabled schedule with no window for auto_download denies the task.
	require.NoError(t, env.settings.SetSchedule(t.Context(), &models.ScheduleSettings{Enabled: true}))

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{items: []downloader.Item{
		item("aaaa000000000000000000000000000000000001", "downloading", 0.5),
	}}})
	require.NoError(t, svc.Run(t.Context()))

	got, err := env.downloads.Get(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status, "gated cycle must not touch records")
}

func TestRunAppliesWhenUngated(t *testing.T) {
	env := setupEnv(t)
	pending := env.createRecord(t, "aaaa000000000000000000000000000000000001", domain.StatusPending)

	svc := NewService(env.downloads, env.downloaders, env.gate, &fakePool{client: &fakeClient{items: []downloader.Item{
		item("aaaa000000000000000000000000000000000001", "downloading", 0.5),
	}}})
	require.NoError(t, svc.Run(t.Context()))

	got, err := env.downloads.Get(t.Context(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
}
