// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
)

var (
	ErrClientNotFound     = errors.New("download client not found")
	ErrDownloaderDisabled = errors.New("downloader is disabled")
)

// Pool hands out connected Client instances keyed by downloader id and
// caches them across poll cycles. Invalidate drops a cached client after its
// configuration changes.
type Pool struct {
	store *models.DownloaderStore

	mu      sync.RWMutex
	clients map[int]Client

	// newClient is swappable for tests
	newClient func(d *models.Downloader, password string) (Client, error)
}

func NewPool(store *models.DownloaderStore) *Pool {
	return &Pool{
		store:     store,
		clients:   make(map[int]Client),
		newClient: buildClient,
	}
}

func buildClient(d *models.Downloader, password string) (Client, error) {
	switch d.Type {
	case domain.DownloaderQBittorrent:
		return NewQBittorrentClient(d.URL(), d.Username, password, 30), nil
	case domain.DownloaderTransmission:
		return NewTransmissionClient(d.URL(), d.Username, password)
	default:
		return nil, errors.Errorf("unknown downloader type %q", d.Type)
	}
}

// Get returns a client for the downloader, creating and caching it on first
// use.
func (p *Pool) Get(ctx context.Context, downloaderID int) (Client, error) {
	p.mu.RLock()
	client, ok := p.clients[downloaderID]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	downloader, err := p.store.Get(ctx, downloaderID)
	if err != nil {
		if errors.Is(err, models.ErrDownloaderNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	if !downloader.IsActive {
		return nil, ErrDownloaderDisabled
	}

	password, err := p.store.GetDecryptedPassword(downloader)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt downloader password")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// another goroutine may have won the race
	if client, ok := p.clients[downloaderID]; ok {
		return client, nil
	}

	client, err = p.newClient(downloader, password)
	if err != nil {
		return nil, err
	}

	p.clients[downloaderID] = client
	log.Debug().Int("downloaderID", downloaderID).Str("type", string(downloader.Type)).Msg("Created download client")

	return client, nil
}

// SetClientFactory swaps client construction, letting tests inject fakes.
func (p *Pool) SetClientFactory(f func(d *models.Downloader, password string) (Client, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newClient = f
}

// Invalidate drops the cached client for a downloader. The next Get rebuilds
// it from current configuration.
func (p *Pool) Invalidate(downloaderID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, downloaderID)
}
