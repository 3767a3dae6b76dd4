// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloader abstracts the download clients records get pushed to.
// Two implementations exist, qBittorrent and Transmission, behind a single
// capability interface so the engine never branches on client type.
package downloader

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the client could not be reached.
	ErrUnavailable = errors.New("download client unavailable")

	// ErrAuthFailed means the client rejected the credentials.
	ErrAuthFailed = errors.New("download client authentication failed")
)

// Item is one torrent as seen by a download client.
type Item struct {
	Hash     string
	Name     string
	Size     int64
	Progress float64 // 0..1
	Ratio    float64
	AddedOn  time.Time
	Tags     []string
	Category string
	State    string
	SavePath string
}

// HasTag reports whether the item carries the given tag (or label).
func (i *Item) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddOptions control how a torrent is added to a client.
type AddOptions struct {
	SavePath string
	Tags     []string
	Category string
	Paused   bool
}

// Stats is the client-wide snapshot the capacity pass works from.
type Stats struct {
	FreeSpaceBytes int64
	DownloadSpeed  int64
	UploadSpeed    int64
}

// Client is the capability surface the engine needs from a download client.
type Client interface {
	// TestConnection verifies reachability and credentials.
	TestConnection(ctx context.Context) error

	// AddTorrent pushes a torrent file into the client.
	AddTorrent(ctx context.Context, fileData []byte, opts AddOptions) error

	// ListItems returns every torrent the client holds.
	ListItems(ctx context.Context) ([]Item, error)

	// RemoveItems removes torrents by hash, optionally including their data.
	RemoveItems(ctx context.Context, hashes []string, deleteFiles bool) error

	// ListTags returns the tags (labels) known to the client.
	ListTags(ctx context.Context) ([]string, error)

	// Stats returns free space and transfer speeds.
	Stats(ctx context.Context) (*Stats, error)
}
