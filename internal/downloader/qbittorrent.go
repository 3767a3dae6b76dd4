// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
)

// QBittorrentClient adapts go-qbittorrent to the Client interface.
type QBittorrentClient struct {
	client *qbt.Client
}

func NewQBittorrentClient(baseURL, username, password string, timeoutSeconds int) *QBittorrentClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	return &QBittorrentClient{
		client: qbt.NewClient(qbt.Config{
			Host:     baseURL,
			Username: username,
			Password: password,
			Timeout:  timeoutSeconds,
		}),
	}
}

func (c *QBittorrentClient) TestConnection(ctx context.Context) error {
	if err := c.client.LoginCtx(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrAuthFailed, err)
	}
	if _, err := c.client.GetWebAPIVersionCtx(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

func (c *QBittorrentClient) AddTorrent(ctx context.Context, fileData []byte, opts AddOptions) error {
	options := map[string]string{}
	if opts.SavePath != "" {
		options["savepath"] = opts.SavePath
	}
	if len(opts.Tags) > 0 {
		options["tags"] = strings.Join(opts.Tags, ",")
	}
	if opts.Category != "" {
		options["category"] = opts.Category
	}
	if opts.Paused {
		options["paused"] = "true"
		options["stopped"] = "true"
	}

	if err := c.client.AddTorrentFromMemoryCtx(ctx, fileData, options); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

func (c *QBittorrentClient) ListItems(ctx context.Context) ([]Item, error) {
	torrents, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	items := make([]Item, 0, len(torrents))
	for _, t := range torrents {
		items = append(items, Item{
			Hash:     strings.ToLower(t.Hash),
			Name:     t.Name,
			Size:     t.Size,
			Progress: t.Progress,
			Ratio:    t.Ratio,
			AddedOn:  time.Unix(t.AddedOn, 0),
			Tags:     splitTags(t.Tags),
			Category: t.Category,
			State:    string(t.State),
			SavePath: t.SavePath,
		})
	}

	return items, nil
}

func (c *QBittorrentClient) RemoveItems(ctx context.Context, hashes []string, deleteFiles bool) error {
	if len(hashes) == 0 {
		return nil
	}
	if err := c.client.DeleteTorrentsCtx(ctx, hashes, deleteFiles); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

func (c *QBittorrentClient) ListTags(ctx context.Context) ([]string, error) {
	tags, err := c.client.GetTagsCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return tags, nil
}

func (c *QBittorrentClient) Stats(ctx context.Context) (*Stats, error) {
	data, err := c.client.SyncMainDataCtx(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	stats := &Stats{}
	if data != nil {
		stats.FreeSpaceBytes = data.ServerState.FreeSpaceOnDisk
		stats.DownloadSpeed = data.ServerState.DlInfoSpeed
		stats.UploadSpeed = data.ServerState.UpInfoSpeed
	}

	return stats, nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
