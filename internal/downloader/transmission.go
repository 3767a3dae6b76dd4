// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/hekmon/transmissionrpc/v3"
)

// TransmissionClient adapts transmissionrpc to the Client interface.
type TransmissionClient struct {
	client *transmissionrpc.Client
}

func NewTransmissionClient(baseURL, username, password string) (*TransmissionClient, error) {
	endpoint, err := url.Parse(strings.TrimRight(baseURL, "/") + "/transmission/rpc")
	if err != nil {
		return nil, fmt.Errorf("parse transmission endpoint: %w", err)
	}
	if username != "" {
		endpoint.User = url.UserPassword(username, password)
	}

	client, err := transmissionrpc.New(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create transmission client: %w", err)
	}

	return &TransmissionClient{client: client}, nil
}

func (c *TransmissionClient) TestConnection(ctx context.Context) error {
	ok, serverVersion, _, err := c.client.RPCVersion(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "401") {
			return fmt.Errorf("%w: %s", ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: transmission rpc version %d not supported", ErrUnavailable, serverVersion)
	}
	return nil
}

func (c *TransmissionClient) AddTorrent(ctx context.Context, fileData []byte, opts AddOptions) error {
	metaInfo := base64.StdEncoding.EncodeToString(fileData)

	payload := transmissionrpc.TorrentAddPayload{
		MetaInfo: &metaInfo,
	}
	if opts.SavePath != "" {
		payload.DownloadDir = &opts.SavePath
	}
	if opts.Paused {
		paused := true
		payload.Paused = &paused
	}
	if len(opts.Tags) > 0 {
		payload.Labels = opts.Tags
	}

	if _, err := c.client.TorrentAdd(ctx, payload); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

func (c *TransmissionClient) ListItems(ctx context.Context) ([]Item, error) {
	torrents, err := c.client.TorrentGetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	items := make([]Item, 0, len(torrents))
	for _, t := range torrents {
		item := Item{Tags: t.Labels}
		if t.HashString != nil {
			item.Hash = strings.ToLower(*t.HashString)
		}
		if t.Name != nil {
			item.Name = *t.Name
		}
		if t.TotalSize != nil {
			item.Size = int64(t.TotalSize.Byte())
		}
		if t.PercentDone != nil {
			item.Progress = *t.PercentDone
		}
		if t.UploadRatio != nil && *t.UploadRatio > 0 {
			item.Ratio = *t.UploadRatio
		}
		if t.AddedDate != nil {
			item.AddedOn = *t.AddedDate
		}
		if t.Status != nil {
			item.State = t.Status.String()
		}
		if t.DownloadDir != nil {
			item.SavePath = *t.DownloadDir
		}
		items = append(items, item)
	}

	return items, nil
}

func (c *TransmissionClient) RemoveItems(ctx context.Context, hashes []string, deleteFiles bool) error {
	if len(hashes) == 0 {
		return nil
	}

	// transmission removes by numeric id, so resolve hashes first
	torrents, err := c.client.TorrentGetAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	wanted := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		wanted[strings.ToLower(h)] = struct{}{}
	}

	var ids []int64
	for _, t := range torrents {
		if t.HashString == nil || t.ID == nil {
			continue
		}
		if _, ok := wanted[strings.ToLower(*t.HashString)]; ok {
			ids = append(ids, *t.ID)
		}
	}

	if len(ids) == 0 {
		return nil
	}

	err = c.client.TorrentRemove(ctx, transmissionrpc.TorrentRemovePayload{
		IDs:             ids,
		DeleteLocalData: deleteFiles,
	})
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	return nil
}

func (c *TransmissionClient) ListTags(ctx context.Context) ([]string, error) {
	// transmission has no global tag registry; collect labels off the items
	items, err := c.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var tags []string
	for _, item := range items {
		for _, tag := range item.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	return tags, nil
}

func (c *TransmissionClient) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	sessionStats, err := c.client.SessionStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	stats.DownloadSpeed = sessionStats.DownloadSpeed
	stats.UploadSpeed = sessionStats.UploadSpeed

	session, err := c.client.SessionArgumentsGetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if session.DownloadDir != nil {
		free, _, err := c.client.FreeSpace(ctx, *session.DownloadDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		stats.FreeSpaceBytes = int64(free.Byte())
	}

	return stats, nil
}
