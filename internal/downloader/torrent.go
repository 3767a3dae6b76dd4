// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

// InfoHash computes the v1 info hash of a torrent file, lowercase hex. The
// engine records it at dispatch time so client items can be mapped back to
// records without trusting either side's naming.
func InfoHash(fileData []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(fileData))
	if err != nil {
		return "", fmt.Errorf("parse torrent file: %w", err)
	}
	return mi.HashInfoBytes().HexString(), nil
}

// TorrentMeta is what the engine needs off an uploaded torrent file.
type TorrentMeta struct {
	InfoHash string
	Name     string
	Size     int64
}

// ParseTorrent extracts the info hash plus the display name and total
// content size from a torrent file.
func ParseTorrent(fileData []byte) (*TorrentMeta, error) {
	mi, err := metainfo.Load(bytes.NewReader(fileData))
	if err != nil {
		return nil, fmt.Errorf("parse torrent file: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("parse torrent info: %w", err)
	}
	return &TorrentMeta{
		InfoHash: mi.HashInfoBytes().HexString(),
		Name:     info.BestName(),
		Size:     info.TotalLength(),
	}, nil
}
