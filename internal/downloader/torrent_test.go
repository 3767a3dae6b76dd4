// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTorrent(name string) []byte {
	return fmt.Appendf(nil,
		"d4:infod6:lengthi16384e4:name%d:%s12:piece lengthi16384e6:pieces20:aaaaaaaaaaaaaaaaaaaaee",
		len(name), name)
}

func TestInfoHash(t *testing.T) {
	hash, err := InfoHash(testTorrent("some.release"))
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{40}$", hash)

	other, err := InfoHash(testTorrent("other.release"))
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)

	// stable across calls
	again, err := InfoHash(testTorrent("some.release"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)
}

func TestInfoHashRejectsGarbage(t *testing.T) {
	_, err := InfoHash([]byte("not bencode"))
	assert.Error(t, err)
}

func TestParseTorrent(t *testing.T) {
	meta, err := ParseTorrent(testTorrent("some.release"))
	require.NoError(t, err)
	assert.Equal(t, "some.release", meta.Name)
	assert.EqualValues(t, 16384, meta.Size)
	assert.Regexp(t, "^[0-9a-f]{40}$", meta.InfoHash)

	hash, err := InfoHash(testTorrent("some.release"))
	require.NoError(t, err)
	assert.Equal(t, hash, meta.InfoHash)
}
