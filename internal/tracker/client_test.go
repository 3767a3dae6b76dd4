// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/domain"
)

func TestSearchParsesListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/torrent/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": "0",
			"message": "SUCCESS",
			"data": {
				"pageNumber": "1",
				"pageSize": "100",
				"total": "2",
				"data": [
					{
						"id": "4223985",
						"name": "Some.Movie.2025.2160p.WEB-DL",
						"smallDescr": "First listing",
						"category": "401",
						"size": "4294967296",
						"status": {
							"seeders": "12",
							"leechers": "3",
							"discount": "FREE",
							"discountEndTime": "2025-06-01 12:00:00"
						}
					},
					{
						"id": 422400,
						"name": "Other.Show.S01",
						"category": 402,
						"size": 1073741824,
						"status": {
							"seeders": 5,
							"leechers": 0,
							"discount": "MYSTERY_PROMO",
							"discountEndTime": null
						}
					}
				]
			}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	listings, total, err := client.Search(t.Context(), "test-key", domain.ModeNormal, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, listings, 2)

	first := listings[0]
	assert.Equal(t, "4223985", first.ID)
	assert.Equal(t, int64(4<<30), first.Size)
	assert.InDelta(t, 4.0, first.SizeGiB(), 0.001)
	assert.Equal(t, 12, first.Seeders)
	assert.Equal(t, domain.DiscountFree, first.Discount)
	require.NotNil(t, first.DiscountEndTime)
	assert.Equal(t, 2025, first.DiscountEndTime.Year())

	// numeric wire fields and unknown discounts normalize
	second := listings[1]
	assert.Equal(t, "422400", second.ID)
	assert.Equal(t, "402", second.Category)
	assert.Equal(t, domain.DiscountNone, second.Discount, "unknown promo fails closed")
	assert.Nil(t, second.DiscountEndTime)
}

func TestProfileParsesMemberCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/member/profile", r.URL.Path)
		w.Write([]byte(`{
			"code": "0",
			"data": {
				"username": "alice",
				"memberCount": {
					"uploaded": "1099511627776",
					"downloaded": "549755813888",
					"shareRate": "2.0",
					"bonus": "1234.5"
				}
			}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	profile, err := client.Profile(t.Context(), "key")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, float64(1<<40), profile.Uploaded)
	assert.Equal(t, 2.0, profile.Ratio)
	assert.Equal(t, 1234.5, profile.Bonus)
}

func TestDownloadTorrentUsesGeneratedURL(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	torrentBody := []byte("d8:announce3:foo4:infod4:name4:teste e")
	mux.HandleFunc("/api/torrent/genDlToken", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "777", r.Form.Get("id"))
		w.Write([]byte(`{"code": "0", "data": "` + server.URL + `/download/777?token=abc"}`))
	})
	mux.HandleFunc("/download/777", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		w.Write(torrentBody)
	})

	client := NewClient(server.URL, 5)
	data, err := client.DownloadTorrent(t.Context(), "key", "777")
	require.NoError(t, err)
	assert.Equal(t, torrentBody, data)
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http_401",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantErr: ErrUnauthorized,
		},
		{
			name: "http_429",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: ErrRateLimited,
		},
		{
			name: "api_bad_key_code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"code": "1", "message": "invalid api key"}`))
			},
			wantErr: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(server.URL, 5)
			_, _, err := client.Search(t.Context(), "bad-key", domain.ModeNormal, 1, 10)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"code": "0", "data": {"total": "0", "data": []}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)
	listings, total, err := client.Search(t.Context(), "key", domain.ModeAdult, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, listings)
	assert.Equal(t, 3, calls)
}

func TestParsePromoEnd(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{name: "wall_clock", raw: "2025-06-01 12:00:00", ok: true},
		{name: "rfc3339", raw: "2025-06-01T12:00:00Z", ok: true},
		{name: "epoch_millis", raw: "1748779200000", ok: true},
		{name: "empty", raw: "", ok: false},
		{name: "null_literal", raw: "null", ok: false},
		{name: "garbage", raw: "soon", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePromoEnd(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.False(t, got.IsZero())
				assert.True(t, got.After(time.Unix(0, 0)))
			}
		})
	}
}
