// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tracker talks to the private tracker's REST API: listing search,
// member profile, and torrent file retrieval.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/buildinfo"
	"github.com/autoseed/seedarr/internal/domain"
)

const maxTorrentDownloadBytes int64 = 16 << 20 // 16 MiB safety limit for torrent blobs

var (
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("tracker rejected the api key")

	// ErrRateLimited means the tracker asked us to back off.
	ErrRateLimited = errors.New("tracker rate limit hit")
)

// APIError is a tracker-level failure: the HTTP exchange worked but the
// response code signals an error.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker api error %s: %s", e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// envelope is the tracker's uniform response wrapper. Code "0" is success.
type envelope struct {
	Code    flexString      `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchPage struct {
	PageNumber flexString        `json:"pageNumber"`
	PageSize   flexString        `json:"pageSize"`
	Total      flexString        `json:"total"`
	Data       []json.RawMessage `json:"data"`
}

// Profile is the member snapshot used for account refresh.
type Profile struct {
	Username   string
	Uploaded   float64
	Downloaded float64
	Ratio      float64
	Bonus      float64
}

type wireProfile struct {
	Username    string `json:"username"`
	MemberCount struct {
		Uploaded   flexString `json:"uploaded"`
		Downloaded flexString `json:"downloaded"`
		ShareRate  flexString `json:"shareRate"`
		Bonus      flexString `json:"bonus"`
	} `json:"memberCount"`
}

// Search fetches one page of listings for the given mode. Returns listings
// and the tracker-reported total row count.
func (c *Client) Search(ctx context.Context, apiKey string, mode domain.Mode, pageNumber, pageSize int) ([]Listing, int, error) {
	if pageNumber <= 0 {
		pageNumber = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	body := map[string]any{
		"mode":       string(mode),
		"pageNumber": pageNumber,
		"pageSize":   pageSize,
	}

	data, err := c.postJSON(ctx, apiKey, "/api/torrent/search", body)
	if err != nil {
		return nil, 0, err
	}

	var page searchPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, 0, fmt.Errorf("decode search page: %w", err)
	}

	listings := make([]Listing, 0, len(page.Data))
	for _, raw := range page.Data {
		var w wireListing
		if err := json.Unmarshal(raw, &w); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable tracker listing")
			continue
		}
		listings = append(listings, w.toListing())
	}

	return listings, int(parseInt64(string(page.Total))), nil
}

// Profile fetches the member usage snapshot for an account.
func (c *Client) Profile(ctx context.Context, apiKey string) (*Profile, error) {
	data, err := c.postJSON(ctx, apiKey, "/api/member/profile", nil)
	if err != nil {
		return nil, err
	}

	var w wireProfile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	return &Profile{
		Username:   w.Username,
		Uploaded:   parseFloat(string(w.MemberCount.Uploaded)),
		Downloaded: parseFloat(string(w.MemberCount.Downloaded)),
		Ratio:      parseFloat(string(w.MemberCount.ShareRate)),
		Bonus:      parseFloat(string(w.MemberCount.Bonus)),
	}, nil
}

// GenerateDownloadURL asks the tracker for a tokenized download URL for a
// listing. The URL embeds a short-lived credential.
func (c *Client) GenerateDownloadURL(ctx context.Context, apiKey, torrentID string) (string, error) {
	form := url.Values{"id": {torrentID}}

	data, err := c.postForm(ctx, apiKey, "/api/torrent/genDlToken", form)
	if err != nil {
		return "", err
	}

	var downloadURL string
	if err := json.Unmarshal(data, &downloadURL); err != nil {
		return "", fmt.Errorf("decode download url: %w", err)
	}
	if strings.TrimSpace(downloadURL) == "" {
		return "", errors.New("tracker returned empty download url")
	}

	return downloadURL, nil
}

// DownloadTorrent fetches the raw torrent file for a listing.
func (c *Client) DownloadTorrent(ctx context.Context, apiKey, torrentID string) ([]byte, error) {
	downloadURL, err := c.GenerateDownloadURL(ctx, apiKey, torrentID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, application/octet-stream")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrent download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("torrent download from %s returned status %d", downloadURL, resp.StatusCode)
	}

	limitedReader := io.LimitReader(resp.Body, maxTorrentDownloadBytes+1)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("read torrent body: %w", err)
	}
	if int64(len(data)) > maxTorrentDownloadBytes {
		return nil, fmt.Errorf("torrent download exceeded %d bytes limit", maxTorrentDownloadBytes)
	}

	return data, nil
}

func (c *Client) postJSON(ctx context.Context, apiKey, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	return c.do(ctx, apiKey, path, "application/json", payload)
}

func (c *Client) postForm(ctx context.Context, apiKey, path string, form url.Values) (json.RawMessage, error) {
	return c.do(ctx, apiKey, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// do runs one tracker call with retries on transport errors and 5xx. Auth
// failures and rate limits surface immediately as typed errors.
func (c *Client) do(ctx context.Context, apiKey, path, contentType string, payload []byte) (json.RawMessage, error) {
	var data json.RawMessage

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Accept", "application/json")
			req.Header.Set("User-Agent", buildinfo.UserAgent)
			req.Header.Set("x-api-key", apiKey)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(ErrUnauthorized)
			case resp.StatusCode == http.StatusTooManyRequests:
				return retry.Unrecoverable(ErrRateLimited)
			case resp.StatusCode >= http.StatusInternalServerError:
				return fmt.Errorf("tracker returned status %d", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return retry.Unrecoverable(fmt.Errorf("tracker returned status %d", resp.StatusCode))
			}

			var env envelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				return fmt.Errorf("decode tracker response: %w", err)
			}

			if string(env.Code) != "0" {
				apiErr := &APIError{Code: string(env.Code), Message: env.Message}
				// The tracker signals bad credentials through its own code
				// space rather than HTTP status.
				if strings.Contains(strings.ToLower(env.Message), "key") {
					return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrUnauthorized, env.Message))
				}
				return retry.Unrecoverable(apiErr)
			}

			data = env.Data
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func parseFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v
}
