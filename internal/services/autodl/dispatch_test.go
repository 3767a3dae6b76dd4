// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package autodl

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/tracker"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestDispatchPushesAndRecords(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	source := &fakeTracker{}
	d := NewDispatcher(env.downloads, source, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) {
		r.DownloaderID = ptr(1)
		r.SavePath = "/downloads/movies"
		r.Tags = []string{"seedarr"}
	})

	record, err := d.Dispatch(t.Context(), env.account, "key", RuleMatch{
		Listing: tracker.Listing{ID: "101", Name: "Some.Movie", Size: 3 * gib, Discount: domain.DiscountFree},
		Rule:    rule,
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, domain.StatusPending, record.Status)
	assert.Equal(t, "101", record.TorrentID)
	assert.Equal(t, &rule.ID, record.RuleID)
	assert.Equal(t, rule.DownloaderID, record.DownloaderID)
	require.NotNil(t, record.InfoHash)
	assert.Regexp(t, hexHash, *record.InfoHash)
	assert.Equal(t, 1, client.addCount())
}

func TestDispatchSkipsRuleWithoutDownloader(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	d := NewDispatcher(env.downloads, &fakeTracker{}, &fakePool{client: client})

	rule := env.createRule(t, nil)

	record, err := d.Dispatch(t.Context(), env.account, "key", RuleMatch{
		Listing: tracker.Listing{ID: "101", Name: "Some.Movie"},
		Rule:    rule,
	})
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Zero(t, client.addCount())

	_, total, err := env.downloads.List(t.Context(), models.DownloadFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDispatchSkipsAlreadyTracked(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	d := NewDispatcher(env.downloads, &fakeTracker{}, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) { r.DownloaderID = ptr(1) })

	match := RuleMatch{
		Listing: tracker.Listing{ID: "101", Name: "Some.Movie"},
		Rule:    rule,
	}

	first, err := d.Dispatch(t.Context(), env.account, "key", match)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := d.Dispatch(t.Context(), env.account, "key", match)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, client.addCount())
}

func TestDispatchRetriesAfterTerminalRecord(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	d := NewDispatcher(env.downloads, &fakeTracker{}, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) { r.DownloaderID = ptr(1) })

	match := RuleMatch{
		Listing: tracker.Listing{ID: "101", Name: "Some.Movie"},
		Rule:    rule,
	}

	first, err := d.Dispatch(t.Context(), env.account, "key", match)
	require.NoError(t, err)
	require.NoError(t, env.downloads.Transition(t.Context(), first.ID, domain.StatusFailed))

	second, err := d.Dispatch(t.Context(), env.account, "key", match)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, client.addCount())
}

func TestDispatchRespectsMaxDownloading(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	d := NewDispatcher(env.downloads, &fakeTracker{}, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) {
		r.DownloaderID = ptr(1)
		r.MaxDownloading = ptr(2)
	})

	for i := 0; i < 3; i++ {
		record, err := d.Dispatch(t.Context(), env.account, "key", RuleMatch{
			Listing: tracker.Listing{ID: fmt.Sprintf("%d", 100+i), Name: fmt.Sprintf("Movie.%d", i)},
			Rule:    rule,
		})
		require.NoError(t, err)
		if i < 2 {
			require.NotNil(t, record)
		} else {
			assert.Nil(t, record, "third dispatch should be skipped at cap")
		}
	}

	active, err := env.downloads.CountActiveForRule(t.Context(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active)
}

func TestDispatchCapHoldsUnderConcurrency(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	d := NewDispatcher(env.downloads, &fakeTracker{}, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) {
		r.DownloaderID = ptr(1)
		r.MaxDownloading = ptr(3)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Dispatch(t.Context(), env.account, "key", RuleMatch{
				Listing: tracker.Listing{ID: fmt.Sprintf("%d", 200+i), Name: fmt.Sprintf("Movie.%d", i)},
				Rule:    rule,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := env.downloads.CountActiveForRule(t.Context(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, active)
}

func TestDispatchFailureLeavesNoRecord(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{addErr: errors.New("disk full")}
	d := NewDispatcher(env.downloads, &fakeTracker{}, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) { r.DownloaderID = ptr(1) })

	record, err := d.Dispatch(t.Context(), env.account, "key", RuleMatch{
		Listing: tracker.Listing{ID: "101", Name: "Some.Movie"},
		Rule:    rule,
	})
	require.Error(t, err)
	assert.Nil(t, record)

	_, total, err := env.downloads.List(t.Context(), models.DownloadFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "failed push must not leave a record")
}

func TestDispatchTrackerFetchFailure(t *testing.T) {
	env := setupEnv(t)
	client := &fakeClient{}
	source := &fakeTracker{downloadErr: errors.New("upstream timeout")}
	d := NewDispatcher(env.downloads, source, &fakePool{client: client})

	rule := env.createRule(t, func(r *models.Rule) { r.DownloaderID = ptr(1) })

	_, err := d.Dispatch(t.Context(), env.account, "key", RuleMatch{
		Listing: tracker.Listing{ID: "101", Name: "Some.Movie"},
		Rule:    rule,
	})
	require.Error(t, err)
	assert.Zero(t, client.addCount())
}
