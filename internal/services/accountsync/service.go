// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package accountsync refreshes tracker profile stats (upload, download,
// ratio, bonus) for every active account.
package accountsync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/schedule"
	"github.com/autoseed/seedarr/internal/tracker"
)

// ProfileSource fetches the member profile behind an api key.
type ProfileSource interface {
	Profile(ctx context.Context, apiKey string) (*tracker.Profile, error)
}

type Service struct {
	accounts *models.AccountStore
	gate     *schedule.Gate
	source   ProfileSource
}

func NewService(accounts *models.AccountStore, gate *schedule.Gate, source ProfileSource) *Service {
	return &Service{
		accounts: accounts,
		gate:     gate,
		source:   source,
	}
}

// Run refreshes every active account once. Per-account failures are isolated;
// an auth rejection suspends just that account.
func (s *Service) Run(ctx context.Context) error {
	allowed, err := s.gate.Allowed(ctx, domain.TaskAccountRefresh, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to evaluate schedule gate")
	}
	if !allowed {
		log.Debug().Msg("account refresh outside scheduled window, skipping cycle")
		return nil
	}

	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list accounts")
	}

	for _, account := range accounts {
		if err := s.Refresh(ctx, account); err != nil {
			log.Error().Err(err).Str("account", account.Username).Msg("account refresh failed")
		}
	}
	return nil
}

// Refresh pulls one account's profile and stores the stats snapshot.
func (s *Service) Refresh(ctx context.Context, account *models.Account) error {
	apiKey, err := s.accounts.GetDecryptedAPIKey(account)
	if err != nil {
		return errors.Wrap(err, "failed to decrypt api key")
	}

	profile, err := s.source.Profile(ctx, apiKey)
	if err != nil {
		if errors.Is(err, tracker.ErrUnauthorized) {
			inactive := false
			if _, updateErr := s.accounts.Update(ctx, account.ID, "", "", &inactive); updateErr != nil {
				log.Error().Err(updateErr).Str("account", account.Username).Msg("failed to suspend account")
			}
			return errors.Wrap(err, "tracker rejected credentials, account suspended")
		}
		return errors.Wrap(err, "failed to fetch profile")
	}

	if err := s.accounts.UpdateStats(ctx, account.ID, models.AccountStats{
		Uploaded:   profile.Uploaded,
		Downloaded: profile.Downloaded,
		Ratio:      profile.Ratio,
		Bonus:      profile.Bonus,
	}); err != nil {
		return errors.Wrap(err, "failed to store stats")
	}

	log.Debug().
		Str("account", account.Username).
		Float64("ratio", profile.Ratio).
		Msg("refreshed account stats")
	return nil
}
