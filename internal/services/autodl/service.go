// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package autodl polls tracker listings for each active account, evaluates
// them against the account's enabled rules, and pushes matches to the rule's
// download client.
package autodl

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/metrics"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/schedule"
	"github.com/autoseed/seedarr/internal/tracker"
)

const (
	defaultPageSize    = 100
	accountConcurrency = 4
)

// ListingSource fetches candidate listings from the tracker.
type ListingSource interface {
	Search(ctx context.Context, apiKey string, mode domain.Mode, pageNumber, pageSize int) ([]tracker.Listing, int, error)
}

type Service struct {
	accounts   *models.AccountStore
	rules      *models.RuleStore
	gate       *schedule.Gate
	listings   ListingSource
	dispatcher *Dispatcher
	metrics    *metrics.Manager
	pageSize   int
}

func NewService(accounts *models.AccountStore, rules *models.RuleStore, gate *schedule.Gate, listings ListingSource, dispatcher *Dispatcher) *Service {
	return &Service{
		accounts:   accounts,
		rules:      rules,
		gate:       gate,
		listings:   listings,
		dispatcher: dispatcher,
		pageSize:   defaultPageSize,
	}
}

// SetMetrics attaches match counters. Safe to leave unset in tests.
func (s *Service) SetMetrics(m *metrics.Manager) {
	s.metrics = m
	s.dispatcher.SetMetrics(m)
}

// Run executes one poll cycle across all active accounts. Accounts are polled
// concurrently; failures in one account or rule never abort the others.
func (s *Service) Run(ctx context.Context) error {
	allowed, err := s.gate.Allowed(ctx, domain.TaskAutoDownload, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to evaluate schedule gate")
	}
	if !allowed {
		log.Debug().Msg("auto-download outside scheduled window, skipping cycle")
		return nil
	}

	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list accounts")
	}

	var g errgroup.Group
	g.SetLimit(accountConcurrency)
	for _, account := range accounts {
		g.Go(func() error {
			if err := s.pollAccount(ctx, account); err != nil {
				log.Error().Err(err).Str("account", account.Username).Msg("account poll failed")
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) pollAccount(ctx context.Context, account *models.Account) error {
	// Rules are re-read every cycle so edits apply on the next tick.
	rules, err := s.rules.ListEnabled(ctx, account.ID)
	if err != nil {
		return errors.Wrap(err, "failed to list rules")
	}
	if len(rules) == 0 {
		return nil
	}

	apiKey, err := s.accounts.GetDecryptedAPIKey(account)
	if err != nil {
		return errors.Wrap(err, "failed to decrypt api key")
	}

	for _, mode := range ruleModes(rules) {
		listings, _, err := s.listings.Search(ctx, apiKey, mode, 1, s.pageSize)
		if s.metrics != nil {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			s.metrics.TrackerRequests.WithLabelValues(outcome).Inc()
		}
		if err != nil {
			if errors.Is(err, tracker.ErrUnauthorized) {
				s.suspendAccount(ctx, account)
				return errors.Wrap(err, "tracker rejected credentials, account suspended")
			}
			log.Error().Err(err).
				Str("account", account.Username).
				Str("mode", string(mode)).
				Msg("listing fetch failed, will retry next cycle")
			continue
		}

		for _, listing := range listings {
			for _, match := range Match(listing, mode, rules) {
				if s.metrics != nil {
					s.metrics.TorrentsMatched.WithLabelValues(match.Rule.Name).Inc()
				}
				if _, err := s.dispatcher.Dispatch(ctx, account, apiKey, match); err != nil {
					log.Error().Err(err).
						Int("ruleId", match.Rule.ID).
						Str("torrentId", listing.ID).
						Msg("dispatch failed, will retry next cycle")
				}
			}
		}
	}
	return nil
}

// suspendAccount deactivates an account whose credentials the tracker
// rejected. Other accounts keep polling; the account stays suspended until
// its key is updated through the API.
func (s *Service) suspendAccount(ctx context.Context, account *models.Account) {
	inactive := false
	if _, err := s.accounts.Update(ctx, account.ID, "", "", &inactive); err != nil {
		log.Error().Err(err).Str("account", account.Username).Msg("failed to suspend account")
	}
}

func ruleModes(rules []*models.Rule) []domain.Mode {
	var modes []domain.Mode
	seen := make(map[domain.Mode]bool)
	for _, rule := range rules {
		if !seen[rule.Mode] {
			seen[rule.Mode] = true
			modes = append(modes, rule.Mode)
		}
	}
	return modes
}
