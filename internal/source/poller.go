// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrAlreadyPolling is returned when Poll is entered twice.
var ErrAlreadyPolling = errors.New("source is already polling")

// ErrNotReady is returned when Poll is called before initialization (or
// before auth) completed.
var ErrNotReady = errors.New("source is not initialized")

// Poll runs the fetch loop until ctx is canceled. Consecutive fetch
// failures back off exponentially; a success resets the attempt counter.
// Valid only on an initialized, authed, poll-capable source, and rejects
// re-entrancy.
func (s *Source) Poll(ctx context.Context) error {
	if !s.caps.CanPoll || s.adapter == nil {
		return fmt.Errorf("source %s cannot poll", s.name)
	}
	if !s.life.Ready() {
		return ErrNotReady
	}
	if !s.polling.CompareAndSwap(false, true) {
		return ErrAlreadyPolling
	}
	defer s.polling.Store(false)

	s.life.SetStatus("polling")
	defer s.life.SetStatus("idle")

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.pollOnce(ctx)
		var delay time.Duration
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			attempt++
			delay = s.backoffDelay(attempt)
			s.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("poll failed")
		} else {
			attempt = 0
			delay = s.opts.Interval
		}

		if s.players != nil {
			s.players.Sweep()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Polling reports whether the poll loop is running.
func (s *Source) Polling() bool { return s.polling.Load() }

func (s *Source) pollOnce(ctx context.Context) error {
	plays, err := s.adapter.FetchRecent(ctx)
	if err != nil {
		return err
	}

	if s.tracker != nil {
		fresh, ok := s.tracker.observe(plays)
		if !ok {
			s.logger.Debug().Msg("history list unstable, suppressing this tick")
			return nil
		}
		plays = fresh
	}

	s.Discover(ctx, plays)
	return nil
}

// backoffDelay computes base * multiplier^(attempt-1) for the 1-based
// attempt, clamped at the maximum.
func (s *Source) backoffDelay(attempt int) time.Duration {
	mult := math.Pow(s.opts.BackoffMultiplier, float64(attempt-1))
	delay := time.Duration(float64(s.opts.BackoffBase) * mult)
	if delay > s.opts.BackoffMax || delay <= 0 {
		delay = s.opts.BackoffMax
	}
	return delay
}
