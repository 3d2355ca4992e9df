// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package client

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/scrobblebus/scrobblebus/internal/bus"
	"github.com/scrobblebus/scrobblebus/internal/metrics"
	"github.com/scrobblebus/scrobblebus/internal/models"
	"github.com/scrobblebus/scrobblebus/internal/transform"
)

// Run is the client worker loop. It consumes newPlay events from the bus,
// drains the queue, and sweeps the dead-letter list on a heartbeat. It
// returns on context cancellation, on show-stopper upstream errors (the
// supervisor restarts it with backoff), and on auth revocation (the client
// deauths first, so the restarted worker parks until re-auth).
func (c *Client) Run(ctx context.Context) error {
	if !c.life.Ready() {
		return ErrNotReady
	}
	if !c.scrobbling.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.scrobbling.Store(false)

	events, err := c.bus.Subscribe(ctx, bus.EventNewPlay)
	if err != nil {
		return err
	}

	c.life.SetStatus("running")
	defer c.life.SetStatus("idle")

	heartbeat := time.NewTicker(c.opts.DeadLetterInterval)
	defer heartbeat.Stop()
	drain := time.NewTimer(c.opts.ScrobbleSleep)
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			c.acceptEvent(ev)

		case <-heartbeat.C:
			c.processDeadLetters(ctx)

		case <-drain.C:
			err := c.processQueue(ctx)
			drain.Reset(c.opts.ScrobbleSleep)
			if err != nil {
				return err
			}
		}
	}
}

func (c *Client) acceptEvent(ev bus.Event) {
	if ev.Type != bus.EventNewPlay || ev.Play == nil {
		return
	}
	if !c.AcceptsSource(ev.Name) {
		c.logger.Debug().Str("source", ev.Name).Msg("source excluded, ignoring play")
		return
	}
	if err := c.Enqueue(ev.Name, *ev.Play); err != nil && !errors.Is(err, transform.ErrAllArtistsRemoved) {
		c.logger.Warn().Err(err).Msg("failed to enqueue play")
	}
}

// processQueue drains the queue in play-date order. A show-stopper puts the
// entry back at the head and propagates the error.
func (c *Client) processQueue(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q, ok := c.shift()
		if !ok {
			return nil
		}
		c.publish(bus.Event{Type: bus.EventScrobbleDequeued, Name: c.name, From: bus.FromClient, ScrobbleID: q.ID, Play: ref(q.Play)})

		if c.staleSnapshot(q.Play) {
			if err := c.refreshRecentScrobbles(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("failed to refresh recent scrobbles")
				if stopper := asShowStopper(err); stopper != nil {
					c.unshift(q)
					return stopper
				}
			}
		}

		if !c.timeFrameValid(q.Play) {
			c.logger.Info().Str("play", q.Play.String()).Msg("play predates upstream history, dropping")
			metrics.Scrobbles.WithLabelValues(c.name, "stale").Inc()
			continue
		}

		if existing, dup := c.alreadyScrobbled(q.Play); dup {
			c.logger.Info().Str("play", q.Play.String()).Str("existing", existing.String()).
				Msg("play already scrobbled, dropping")
			metrics.Scrobbles.WithLabelValues(c.name, "duplicate").Inc()
			continue
		}

		if err := c.attempt(ctx, q); err != nil {
			ue, isUpstream := AsUpstreamError(err)
			switch {
			case isUpstream && ue.AuthRevoked:
				c.life.Deauth(ue)
				c.unshift(q)
				return err
			case isUpstream && !ue.ShowStopper:
				c.addDeadLetter(q, err)
				continue
			default:
				c.unshift(q)
				return err
			}
		}
	}
}

// attempt runs the postCompare transform and submits the play, paced by the
// rate limiter and guarded by the circuit breaker.
func (c *Client) attempt(ctx context.Context, q models.QueuedScrobble) error {
	play, err := c.opts.Transform.ApplyPost(q.Play, c.logger)
	if err != nil {
		// postCompare emptied every artist: drop with a warning rather than
		// submit an artistless play.
		c.logger.Warn().Err(err).Str("play", q.Play.String()).Msg("dropping scrobble removed by postCompare")
		metrics.Scrobbles.WithLabelValues(c.name, "dropped").Inc()
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	result, err := c.breaker.Execute(func() (models.Play, error) {
		return c.adapter.Scrobble(ctx, play)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return NewShowStopper("scrobble circuit open", err)
		}
		metrics.Scrobbles.WithLabelValues(c.name, "error").Inc()
		return err
	}

	c.scrobbled.Push(models.ScrobbledPlay{Play: q.Play, Scrobble: result})
	metrics.Scrobbles.WithLabelValues(c.name, "ok").Inc()
	c.logger.Info().Str("play", q.Play.String()).Msg("scrobbled")
	c.publish(bus.Event{Type: bus.EventScrobble, Name: c.name, From: bus.FromClient, ScrobbleID: q.ID, Play: ref(q.Play)})
	return nil
}

// staleSnapshot reports whether the upstream snapshot predates the play
// about to be checked against it.
func (c *Client) staleSnapshot(play models.Play) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastScrobbleCheck.Before(play.Data.PlayDate)
}

func (c *Client) shift() (models.QueuedScrobble, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return models.QueuedScrobble{}, false
	}
	q := c.queue[0]
	c.queue = c.queue[1:]
	metrics.QueueDepth.WithLabelValues(c.name).Set(float64(len(c.queue)))
	return q, true
}

func (c *Client) unshift(q models.QueuedScrobble) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append([]models.QueuedScrobble{q}, c.queue...)
	metrics.QueueDepth.WithLabelValues(c.name).Set(float64(len(c.queue)))
}

func asShowStopper(err error) error {
	if ue, ok := AsUpstreamError(err); ok && ue.ShowStopper {
		return err
	}
	return nil
}
