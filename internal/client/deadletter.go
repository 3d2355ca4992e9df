// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/scrobblebus/scrobblebus/internal/bus"
	"github.com/scrobblebus/scrobblebus/internal/metrics"
	"github.com/scrobblebus/scrobblebus/internal/models"
)

// deadLetterPause spaces the replay attempts within one heartbeat sweep.
const deadLetterPause = time.Second

// addDeadLetter moves a failed scrobble to the dead-letter queue.
func (c *Client) addDeadLetter(q models.QueuedScrobble, cause error) {
	entry := models.DeadLetterScrobble{
		QueuedScrobble: q,
		LastError:      cause.Error(),
	}

	c.mu.Lock()
	c.dead = append(c.dead, entry)
	depth := len(c.dead)
	c.mu.Unlock()

	metrics.Scrobbles.WithLabelValues(c.name, "dead_letter").Inc()
	metrics.DeadLetterDepth.WithLabelValues(c.name).Set(float64(depth))
	c.logger.Warn().Str("play", q.Play.String()).Str("error", entry.LastError).Msg("scrobble dead-lettered")
	c.publish(bus.Event{Type: bus.EventDeadLetter, Name: c.name, From: bus.FromClient, ScrobbleID: q.ID, Play: ref(q.Play), Error: entry.LastError})
}

// DeadLetters returns a copy of the dead-letter queue, oldest play first.
func (c *Client) DeadLetters() []models.DeadLetterScrobble {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.DeadLetterScrobble, len(c.dead))
	copy(out, c.dead)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Play.Data.PlayDate.Before(out[j].Play.Data.PlayDate)
	})
	return out
}

// RemoveDeadLetter drops one entry by id. Returns false when no entry
// matches.
func (c *Client) RemoveDeadLetter(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.dead {
		if d.ID == id {
			c.dead = append(c.dead[:i], c.dead[i+1:]...)
			metrics.DeadLetterDepth.WithLabelValues(c.name).Set(float64(len(c.dead)))
			return true
		}
	}
	return false
}

// RetryDeadLetter replays one entry immediately, regardless of its retry
// count. Used by the dashboard API.
func (c *Client) RetryDeadLetter(ctx context.Context, id string) error {
	c.mu.Lock()
	var entry *models.DeadLetterScrobble
	for i := range c.dead {
		if c.dead[i].ID == id {
			entry = &c.dead[i]
			break
		}
	}
	if entry == nil {
		c.mu.Unlock()
		return fmt.Errorf("no dead-letter entry %s", id)
	}
	replay := *entry
	c.mu.Unlock()

	if ok := c.replayDeadLetter(ctx, replay); !ok {
		return fmt.Errorf("retry of %s failed", id)
	}
	return nil
}

// processDeadLetters is the heartbeat sweep: every entry below the retry
// cap is replayed through the same checks as the main loop, oldest play
// first, with a pause between attempts. Entries at the cap stay visible
// until removed manually.
func (c *Client) processDeadLetters(ctx context.Context) {
	entries := c.DeadLetters()
	if len(entries) == 0 {
		return
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return
		}
		if entry.Retries >= c.opts.DeadLetterRetries {
			continue
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(deadLetterPause):
			}
		}
		c.replayDeadLetter(ctx, entry)
	}
}

// replayDeadLetter runs one dead-letter entry through timeframe and dedup
// checks and a scrobble attempt. Success (or a drop decision) removes the
// entry; failure increments its retry counter.
func (c *Client) replayDeadLetter(ctx context.Context, entry models.DeadLetterScrobble) bool {
	if !c.timeFrameValid(entry.Play) {
		c.logger.Info().Str("play", entry.Play.String()).Msg("dead-letter entry predates upstream history, dropping")
		c.RemoveDeadLetter(entry.ID)
		return true
	}
	if _, dup := c.alreadyScrobbled(entry.Play); dup {
		c.logger.Info().Str("play", entry.Play.String()).Msg("dead-letter entry already scrobbled, dropping")
		c.RemoveDeadLetter(entry.ID)
		return true
	}

	err := c.attempt(ctx, entry.QueuedScrobble)
	if err == nil {
		c.RemoveDeadLetter(entry.ID)
		return true
	}

	c.mu.Lock()
	for i := range c.dead {
		if c.dead[i].ID == entry.ID {
			c.dead[i].Retries++
			c.dead[i].LastError = err.Error()
			c.dead[i].LastRetry = c.clock.Now()
			break
		}
	}
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("play", entry.Play.String()).Int("retries", entry.Retries+1).
		Msg("dead-letter retry failed")
	return false
}
