// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package source

import (
	"sync"
	"time"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

// PlayerState is the reported playback status.
type PlayerState string

// Player states.
const (
	StatePlaying PlayerState = "playing"
	StatePaused  PlayerState = "paused"
	StateStopped PlayerState = "stopped"
)

// PlayerKey identifies a playback session on a push-style platform.
type PlayerKey struct {
	DeviceID string
	User     string
}

// Update is one progress report from a webhook or cast receiver.
type Update struct {
	Key   PlayerKey
	Play  models.Play
	State PlayerState

	// Position is the playback position within the track.
	Position time.Duration
}

// Scrobble thresholds: a play counts once half the track, or four minutes,
// has actually been listened to.
const (
	scrobbleMinListened = 4 * time.Minute
	scrobbleFraction    = 0.5
)

type player struct {
	play     models.Play
	position time.Duration
	listened time.Duration
	state    PlayerState
	lastSeen time.Time
	reported bool
}

// PlayerStore tracks per-(device, user) playback sessions for push-style
// sources and decides when a session has listened enough to count as a
// play. Stale players are evicted after the TTL.
type PlayerStore struct {
	mu      sync.Mutex
	players map[PlayerKey]*player
	ttl     time.Duration
	clock   Clock
}

// NewPlayerStore creates a store with the given eviction TTL.
func NewPlayerStore(ttl time.Duration, clock Clock) *PlayerStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PlayerStore{
		players: make(map[PlayerKey]*player),
		ttl:     ttl,
		clock:   clock,
	}
}

// Update feeds one progress report and returns any plays that completed
// (crossed the scrobble threshold, or were finalized by a track change or
// stop).
func (ps *PlayerStore) Update(u Update) []models.Play {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	var completed []models.Play

	p, ok := ps.players[u.Key]
	if ok && !sameTrack(p.play, u.Play) {
		// Track changed under this session; finalize the old one if it
		// earned a scrobble that was never reported.
		if !p.reported && thresholdMet(p) {
			completed = append(completed, finalize(p, now))
		}
		ok = false
	}

	if !ok {
		p = &player{play: u.Play, position: u.Position, state: u.State, lastSeen: now}
		ps.players[u.Key] = p
	} else {
		if delta := u.Position - p.position; delta > 0 && p.state == StatePlaying {
			p.listened += delta
		}
		p.position = u.Position
		p.state = u.State
		p.lastSeen = now
	}

	if !p.reported && thresholdMet(p) {
		p.reported = true
		completed = append(completed, finalize(p, now))
	}

	if u.State == StateStopped {
		delete(ps.players, u.Key)
	}
	return completed
}

// Sweep evicts players not updated within the TTL. A stale player that
// crossed the threshold but was never reported is finalized and returned.
func (ps *PlayerStore) Sweep() []models.Play {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	var completed []models.Play
	for key, p := range ps.players {
		if now.Sub(p.lastSeen) <= ps.ttl {
			continue
		}
		if !p.reported && thresholdMet(p) {
			completed = append(completed, finalize(p, now))
		}
		delete(ps.players, key)
	}
	return completed
}

// Len returns the number of live players.
func (ps *PlayerStore) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.players)
}

func sameTrack(a, b models.Play) bool {
	if a.Meta.TrackID != "" && b.Meta.TrackID != "" {
		return a.Meta.TrackID == b.Meta.TrackID
	}
	return a.Data.Track == b.Data.Track && a.PrimaryArtist() == b.PrimaryArtist()
}

func thresholdMet(p *player) bool {
	if p.listened >= scrobbleMinListened {
		return true
	}
	if d := p.play.Data.Duration; d > 0 {
		return p.listened >= time.Duration(scrobbleFraction*float64(d)*float64(time.Second))
	}
	return false
}

func finalize(p *player, now time.Time) models.Play {
	play := p.play.Clone()
	if play.Data.PlayDate.IsZero() {
		play.Data.PlayDate = now
	}
	play.Data.ListenedFor = int(p.listened.Seconds())
	play.Meta.NewFromSource = true
	return play
}
