// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package source

import (
	"testing"
	"time"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

func trackPlay(title string, duration int) models.Play {
	return models.Play{Data: models.PlayData{
		Track:    title,
		Artists:  []string{"Artist"},
		Duration: duration,
	}}
}

func TestPlayerEmitsAtHalfDuration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ps := NewPlayerStore(10*time.Minute, clock)
	key := PlayerKey{DeviceID: "dev", User: "u"}
	play := trackPlay("Track", 200)

	if got := ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 0}); len(got) != 0 {
		t.Fatalf("play completed at position 0: %v", got)
	}
	if got := ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 60 * time.Second}); len(got) != 0 {
		t.Fatalf("play completed below threshold: %v", got)
	}

	completed := ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 110 * time.Second})
	if len(completed) != 1 {
		t.Fatalf("expected completion at >=50%% listened, got %v", completed)
	}
	got := completed[0]
	if !got.Meta.NewFromSource {
		t.Error("completed play should be newFromSource")
	}
	if got.Data.ListenedFor < 100 {
		t.Errorf("ListenedFor = %d, want >= 100", got.Data.ListenedFor)
	}
	if got.Data.PlayDate.IsZero() {
		t.Error("completed play has no play date")
	}
}

func TestPlayerEmitsOnlyOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ps := NewPlayerStore(10*time.Minute, clock)
	key := PlayerKey{DeviceID: "dev", User: "u"}
	play := trackPlay("Track", 200)

	ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 0})
	first := ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 150 * time.Second})
	second := ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 190 * time.Second})

	if len(first) != 1 || len(second) != 0 {
		t.Errorf("threshold crossing reported %d then %d times, want 1 then 0", len(first), len(second))
	}
}

func TestPausedProgressDoesNotCount(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ps := NewPlayerStore(10*time.Minute, clock)
	key := PlayerKey{DeviceID: "dev", User: "u"}
	play := trackPlay("Track", 200)

	ps.Update(Update{Key: key, Play: play, State: StatePaused, Position: 0})
	// Position jumps while paused (seek); no listening credit accrues.
	completed := ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 150 * time.Second})
	if len(completed) != 0 {
		t.Errorf("paused seek counted as listening: %v", completed)
	}
}

func TestFourMinuteRuleThenTrackChangeStartsFresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ps := NewPlayerStore(10*time.Minute, clock)
	key := PlayerKey{DeviceID: "dev", User: "u"}

	long := trackPlay("Nine Minute Song", 540)
	ps.Update(Update{Key: key, Play: long, State: StatePlaying, Position: 0})
	// Four minutes listened is enough even below 50% of duration.
	completed := ps.Update(Update{Key: key, Play: long, State: StatePlaying, Position: 245 * time.Second})
	if len(completed) != 1 {
		t.Fatalf("four-minute rule did not fire: %v", completed)
	}

	// Switching tracks on the same device starts a fresh session.
	next := trackPlay("Next Track", 180)
	if got := ps.Update(Update{Key: key, Play: next, State: StatePlaying, Position: 0}); len(got) != 0 {
		t.Errorf("track change emitted unexpectedly: %v", got)
	}
	if ps.Len() != 1 {
		t.Errorf("player count = %d, want 1", ps.Len())
	}
}

func TestStopRemovesPlayer(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ps := NewPlayerStore(10*time.Minute, clock)
	key := PlayerKey{DeviceID: "dev", User: "u"}
	play := trackPlay("Track", 200)

	ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 0})
	ps.Update(Update{Key: key, Play: play, State: StateStopped, Position: 30 * time.Second})

	if ps.Len() != 0 {
		t.Errorf("stopped player still tracked, count = %d", ps.Len())
	}
}

func TestSweepEvictsStalePlayers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ps := NewPlayerStore(5*time.Minute, clock)
	key := PlayerKey{DeviceID: "dev", User: "u"}
	play := trackPlay("Track", 200)

	ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 0})
	ps.Update(Update{Key: key, Play: play, State: StatePlaying, Position: 120 * time.Second})

	clock.now = clock.now.Add(6 * time.Minute)
	completed := ps.Sweep()

	if ps.Len() != 0 {
		t.Errorf("stale player survived sweep, count = %d", ps.Len())
	}
	// The stale session had crossed the threshold but was reported at
	// crossing time already, so the sweep emits nothing extra here.
	if len(completed) != 0 {
		t.Errorf("sweep re-emitted a reported play: %v", completed)
	}
}
