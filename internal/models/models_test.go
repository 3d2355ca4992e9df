// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package models

import (
	"testing"
	"time"
)

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	got := r.Items()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Len() = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Items()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRingItemsIsCopy(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)

	items := r.Items()
	items[0] = 99

	if r.Items()[0] != 1 {
		t.Error("mutating Items() result leaked into ring")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := Play{
		Data: PlayData{
			Track:   "Sonora",
			Artists: []string{"The Bongo Hop", "Nidia Gongora"},
		},
	}

	c := p.Clone()
	c.Data.Artists[0] = "changed"

	if p.Data.Artists[0] != "The Bongo Hop" {
		t.Error("Clone shares artist slice with original")
	}
}

func TestSortPlaysByDate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plays := []Play{
		{Data: PlayData{Track: "c", PlayDate: base.Add(2 * time.Minute)}},
		{Data: PlayData{Track: "a", PlayDate: base}},
		{Data: PlayData{Track: "b", PlayDate: base.Add(time.Minute)}},
	}

	SortPlaysByDate(plays)

	for i, want := range []string{"a", "b", "c"} {
		if plays[i].Data.Track != want {
			t.Errorf("plays[%d].Track = %q, want %q", i, plays[i].Data.Track, want)
		}
	}
}

func TestNewQueuedScrobbleUniqueIDs(t *testing.T) {
	a := NewQueuedScrobble("spotify", Play{})
	b := NewQueuedScrobble("spotify", Play{})
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
}
