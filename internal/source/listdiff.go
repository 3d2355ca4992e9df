// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package source

import "github.com/scrobblebus/scrobblebus/internal/models"

// listTracker implements the source-of-truth reset heuristic for platforms
// that expose an unordered, occasionally reshuffled history list. Each fetch
// is diffed against the previous one; a diff is coherent only when the new
// list is the old list with zero or more entries prepended. Incoherent
// diffs reset the stability streak, and newly-prepended entries are only
// released once the streak reaches the configured tick count. A play seen
// during instability may be missed; a duplicate is never released.
type listTracker struct {
	prev           []models.Play
	okStreak       int
	stabilityTicks int
	primed         bool
}

func newListTracker(stabilityTicks int) *listTracker {
	if stabilityTicks < 1 {
		stabilityTicks = 1
	}
	return &listTracker{stabilityTicks: stabilityTicks}
}

// observe records a fetched list (newest first) and returns the entries that
// may be released for discovery this tick. ok is false when the list was
// incoherent.
func (t *listTracker) observe(cur []models.Play) ([]models.Play, bool) {
	defer func() {
		t.prev = append(t.prev[:0], cur...)
	}()

	if !t.primed {
		// First fetch seeds the baseline; nothing is released.
		t.primed = true
		t.okStreak = 1
		return nil, true
	}

	prepended, coherent := diffPrepended(t.prev, cur)
	if !coherent {
		t.okStreak = 0
		return nil, false
	}

	t.okStreak++
	if t.okStreak < t.stabilityTicks {
		return nil, true
	}
	return prepended, true
}

// diffPrepended reports the entries of cur that precede the old head, and
// whether the remainder of cur lines up with prev and none of the preceding
// entries already appears in prev. An empty prev accepts
// anything; an empty cur is coherent only when prev was empty too.
func diffPrepended(prev, cur []models.Play) ([]models.Play, bool) {
	if len(prev) == 0 {
		return nil, true
	}
	if len(cur) == 0 {
		return nil, false
	}

	head := 0
	for ; head < len(cur); head++ {
		if samePlay(cur[head], prev[0]) {
			break
		}
	}
	if head == len(cur) {
		// Old head vanished entirely; the list was rewritten.
		return nil, false
	}

	// The tail after the old head must be a prefix-aligned copy of prev;
	// entries may fall off the end as the window slides.
	for i := 0; head+i < len(cur) && i < len(prev); i++ {
		if !samePlay(cur[head+i], prev[i]) {
			return nil, false
		}
	}

	// An old entry showing up ahead of the old head means the list was
	// reordered, not prepended to.
	for _, p := range cur[:head] {
		for _, old := range prev {
			if samePlay(p, old) {
				return nil, false
			}
		}
	}

	prepended := make([]models.Play, head)
	copy(prepended, cur[:head])
	return prepended, true
}

// samePlay matches list entries by track id when both sides have one, else
// by track, primary artist, and play date.
func samePlay(a, b models.Play) bool {
	if a.Meta.TrackID != "" && b.Meta.TrackID != "" {
		return a.Meta.TrackID == b.Meta.TrackID
	}
	return a.Data.Track == b.Data.Track &&
		a.PrimaryArtist() == b.PrimaryArtist() &&
		a.Data.PlayDate.Equal(b.Data.PlayDate)
}
