// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package compare

import "time"

// TimeAccuracy discretizes how close two play dates are.
type TimeAccuracy int

const (
	// TimeNone means the play dates are too far apart to relate.
	TimeNone TimeAccuracy = iota
	// TimeFuzzy catches timestamp-at-start vs timestamp-at-end skew.
	TimeFuzzy
	// TimeClose means within a small tolerance.
	TimeClose
	// TimeExact means the same instant to the second.
	TimeExact
)

// Tunable tolerances. CloseTolerance covers clock jitter between platforms.
// FuzzyTolerance must cover one track length of skew: a source that stamps
// plays at track start and an upstream that stamps at track end disagree by
// the full duration.
const (
	CloseTolerance = 10 * time.Second
	FuzzyTolerance = 5 * time.Minute
)

// TemporalAccuracy classifies the distance between two play dates.
func TemporalAccuracy(a, b time.Time) TimeAccuracy {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff < time.Second:
		return TimeExact
	case diff <= CloseTolerance:
		return TimeClose
	case diff <= FuzzyTolerance:
		return TimeFuzzy
	default:
		return TimeNone
	}
}

// score maps accuracy onto the temporal subscore.
func (a TimeAccuracy) score() float64 {
	switch a {
	case TimeExact, TimeClose:
		return 1.0
	case TimeFuzzy:
		return 0.6
	default:
		return 0
	}
}

func (a TimeAccuracy) String() string {
	switch a {
	case TimeExact:
		return "exact"
	case TimeClose:
		return "close"
	case TimeFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}
