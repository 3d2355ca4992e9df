// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package models

import (
	"time"

	"github.com/google/uuid"
)

// QueuedScrobble is a play waiting in a client's queue. Exactly one client
// worker owns it from enqueue until it is scrobbled or dead-lettered.
type QueuedScrobble struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Play   Play   `json:"play"`
}

// NewQueuedScrobble wraps a play with a fresh opaque identifier.
func NewQueuedScrobble(source string, play Play) QueuedScrobble {
	return QueuedScrobble{
		ID:     uuid.NewString(),
		Source: source,
		Play:   play,
	}
}

// DeadLetterScrobble is a queued scrobble that failed non-fatally and is
// awaiting retry.
type DeadLetterScrobble struct {
	QueuedScrobble

	Retries   int       `json:"retries"`
	LastError string    `json:"error,omitempty"`
	LastRetry time.Time `json:"lastRetry,omitempty"`
}

// ScrobbledPlay pairs a play with whatever the upstream service returned for
// it. Stored in a bounded ring per client as the authoritative local record
// of this client's own scrobbles.
type ScrobbledPlay struct {
	Play     Play `json:"play"`
	Scrobble Play `json:"scrobble"`
}
