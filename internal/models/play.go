// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package models defines the canonical Play record and the queue and
// ring-buffer structures that carry plays between sources and clients.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PlayData is the musical payload of a listen event.
type PlayData struct {
	// Track is the track title. Required on any play that leaves a source.
	Track string `json:"track"`

	// Artists is the ordered list of track artists; the first is primary.
	// A play that leaves a source always has at least one artist.
	Artists []string `json:"artists,omitempty"`

	// AlbumArtists is retained only when it differs from Artists.
	AlbumArtists []string `json:"albumArtists,omitempty"`

	Album string `json:"album,omitempty"`

	// Duration is the track length in seconds.
	Duration int `json:"duration,omitempty"`

	// PlayDate is the instant the listen was complete or observed.
	PlayDate time.Time `json:"playDate"`

	// ListenedFor is the number of seconds actually listened, at most Duration.
	ListenedFor int `json:"listenedFor,omitempty"`
}

// PlayMeta carries context about where a play came from.
type PlayMeta struct {
	// Source is the symbolic name of the originating adapter.
	Source string `json:"source,omitempty"`

	// TrackID is a platform-specific opaque identifier.
	TrackID string `json:"trackId,omitempty"`

	DeviceID string `json:"deviceId,omitempty"`
	User     string `json:"user,omitempty"`

	// WebURL is a link to the track on the originating platform.
	WebURL string `json:"url,omitempty"`

	// NewFromSource is true when the source observed the play in real time
	// rather than finding it in a backlog.
	NewFromSource bool `json:"newFromSource,omitempty"`
}

// Play is a single listen event. Plays are value types; once a play has been
// enqueued toward a client it is never mutated, only replaced by transformed
// copies.
type Play struct {
	Data PlayData `json:"data"`
	Meta PlayMeta `json:"meta"`
}

// Clone returns a deep copy of the play. Slices are copied so the clone can
// be mutated without affecting the original.
func (p Play) Clone() Play {
	out := p
	if p.Data.Artists != nil {
		out.Data.Artists = append([]string(nil), p.Data.Artists...)
	}
	if p.Data.AlbumArtists != nil {
		out.Data.AlbumArtists = append([]string(nil), p.Data.AlbumArtists...)
	}
	return out
}

// PrimaryArtist returns the first artist, or "" when none are set.
func (p Play) PrimaryArtist() string {
	if len(p.Data.Artists) == 0 {
		return ""
	}
	return p.Data.Artists[0]
}

// String renders a compact human-readable description for logs.
func (p Play) String() string {
	artist := p.PrimaryArtist()
	if artist == "" {
		artist = "?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s", artist, p.Data.Track)
	if p.Data.Album != "" {
		fmt.Fprintf(&b, " (%s)", p.Data.Album)
	}
	if !p.Data.PlayDate.IsZero() {
		fmt.Fprintf(&b, " @ %s", p.Data.PlayDate.Format(time.RFC3339))
	}
	return b.String()
}

// SortPlaysByDate orders plays by ascending PlayDate in place. The sort is
// stable so same-instant plays keep their arrival order.
func SortPlaysByDate(plays []Play) {
	sort.SliceStable(plays, func(i, j int) bool {
		return plays[i].Data.PlayDate.Before(plays[j].Data.PlayDate)
	})
}
