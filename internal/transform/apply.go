// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package transform

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

// ErrAllArtistsRemoved signals that transform rules emptied every artist.
// The play must be dropped by the caller.
var ErrAllArtistsRemoved = errors.New("transform removed all artists")

// ApplyPre runs the preCompare hooks. The input play is never mutated; the
// returned play is an independent copy.
func (c *Config) ApplyPre(play models.Play, logger zerolog.Logger) (models.Play, error) {
	if c == nil {
		return play, nil
	}
	return applyHooks(c.PreCompare, play, "preCompare", c.Log, logger)
}

// ApplyPost runs the postCompare hooks.
func (c *Config) ApplyPost(play models.Play, logger zerolog.Logger) (models.Play, error) {
	if c == nil {
		return play, nil
	}
	return applyHooks(c.PostCompare, play, "postCompare", c.Log, logger)
}

// CompareCandidate returns the candidate-side view of a play for the
// comparator. Mutations here never propagate downstream; rules that empty
// every artist simply yield a play with no artists, which cannot match.
func (c *Config) CompareCandidate(play models.Play) models.Play {
	if c == nil || c.Compare == nil {
		return play
	}
	out, err := applyHooks(c.Compare.Candidate, play, "compare.candidate", LogOff, zerolog.Nop())
	if err != nil {
		out = play.Clone()
		out.Data.Artists = nil
	}
	return out
}

// CompareExisting returns the existing-side view of a play for the
// comparator.
func (c *Config) CompareExisting(play models.Play) models.Play {
	if c == nil || c.Compare == nil {
		return play
	}
	out, err := applyHooks(c.Compare.Existing, play, "compare.existing", LogOff, zerolog.Nop())
	if err != nil {
		return play
	}
	return out
}

// applyHooks chains the hooks: the output of hook i feeds hook i+1.
func applyHooks(hooks []Hook, play models.Play, stage string, mode LogMode, logger zerolog.Logger) (models.Play, error) {
	if len(hooks) == 0 {
		return play, nil
	}

	orig := play
	cur := play.Clone()
	for i := range hooks {
		before := cur
		next, err := applyHook(hooks[i], cur)
		if err != nil {
			return models.Play{}, err
		}
		cur = next
		if mode == LogAll {
			logDiff(logger, stage, i, before, cur)
		}
	}
	if mode == LogOn {
		logDiff(logger, stage, -1, orig, cur)
	}
	return cur, nil
}

func applyHook(h Hook, play models.Play) (models.Play, error) {
	title := play.Data.Track
	artists := play.Data.Artists
	album := play.Data.Album

	if !anyClauseMatches(h.When, title, artists, album) {
		return play, nil
	}

	out := play.Clone()

	out.Data.Track = applyFieldRules(h.Title, out.Data.Track, title, artists, album)
	out.Data.Album = applyFieldRules(h.Album, out.Data.Album, title, artists, album)

	if len(h.Artists) > 0 {
		kept, err := applyArtistRules(h.Artists, out.Data.Artists, title, artists, album)
		if err != nil {
			return models.Play{}, err
		}
		out.Data.Artists = kept

		// Album artists receive the same treatment, but emptying them all is
		// not an error since they are optional context.
		if len(out.Data.AlbumArtists) > 0 {
			keptAlbum, _ := applyArtistRules(h.Artists, out.Data.AlbumArtists, title, artists, album)
			out.Data.AlbumArtists = keptAlbum
		}
	}

	return out, nil
}

// applyFieldRules runs rules over a single-string field. When guards are
// evaluated against the pre-hook field values.
func applyFieldRules(rules []Rule, value, title string, artists []string, album string) string {
	for _, r := range rules {
		if !anyClauseMatches(r.When, title, artists, album) {
			continue
		}
		value = r.Search.Apply(value, r.Replace)
	}
	return strings.TrimSpace(value)
}

// applyArtistRules runs every rule against each artist independently.
// Artists reduced to empty are removed; removing them all is an error.
func applyArtistRules(rules []Rule, in []string, title string, artists []string, album string) ([]string, error) {
	if len(in) == 0 {
		return in, nil
	}
	kept := make([]string, 0, len(in))
	for _, artist := range in {
		v := artist
		for _, r := range rules {
			if !anyClauseMatches(r.When, title, artists, album) {
				continue
			}
			v = r.Search.Apply(v, r.Replace)
		}
		v = strings.TrimSpace(v)
		if v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return nil, ErrAllArtistsRemoved
	}
	return kept, nil
}

func logDiff(logger zerolog.Logger, stage string, hook int, before, after models.Play) {
	if playsEqual(before, after) {
		return
	}
	ev := logger.Info().Str("stage", stage)
	if hook >= 0 {
		ev = ev.Int("hook", hook)
	}
	ev.Str("before", before.String()).Str("after", after.String()).Msg("transformed play")
}

func playsEqual(a, b models.Play) bool {
	if a.Data.Track != b.Data.Track || a.Data.Album != b.Data.Album {
		return false
	}
	if len(a.Data.Artists) != len(b.Data.Artists) {
		return false
	}
	for i := range a.Data.Artists {
		if a.Data.Artists[i] != b.Data.Artists[i] {
			return false
		}
	}
	return true
}
