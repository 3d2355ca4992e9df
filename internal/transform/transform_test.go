// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package transform

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

func testPlay() models.Play {
	return models.Play{Data: models.PlayData{
		Track:   "My Song (Album Version)",
		Artists: []string{"Elephant Gym"},
		Album:   "Dreams",
	}}
}

func TestMatcherRecognition(t *testing.T) {
	tests := []struct {
		input     string
		wantRegex bool
	}{
		{"foo", false},
		{"/foo/i", true},
		{"/foo", false},
		{"/foo/", true},
		{"/fo/o/gi", true},
		{"/foo/x!", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := ParseMatcher(tt.input)
			if err != nil {
				t.Fatalf("ParseMatcher(%q): %v", tt.input, err)
			}
			if m.IsRegex() != tt.wantRegex {
				t.Errorf("ParseMatcher(%q).IsRegex() = %v, want %v", tt.input, m.IsRegex(), tt.wantRegex)
			}
		})
	}
}

func TestMatcherCaseInsensitiveFlag(t *testing.T) {
	m, err := ParseMatcher("/foo/i")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Matches("FOOBAR") {
		t.Error("/foo/i should match FOOBAR")
	}

	lit, err := ParseMatcher("foo")
	if err != nil {
		t.Fatal(err)
	}
	if lit.Matches("FOOBAR") {
		t.Error("literal foo should not match FOOBAR")
	}
	if !lit.Matches("seafood") {
		t.Error("literal foo should match as substring of seafood")
	}
}

func TestMatcherBackrefs(t *testing.T) {
	m, err := ParseMatcher(`/(\w+) remix/`)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Apply("club remix", "$1"); got != "club" {
		t.Errorf("$1 backref: got %q, want %q", got, "club")
	}

	named, err := ParseMatcher(`/(?P<who>\w+) remix/`)
	if err != nil {
		t.Fatal(err)
	}
	if got := named.Apply("club remix", "$<who>"); got != "club" {
		t.Errorf("$<who> backref: got %q, want %q", got, "club")
	}
}

func TestParseStageShapes(t *testing.T) {
	// Single hook object and hook array both parse.
	single := map[string]any{"preCompare": map[string]any{"title": []any{"(Album Version)"}}}
	cfg, err := Parse(single)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.PreCompare) != 1 || len(cfg.PreCompare[0].Title) != 1 {
		t.Fatalf("single hook shape parsed wrong: %+v", cfg.PreCompare)
	}

	array := map[string]any{"preCompare": []any{
		map[string]any{"title": []any{"a"}},
		map[string]any{"title": []any{"b"}},
	}}
	cfg, err = Parse(array)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.PreCompare) != 2 {
		t.Fatalf("hook array shape parsed wrong: %+v", cfg.PreCompare)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(map[string]any{"preCompare": map[string]any{"titel": []any{"x"}}})
	if err == nil {
		t.Error("expected error for unknown hook key")
	}
}

func TestRemoveRule(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{"title": []any{"(Album Version)"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := cfg.ApplyPre(testPlay(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if out.Data.Track != "My Song" {
		t.Errorf("Track = %q, want %q", out.Data.Track, "My Song")
	}
}

func TestHookChain(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": []any{
			map[string]any{"title": []any{map[string]any{"search": "a", "replace": "b"}}},
			map[string]any{"title": []any{map[string]any{"search": "b", "replace": "c"}}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	in := models.Play{Data: models.PlayData{Track: "a", Artists: []string{"x"}}}
	out, err := cfg.ApplyPre(in, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if out.Data.Track != "c" {
		t.Errorf("Track = %q, want %q (hook i output feeds hook i+1)", out.Data.Track, "c")
	}
}

func TestWhenGatesRule(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{
			"when":  []any{map[string]any{"artist": "/Elephant Gym/"}},
			"album": []any{map[string]any{"search": "Dreams", "replace": "夢境"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	matching, err := cfg.ApplyPre(testPlay(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if matching.Data.Album != "夢境" {
		t.Errorf("gated rule should fire for matching artist, album = %q", matching.Data.Album)
	}

	other := testPlay()
	other.Data.Artists = []string{"CHON"}
	unchanged, err := cfg.ApplyPre(other, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if unchanged.Data.Album != "Dreams" {
		t.Errorf("gated rule fired for non-matching artist, album = %q", unchanged.Data.Album)
	}
}

func TestArtistsRulesRunPerArtist(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{"artists": []any{"/\\s*feat\\..*$/"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	in := models.Play{Data: models.PlayData{
		Track:   "x",
		Artists: []string{"Artist One feat. Guest", "Artist Two"},
	}}
	out, err := cfg.ApplyPre(in, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Artist One", "Artist Two"}
	if len(out.Data.Artists) != 2 || out.Data.Artists[0] != want[0] || out.Data.Artists[1] != want[1] {
		t.Errorf("Artists = %v, want %v", out.Data.Artists, want)
	}
}

func TestAllArtistsRemovedIsError(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{"artists": []any{"/.*/"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = cfg.ApplyPre(testPlay(), zerolog.Nop())
	if !errors.Is(err, ErrAllArtistsRemoved) {
		t.Errorf("err = %v, want ErrAllArtistsRemoved", err)
	}
}

func TestEmptiedFieldIsUnset(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{"album": []any{"Dreams"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := cfg.ApplyPre(testPlay(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if out.Data.Album != "" {
		t.Errorf("Album = %q, want unset", out.Data.Album)
	}
}

func TestApplyPreIdempotent(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{"title": []any{"(Album Version)"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	once, err := cfg.ApplyPre(testPlay(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	twice, err := cfg.ApplyPre(once, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if once.Data.Track != twice.Data.Track {
		t.Errorf("applying preCompare twice changed result: %q vs %q", once.Data.Track, twice.Data.Track)
	}
}

func TestCompareStageDoesNotPropagate(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"compare": map[string]any{
			"candidate": map[string]any{"title": []any{map[string]any{"search": "My", "replace": "Your"}}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	in := testPlay()
	view := cfg.CompareCandidate(in)
	if view.Data.Track == in.Data.Track {
		t.Error("compare transform did not apply to comparator view")
	}
	if in.Data.Track != "My Song (Album Version)" {
		t.Errorf("compare transform mutated the input play: %q", in.Data.Track)
	}

	// Pre/post stages are untouched by compare hooks.
	out, err := cfg.ApplyPre(in, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if out.Data.Track != in.Data.Track {
		t.Error("compare hooks leaked into preCompare stage")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	cfg, err := Parse(map[string]any{
		"preCompare": map[string]any{"artists": []any{map[string]any{"search": "Elephant", "replace": "Mammoth"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	in := testPlay()
	if _, err := cfg.ApplyPre(in, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	if in.Data.Artists[0] != "Elephant Gym" {
		t.Errorf("input play mutated: %v", in.Data.Artists)
	}
}

func TestNilConfigPassthrough(t *testing.T) {
	var cfg *Config
	in := testPlay()
	out, err := cfg.ApplyPre(in, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if out.Data.Track != in.Data.Track {
		t.Error("nil config should pass plays through unchanged")
	}
}
