// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package transform implements the play-transform engine: user-configured
// rule trees applied to plays at the preCompare, compare, and postCompare
// hooks. The dynamic config shapes (string-or-object, scalar-or-array) are
// normalized into this package's types once at load time; the hot path only
// walks parsed rules.
package transform

import (
	"fmt"
	"regexp"
	"strings"
)

// LogMode controls transform diff logging.
type LogMode int

const (
	// LogOff emits nothing.
	LogOff LogMode = iota
	// LogOn emits one before/after diff per stage invocation.
	LogOn
	// LogAll emits one diff per hook in a hook array.
	LogAll
)

// Config is a fully parsed playTransform block.
type Config struct {
	PreCompare  []Hook
	Compare     *CompareHooks
	PostCompare []Hook
	Log         LogMode
}

// CompareHooks holds the transforms visible only to the comparator. The
// candidate side runs on the incoming play, the existing side on each play
// it is compared against; neither mutation propagates downstream.
type CompareHooks struct {
	Candidate []Hook
	Existing  []Hook
}

// Hook is one transform step: optional when guards plus per-field rules.
type Hook struct {
	When    []WhenClause
	Title   []Rule
	Artists []Rule
	Album   []Rule
}

// WhenClause gates a hook or rule. All present fields must match (AND);
// clauses in a When list are OR'd together.
type WhenClause struct {
	Artist *Matcher
	Album  *Matcher
	Title  *Matcher
}

// Rule is a single search/replace. A plain-string rule parses to a search
// with an empty replacement (match-and-remove).
type Rule struct {
	Search  Matcher
	Replace string
	When    []WhenClause
}

// Matcher is either a literal substring or a regular expression. A string is
// a regex iff it starts with "/" and has a closing "/" optionally followed
// by flag letters; anything else is literal.
type Matcher struct {
	raw     string
	literal string
	re      *regexp.Regexp
}

// ParseMatcher recognizes the /re/flags form and compiles it; everything
// else becomes a literal substring matcher.
func ParseMatcher(s string) (Matcher, error) {
	body, flags, ok := splitRegexLiteral(s)
	if !ok {
		return Matcher{raw: s, literal: s}, nil
	}

	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix.WriteRune(f)
		case 'g', 'u':
			// Global replacement and unicode mode are Go's defaults.
		default:
			// Unknown flag letters are tolerated and ignored.
		}
	}

	pattern := body
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + body
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Matcher{}, fmt.Errorf("invalid regex %q: %w", s, err)
	}
	return Matcher{raw: s, re: re}, nil
}

// splitRegexLiteral returns the body and flags of a /body/flags string.
// ok is false when the string is not in regex form.
func splitRegexLiteral(s string) (body, flags string, ok bool) {
	if len(s) < 2 || s[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(s[1:], '/')
	if end < 0 {
		// "/foo" with no closing slash is a literal.
		return "", "", false
	}
	end++ // index into s
	flags = s[end+1:]
	for _, r := range flags {
		if !isFlagLetter(r) {
			return "", "", false
		}
	}
	return s[1:end], flags, true
}

func isFlagLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// IsRegex reports whether the matcher compiled as a regular expression.
func (m Matcher) IsRegex() bool { return m.re != nil }

// String returns the original config string.
func (m Matcher) String() string { return m.raw }

// Matches reports whether the matcher matches s. Literals match as
// substrings.
func (m Matcher) Matches(s string) bool {
	if m.re != nil {
		return m.re.MatchString(s)
	}
	return m.literal != "" && strings.Contains(s, m.literal)
}

// Apply replaces every match in s with replace. Replacement strings support
// capture-group back-references in both $1 and $<name> forms.
func (m Matcher) Apply(s, replace string) string {
	if m.re != nil {
		return m.re.ReplaceAllString(s, convertBackrefs(replace))
	}
	if m.literal == "" {
		return s
	}
	return strings.ReplaceAll(s, m.literal, replace)
}

// namedBackref rewrites $<name> back-references to Go's ${name} form.
var namedBackref = regexp.MustCompile(`\$<(\w+)>`)

func convertBackrefs(replace string) string {
	return namedBackref.ReplaceAllString(replace, `${$1}`)
}

// matches reports whether the clause matches the play fields. Artist
// matchers match when any artist matches.
func (w WhenClause) matches(title string, artists []string, album string) bool {
	if w.Title != nil && !w.Title.Matches(title) {
		return false
	}
	if w.Album != nil && !w.Album.Matches(album) {
		return false
	}
	if w.Artist != nil {
		matched := false
		for _, a := range artists {
			if w.Artist.Matches(a) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// anyClauseMatches evaluates a When list: empty means unconditional.
func anyClauseMatches(when []WhenClause, title string, artists []string, album string) bool {
	if len(when) == 0 {
		return true
	}
	for _, w := range when {
		if w.matches(title, artists, album) {
			return true
		}
	}
	return false
}
