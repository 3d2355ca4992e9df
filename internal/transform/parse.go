// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package transform

import (
	"fmt"
)

// Parse normalizes a raw playTransform config value (as decoded from YAML or
// JSON) into a Config. Stage values accept a single hook or an array of
// hooks; rules accept plain strings or {search, replace, when} objects.
// A nil or empty input yields a nil Config, which applies no transforms.
func Parse(raw map[string]any) (*Config, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	cfg := &Config{}
	for key, val := range raw {
		switch key {
		case "preCompare":
			hooks, err := parseStage(val)
			if err != nil {
				return nil, fmt.Errorf("preCompare: %w", err)
			}
			cfg.PreCompare = hooks
		case "postCompare":
			hooks, err := parseStage(val)
			if err != nil {
				return nil, fmt.Errorf("postCompare: %w", err)
			}
			cfg.PostCompare = hooks
		case "compare":
			ch, err := parseCompare(val)
			if err != nil {
				return nil, fmt.Errorf("compare: %w", err)
			}
			cfg.Compare = ch
		case "log":
			mode, err := parseLogMode(val)
			if err != nil {
				return nil, err
			}
			cfg.Log = mode
		default:
			return nil, fmt.Errorf("unknown playTransform key %q", key)
		}
	}
	return cfg, nil
}

func parseStage(v any) ([]Hook, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		h, err := parseHook(t)
		if err != nil {
			return nil, err
		}
		return []Hook{h}, nil
	case []any:
		hooks := make([]Hook, 0, len(t))
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("hook %d: expected object, got %T", i, item)
			}
			h, err := parseHook(m)
			if err != nil {
				return nil, fmt.Errorf("hook %d: %w", i, err)
			}
			hooks = append(hooks, h)
		}
		return hooks, nil
	default:
		return nil, fmt.Errorf("expected hook or hook array, got %T", v)
	}
}

func parseCompare(v any) (*CompareHooks, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object with candidate/existing, got %T", v)
	}
	ch := &CompareHooks{}
	for key, val := range m {
		hooks, err := parseStage(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "candidate":
			ch.Candidate = hooks
		case "existing":
			ch.Existing = hooks
		default:
			return nil, fmt.Errorf("unknown compare key %q", key)
		}
	}
	return ch, nil
}

func parseHook(m map[string]any) (Hook, error) {
	var h Hook
	for key, val := range m {
		switch key {
		case "when":
			when, err := parseWhen(val)
			if err != nil {
				return Hook{}, fmt.Errorf("when: %w", err)
			}
			h.When = when
		case "title":
			rules, err := parseRules(val)
			if err != nil {
				return Hook{}, fmt.Errorf("title: %w", err)
			}
			h.Title = rules
		case "artists":
			rules, err := parseRules(val)
			if err != nil {
				return Hook{}, fmt.Errorf("artists: %w", err)
			}
			h.Artists = rules
		case "album":
			rules, err := parseRules(val)
			if err != nil {
				return Hook{}, fmt.Errorf("album: %w", err)
			}
			h.Album = rules
		default:
			return Hook{}, fmt.Errorf("unknown hook key %q", key)
		}
	}
	return h, nil
}

func parseRules(v any) ([]Rule, error) {
	items, ok := v.([]any)
	if !ok {
		// Scalar rule tolerated for convenience.
		items = []any{v}
	}
	rules := make([]Rule, 0, len(items))
	for i, item := range items {
		r, err := parseRule(item)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseRule(v any) (Rule, error) {
	switch t := v.(type) {
	case string:
		// Plain string: match and remove.
		m, err := ParseMatcher(t)
		if err != nil {
			return Rule{}, err
		}
		return Rule{Search: m}, nil
	case map[string]any:
		var r Rule
		search, ok := t["search"]
		if !ok {
			return Rule{}, fmt.Errorf("rule object requires search")
		}
		ss, ok := search.(string)
		if !ok {
			return Rule{}, fmt.Errorf("search must be a string, got %T", search)
		}
		m, err := ParseMatcher(ss)
		if err != nil {
			return Rule{}, err
		}
		r.Search = m
		if rep, ok := t["replace"]; ok {
			rs, ok := rep.(string)
			if !ok {
				return Rule{}, fmt.Errorf("replace must be a string, got %T", rep)
			}
			r.Replace = rs
		}
		if w, ok := t["when"]; ok {
			when, err := parseWhen(w)
			if err != nil {
				return Rule{}, fmt.Errorf("when: %w", err)
			}
			r.When = when
		}
		for key := range t {
			switch key {
			case "search", "replace", "when":
			default:
				return Rule{}, fmt.Errorf("unknown rule key %q", key)
			}
		}
		return r, nil
	default:
		return Rule{}, fmt.Errorf("expected string or rule object, got %T", v)
	}
}

func parseWhen(v any) ([]WhenClause, error) {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	clauses := make([]WhenClause, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("clause %d: expected object, got %T", i, item)
		}
		var c WhenClause
		for key, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("clause %d: %s must be a string, got %T", i, key, val)
			}
			matcher, err := ParseMatcher(s)
			if err != nil {
				return nil, fmt.Errorf("clause %d: %w", i, err)
			}
			switch key {
			case "artist":
				c.Artist = &matcher
			case "album":
				c.Album = &matcher
			case "title":
				c.Title = &matcher
			default:
				return nil, fmt.Errorf("clause %d: unknown field %q", i, key)
			}
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

func parseLogMode(v any) (LogMode, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return LogOn, nil
		}
		return LogOff, nil
	case string:
		if t == "all" {
			return LogAll, nil
		}
		return LogOff, fmt.Errorf("log must be true, false, or \"all\", got %q", t)
	default:
		return LogOff, fmt.Errorf("log must be true, false, or \"all\", got %T", v)
	}
}
