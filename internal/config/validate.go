// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation followed by semantic checks that tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seenSources := make(map[string]struct{}, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if _, dup := seenSources[s.Name]; dup {
			return fmt.Errorf("config validation: duplicate source name %q", s.Name)
		}
		seenSources[s.Name] = struct{}{}
	}

	seenClients := make(map[string]struct{}, len(cfg.Clients))
	for _, c := range cfg.Clients {
		if _, dup := seenClients[c.Name]; dup {
			return fmt.Errorf("config validation: duplicate client name %q", c.Name)
		}
		seenClients[c.Name] = struct{}{}
	}

	// Two sources of the same type sharing a slug would both claim the same
	// webhook path.
	type slugKey struct{ typ, slug string }
	seenSlugs := make(map[slugKey]string)
	for _, s := range cfg.Sources {
		key := slugKey{s.Type, s.Slug}
		if other, dup := seenSlugs[key]; dup {
			return fmt.Errorf("config validation: sources %q and %q share type %q and slug %q",
				other, s.Name, s.Type, s.Slug)
		}
		seenSlugs[key] = s.Name
	}

	for _, c := range cfg.Clients {
		opts := cfg.EffectiveClientOptions(c)
		for _, excluded := range opts.SourceExclusions {
			if _, ok := seenSources[excluded]; !ok {
				return fmt.Errorf("config validation: client %q excludes unknown source %q", c.Name, excluded)
			}
		}
	}

	return nil
}
