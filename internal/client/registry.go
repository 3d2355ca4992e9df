// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package client

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/bus"
	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/transform"
)

// Deps are the shared collaborators handed to every client factory.
type Deps struct {
	Bus      *bus.Bus
	Logger   zerolog.Logger
	Clock    Clock
	CredsDir string

	// BaseURL renders OAuth callback links for interactive auth.
	BaseURL string
}

// Factory constructs one client instance of a registered type.
type Factory func(cfg config.ClientConfig, opts Options, deps Deps) (*Client, error)

type registryEntry struct {
	caps    Capabilities
	factory Factory
}

// Registry maps client type names to constructors and capability records.
type Registry struct {
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a client type. Registering a duplicate type panics.
func (r *Registry) Register(typ string, caps Capabilities, f Factory) {
	if _, dup := r.entries[typ]; dup {
		panic(fmt.Sprintf("client type %q registered twice", typ))
	}
	r.entries[typ] = registryEntry{caps: caps, factory: f}
}

// Capabilities returns the capability record for a type.
func (r *Registry) Capabilities(typ string) (Capabilities, bool) {
	e, ok := r.entries[typ]
	return e.caps, ok
}

// Types lists the registered type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs a client instance from its config and effective options.
func (r *Registry) Build(cfg config.ClientConfig, eff config.ClientOptions, deps Deps) (*Client, error) {
	e, ok := r.entries[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown client type %q", cfg.Type)
	}

	tf, err := transform.Parse(eff.PlayTransform)
	if err != nil {
		return nil, fmt.Errorf("client %s: playTransform: %w", cfg.Name, err)
	}

	check := true
	if eff.CheckExistingScrobbles != nil {
		check = *eff.CheckExistingScrobbles
	}
	opts := Options{
		CheckExistingScrobbles: check,
		DeadLetterRetries:      eff.DeadLetterRetries,
		DeadLetterInterval:     eff.DeadLetterInterval,
		ScrobbleDelay:          eff.ScrobbleDelay,
		ScrobbleSleep:          eff.ScrobbleSleep,
		RecentLimit:            eff.RecentLimit,
		SourceExclusions:       eff.SourceExclusions,
		Transform:              tf,
	}

	cl, err := e.factory(cfg, opts, deps)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", cfg.Name, err)
	}
	return cl, nil
}
