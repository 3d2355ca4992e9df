// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/bus"
	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/transform"
)

// Deps are the shared collaborators handed to every source factory.
type Deps struct {
	Bus      *bus.Bus
	Logger   zerolog.Logger
	Clock    Clock
	CredsDir string
}

// IngressHandler lowers a raw webhook request into plays or player updates.
// Implemented by push-style source types.
type IngressHandler interface {
	HandleRequest(ctx context.Context, r *http.Request) error
}

// Built is the result of constructing a source instance: the shared core
// plus the ingress handler for push-style types (nil otherwise).
type Built struct {
	Source  *Source
	Ingress IngressHandler
}

// Factory constructs one source instance of a registered type.
type Factory func(cfg config.SourceConfig, opts Options, deps Deps) (Built, error)

type registryEntry struct {
	caps    Capabilities
	factory Factory
}

// Registry maps source type names to constructors and capability records.
type Registry struct {
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a source type. Registering a duplicate type panics; it is a
// programming error in wiring.
func (r *Registry) Register(typ string, caps Capabilities, f Factory) {
	if _, dup := r.entries[typ]; dup {
		panic(fmt.Sprintf("source type %q registered twice", typ))
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

// Build constructs a source instance from its config and effective options.
// The playTransform block is parsed here, once, so the hot path never
// touches raw config.
func (r *Registry) Build(cfg config.SourceConfig, eff config.SourceOptions, deps Deps) (Built, error) {
	e, ok := r.entries[cfg.Type]
	if !ok {
		return Built{}, fmt.Errorf("unknown source type %q", cfg.Type)
	}

	tf, err := transform.Parse(eff.PlayTransform)
	if err != nil {
		return Built{}, fmt.Errorf("source %s: playTransform: %w", cfg.Name, err)
	}

	opts := Options{
		Interval:           eff.Interval,
		BackoffBase:        eff.BackoffBase,
		BackoffMultiplier:  eff.BackoffMultiplier,
		BackoffMax:         eff.BackoffMax,
		RingSize:           eff.RingSize,
		ListStabilityTicks: eff.ListStabilityTicks,
		PlayerTTL:          eff.PlayerTTL,
		Transform:          tf,
	}

	built, err := e.factory(cfg, opts, deps)
	if err != nil {
		return Built{}, fmt.Errorf("source %s: %w", cfg.Name, err)
	}
	if built.Source == nil {
		return Built{}, fmt.Errorf("source %s: factory returned no core", cfg.Name)
	}
	return built, nil
}
