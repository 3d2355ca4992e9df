// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package source implements the source side of the scrobble pipeline:
// discovery dedup against a per-source ring buffer, the polling loop,
// webhook ingestion through per-device players, and fan-out of new plays on
// the event bus.
package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/bus"
	"github.com/scrobblebus/scrobblebus/internal/compare"
	"github.com/scrobblebus/scrobblebus/internal/lifecycle"
	"github.com/scrobblebus/scrobblebus/internal/metrics"
	"github.com/scrobblebus/scrobblebus/internal/models"
	"github.com/scrobblebus/scrobblebus/internal/transform"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Capabilities describes what a source type can do.
type Capabilities struct {
	RequiresAuth bool
	CanPoll      bool
	CanBacklog   bool

	// UnstableHistory marks sources whose history list may be reshuffled
	// between fetches; their polls go through the stability tracker.
	UnstableHistory bool

	// AcceptsIngress marks push-style sources fed by webhooks.
	AcceptsIngress bool
}

// Options tunes a single source instance.
type Options struct {
	// Interval between successful poll fetches.
	Interval time.Duration

	// BackoffBase, BackoffMultiplier, and BackoffMax shape the retry delay
	// after consecutive poll failures: base * multiplier^attempt, clamped.
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration

	// RingSize bounds the discovered-plays ring buffer.
	RingSize int

	// ListStabilityTicks is how many consecutive coherent fetches an
	// unstable-history source needs before prepended entries are trusted.
	ListStabilityTicks int

	// PlayerTTL evicts stale per-device players.
	PlayerTTL time.Duration

	// Transform is the parsed playTransform block, nil for none.
	Transform *transform.Config
}

const (
	defaultInterval       = 30 * time.Second
	defaultBackoffBase    = 10 * time.Second
	defaultBackoffMult    = 2.0
	defaultBackoffMax     = 10 * time.Minute
	defaultRingSize       = 100
	defaultStabilityTicks = 2
	defaultPlayerTTL      = 10 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = defaultBackoffMult
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.RingSize <= 0 {
		o.RingSize = defaultRingSize
	}
	if o.ListStabilityTicks <= 0 {
		o.ListStabilityTicks = defaultStabilityTicks
	}
	if o.PlayerTTL <= 0 {
		o.PlayerTTL = defaultPlayerTTL
	}
	return o
}

// Adapter is the poll contract a concrete source type implements.
type Adapter interface {
	// FetchRecent returns the platform's recent plays, newest first for
	// unstable-history sources, any order otherwise.
	FetchRecent(ctx context.Context) ([]models.Play, error)
}

// BacklogAdapter is implemented by sources that can seed the ring buffer
// with historical plays at startup.
type BacklogAdapter interface {
	FetchBacklog(ctx context.Context) ([]models.Play, error)
}

// Config assembles a source.
type Config struct {
	Name         string
	Type         string
	Slug         string
	Capabilities Capabilities
	Options      Options
	Hooks        lifecycle.Hooks

	// Adapter is nil for pure-ingress sources.
	Adapter Adapter

	Bus    *bus.Bus
	Logger zerolog.Logger
	Clock  Clock
}

// Source is the shared core of every source type.
type Source struct {
	name string
	typ  string
	slug string
	caps Capabilities
	opts Options

	life    *lifecycle.Lifecycle
	adapter Adapter
	bus     *bus.Bus
	logger  zerolog.Logger
	clock   Clock

	ring    *models.Ring[models.Play]
	tracker *listTracker
	players *PlayerStore

	discovered atomic.Uint64
	polling    atomic.Bool
}

// New builds a source from its config.
func New(cfg Config) *Source {
	opts := cfg.Options.withDefaults()
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	s := &Source{
		name:    cfg.Name,
		typ:     cfg.Type,
		slug:    cfg.Slug,
		caps:    cfg.Capabilities,
		opts:    opts,
		adapter: cfg.Adapter,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		clock:   clock,
		ring:    models.NewRing[models.Play](opts.RingSize),
	}
	s.life = lifecycle.New(cfg.Name, bus.FromSource, cfg.Capabilities.RequiresAuth, cfg.Hooks, cfg.Bus, cfg.Logger)
	if cfg.Capabilities.UnstableHistory {
		s.tracker = newListTracker(opts.ListStabilityTicks)
	}
	if cfg.Capabilities.AcceptsIngress {
		s.players = NewPlayerStore(opts.PlayerTTL, clock)
	}
	return s
}

// Name returns the configured instance name.
func (s *Source) Name() string { return s.name }

// TypeName returns the source type ("webscrobbler", "jellyfin", ...).
func (s *Source) TypeName() string { return s.typ }

// Slug returns the webhook slug, empty for the unnamed instance.
func (s *Source) Slug() string { return s.slug }

// Capabilities returns the type's capability record.
func (s *Source) Capabilities() Capabilities { return s.caps }

// Lifecycle exposes the init/auth state machine.
func (s *Source) Lifecycle() *lifecycle.Lifecycle { return s.life }

// Initialize runs the staged init. Idempotent.
func (s *Source) Initialize(ctx context.Context) error {
	return s.life.Initialize(ctx)
}

// Discovered returns the number of plays discovered as new.
func (s *Source) Discovered() uint64 { return s.discovered.Load() }

// Recent returns a copy of the ring buffer, oldest first.
func (s *Source) Recent() []models.Play { return s.ring.Items() }

// ClearRecent empties the ring buffer.
func (s *Source) ClearRecent() { s.ring.Clear() }

// Status returns the last published lifecycle status.
func (s *Source) Status() string { return s.life.Status() }

// Discover runs the discovery pipeline for a batch of candidate plays:
// source-side preCompare transform, dedup against the ring buffer, then
// fan-out of genuinely new plays on the bus. Returns the plays that were
// emitted. Candidates are processed in play-date order so newPlay events
// are non-decreasing in PlayDate.
func (s *Source) Discover(ctx context.Context, candidates []models.Play) []models.Play {
	if len(candidates) == 0 {
		return nil
	}
	batch := make([]models.Play, len(candidates))
	copy(batch, candidates)
	models.SortPlaysByDate(batch)

	var emitted []models.Play
	for _, candidate := range batch {
		if ctx.Err() != nil {
			break
		}
		play, ok := s.discoverOne(candidate)
		if ok {
			emitted = append(emitted, play)
		}
	}
	return emitted
}

func (s *Source) discoverOne(candidate models.Play) (models.Play, bool) {
	candidate.Meta.Source = s.name

	play, err := s.opts.Transform.ApplyPre(candidate, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Str("play", candidate.String()).Msg("dropping play removed by transform")
		metrics.PlaysDropped.WithLabelValues(s.name, "transform").Inc()
		return models.Play{}, false
	}
	if play.Data.Track == "" || len(play.Data.Artists) == 0 {
		s.logger.Warn().Str("play", candidate.String()).Msg("dropping play with no track or artists")
		metrics.PlaysDropped.WithLabelValues(s.name, "malformed").Inc()
		return models.Play{}, false
	}

	if s.isDuplicate(play) {
		metrics.PlaysDeduped.WithLabelValues(s.name).Inc()
		s.logger.Debug().Str("play", play.String()).Msg("duplicate play not rediscovered")
		return models.Play{}, false
	}

	s.ring.Push(play)
	s.discovered.Add(1)
	metrics.PlaysDiscovered.WithLabelValues(s.name).Inc()
	s.logger.Info().Str("play", play.String()).Msg("discovered play")

	if s.bus != nil {
		p := play.Clone()
		ev := bus.Event{Type: bus.EventNewPlay, Name: s.name, From: bus.FromSource, Play: &p}
		if err := s.bus.Publish(ev); err != nil {
			s.logger.Error().Err(err).Msg("failed to publish newPlay")
		}
	}
	return play, true
}

// isDuplicate compares the candidate against every ring entry through the
// comparator, with compare-stage transform views applied when configured.
func (s *Source) isDuplicate(play models.Play) bool {
	candidate := s.opts.Transform.CompareCandidate(play)
	for _, existing := range s.ring.Items() {
		res := compare.Score(candidate, s.opts.Transform.CompareExisting(existing))
		if res.IsDuplicate() {
			return true
		}
	}
	return false
}

// SeedBacklog fetches historical plays and fills the ring buffer without
// firing newPlay events, so a restart does not rebroadcast old listens.
func (s *Source) SeedBacklog(ctx context.Context) error {
	ba, ok := s.adapter.(BacklogAdapter)
	if !ok || !s.caps.CanBacklog {
		return nil
	}
	plays, err := ba.FetchBacklog(ctx)
	if err != nil {
		return err
	}
	models.SortPlaysByDate(plays)
	for _, play := range plays {
		out, err := s.opts.Transform.ApplyPre(play, s.logger)
		if err != nil {
			continue
		}
		out.Meta.Source = s.name
		s.ring.Push(out)
	}
	s.logger.Info().Int("count", len(plays)).Msg("seeded backlog")
	return nil
}

// IngestPlay accepts one completed play from a push-style source.
func (s *Source) IngestPlay(ctx context.Context, play models.Play) {
	play.Meta.NewFromSource = true
	s.Discover(ctx, []models.Play{play})
}

// IngestUpdate feeds a player progress update; plays that crossed the
// scrobble threshold are discovered.
func (s *Source) IngestUpdate(ctx context.Context, u Update) {
	if s.players == nil {
		return
	}
	completed := s.players.Update(u)
	if len(completed) > 0 {
		s.Discover(ctx, completed)
	}
}

// Players exposes the player store for tests and the status API; nil for
// poll-only sources.
func (s *Source) Players() *PlayerStore { return s.players }
