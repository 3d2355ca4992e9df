// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package client implements the client side of the scrobble pipeline: the
// per-client queue, fuzzy existing-scrobble detection, scrobble attempts
// with pacing and a circuit breaker, and the dead-letter retry queue.
package client

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

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

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Capabilities describes a client type.
type Capabilities struct {
	RequiresAuth bool
}

// Options tunes a single client instance.
type Options struct {
	// CheckExistingScrobbles gates dedup against upstream history.
	CheckExistingScrobbles bool

	// DeadLetterRetries bounds automatic retries per dead-letter entry.
	DeadLetterRetries int

	// DeadLetterInterval is the heartbeat between dead-letter sweeps.
	DeadLetterInterval time.Duration

	// ScrobbleDelay is the minimum spacing between scrobble attempts.
	ScrobbleDelay time.Duration

	// ScrobbleSleep is the idle sleep between queue drains.
	ScrobbleSleep time.Duration

	// RecentLimit bounds the upstream recent-scrobbles snapshot.
	RecentLimit int

	// ScrobbledRingSize bounds the local ring of successful scrobbles.
	ScrobbledRingSize int

	// SourceExclusions lists source names this client ignores.
	SourceExclusions []string

	// Transform is the parsed playTransform block, nil for none.
	Transform *transform.Config
}

func (o Options) withDefaults() Options {
	if o.DeadLetterRetries <= 0 {
		o.DeadLetterRetries = 3
	}
	if o.DeadLetterInterval <= 0 {
		o.DeadLetterInterval = 30 * time.Second
	}
	if o.ScrobbleDelay <= 0 {
		o.ScrobbleDelay = time.Second
	}
	if o.ScrobbleSleep <= 0 {
		o.ScrobbleSleep = 10 * time.Second
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = 50
	}
	if o.ScrobbledRingSize <= 0 {
		o.ScrobbledRingSize = 40
	}
	return o
}

// Adapter is the outbound contract a concrete client type implements.
type Adapter interface {
	// Scrobble submits one play and returns the upstream's record of it,
	// normalized back into a Play. Failures are *UpstreamError.
	Scrobble(ctx context.Context, play models.Play) (models.Play, error)

	// RecentScrobbles returns the upstream's recent history, any order.
	RecentScrobbles(ctx context.Context, limit int) ([]models.Play, error)
}

// Config assembles a client.
type Config struct {
	Name         string
	Type         string
	Capabilities Capabilities
	Options      Options
	Hooks        lifecycle.Hooks
	Adapter      Adapter

	Bus    *bus.Bus
	Logger zerolog.Logger
	Clock  Clock
}

// Client is the shared core of every client type.
type Client struct {
	name string
	typ  string
	caps Capabilities
	opts Options

	life    *lifecycle.Lifecycle
	adapter Adapter
	bus     *bus.Bus
	logger  zerolog.Logger
	clock   Clock

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[models.Play]

	mu                sync.Mutex
	queue             []models.QueuedScrobble
	dead              []models.DeadLetterScrobble
	recent            []models.Play
	oldestScrobble    time.Time
	newestScrobble    time.Time
	lastScrobbleCheck time.Time

	scrobbled *models.Ring[models.ScrobbledPlay]

	scrobbling atomic.Bool
}

// New builds a client from its config.
func New(cfg Config) *Client {
	opts := cfg.Options.withDefaults()
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	c := &Client{
		name:      cfg.Name,
		typ:       cfg.Type,
		caps:      cfg.Capabilities,
		opts:      opts,
		adapter:   cfg.Adapter,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		clock:     clock,
		limiter:   rate.NewLimiter(rate.Every(opts.ScrobbleDelay), 1),
		scrobbled: models.NewRing[models.ScrobbledPlay](opts.ScrobbledRingSize),
	}
	c.life = lifecycle.New(cfg.Name, bus.FromClient, cfg.Capabilities.RequiresAuth, cfg.Hooks, cfg.Bus, cfg.Logger)
	c.breaker = gobreaker.NewCircuitBreaker[models.Play](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// Name returns the configured instance name.
func (c *Client) Name() string { return c.name }

// TypeName returns the client type ("lastfm", "listenbrainz", ...).
func (c *Client) TypeName() string { return c.typ }

// Lifecycle exposes the init/auth state machine.
func (c *Client) Lifecycle() *lifecycle.Lifecycle { return c.life }

// Initialize runs the staged init. Idempotent.
func (c *Client) Initialize(ctx context.Context) error {
	return c.life.Initialize(ctx)
}

// Status returns the last published lifecycle status.
func (c *Client) Status() string { return c.life.Status() }

// Scrobbling reports whether the worker loop is running.
func (c *Client) Scrobbling() bool { return c.scrobbling.Load() }

// AcceptsSource applies the per-source exclusion list.
func (c *Client) AcceptsSource(source string) bool {
	return !slices.Contains(c.opts.SourceExclusions, source)
}

// Enqueue runs the client-side preCompare transform and inserts the play
// into the queue in play-date order. The caller's play is never retained;
// the queue owns an independent copy.
func (c *Client) Enqueue(source string, play models.Play) error {
	transformed, err := c.opts.Transform.ApplyPre(play.Clone(), c.logger)
	if err != nil {
		c.logger.Warn().Err(err).Str("play", play.String()).Msg("dropping play removed by transform")
		return err
	}

	q := models.NewQueuedScrobble(source, transformed)

	c.mu.Lock()
	idx, _ := slices.BinarySearchFunc(c.queue, q, func(a, b models.QueuedScrobble) int {
		return a.Play.Data.PlayDate.Compare(b.Play.Data.PlayDate)
	})
	c.queue = slices.Insert(c.queue, idx, q)
	depth := len(c.queue)
	c.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(c.name).Set(float64(depth))
	c.publish(bus.Event{Type: bus.EventScrobbleQueued, Name: c.name, From: bus.FromClient, ScrobbleID: q.ID, Play: ref(q.Play)})
	return nil
}

// QueueLen returns the current queue depth.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Queued returns a copy of the queue, oldest play first.
func (c *Client) Queued() []models.QueuedScrobble {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.QueuedScrobble, len(c.queue))
	copy(out, c.queue)
	return out
}

// ScrobbledPlays returns a copy of the local ring of successful scrobbles.
func (c *Client) ScrobbledPlays() []models.ScrobbledPlay {
	return c.scrobbled.Items()
}

// refreshRecentScrobbles pulls the upstream history snapshot.
func (c *Client) refreshRecentScrobbles(ctx context.Context) error {
	recent, err := c.adapter.RecentScrobbles(ctx, c.opts.RecentLimit)
	if err != nil {
		return err
	}
	models.SortPlaysByDate(recent)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = recent
	c.lastScrobbleCheck = c.clock.Now()
	if len(recent) > 0 {
		c.oldestScrobble = recent[0].Data.PlayDate
		c.newestScrobble = recent[len(recent)-1].Data.PlayDate
	} else {
		c.oldestScrobble = time.Time{}
		c.newestScrobble = time.Time{}
	}
	return nil
}

// timeFrameValid rejects plays older than the oldest scrobble the upstream
// still reports, so a narrow refresh window cannot reintroduce ancient
// plays after a restart.
func (c *Client) timeFrameValid(play models.Play) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recent) == 0 || c.oldestScrobble.IsZero() {
		return true
	}
	return play.Data.PlayDate.After(c.oldestScrobble)
}

// alreadyScrobbled combines two sources of truth in order: this client's
// own scrobble ring (exact field equality plus temporal closeness), then a
// fuzzy comparator pass over the upstream snapshot.
func (c *Client) alreadyScrobbled(play models.Play) (models.Play, bool) {
	if !c.opts.CheckExistingScrobbles {
		return models.Play{}, false
	}

	for _, sp := range c.scrobbled.Items() {
		if exactMatch(sp.Play, play) {
			return sp.Play, true
		}
	}

	c.mu.Lock()
	recent := make([]models.Play, len(c.recent))
	copy(recent, c.recent)
	c.mu.Unlock()
	if len(recent) == 0 {
		return models.Play{}, false
	}

	candidate := c.opts.Transform.CompareCandidate(play)
	haystack := make([]models.Play, len(recent))
	for i, ex := range recent {
		haystack[i] = c.opts.Transform.CompareExisting(ex)
	}

	if match, res, ok := compare.FindMatch(candidate, haystack); ok {
		c.logger.Debug().Str("play", play.String()).Float64("score", res.Score).Msg("found existing scrobble")
		return match, true
	}

	// Log the closest miss at trace level.
	if closest, res, ok := compare.Closest(candidate, haystack); ok {
		c.logger.Trace().Str("play", play.String()).Str("closest", closest.String()).
			Float64("score", res.Score).Msg("no existing scrobble")
	}
	return models.Play{}, false
}

// exactMatch is the strict local check: normalized track, primary artist,
// and album equality plus a CLOSE-or-better play date.
func exactMatch(a, b models.Play) bool {
	if compare.Normalize(a.Data.Track) != compare.Normalize(b.Data.Track) {
		return false
	}
	if compare.Normalize(a.PrimaryArtist()) != compare.Normalize(b.PrimaryArtist()) {
		return false
	}
	if compare.Normalize(a.Data.Album) != compare.Normalize(b.Data.Album) {
		return false
	}
	return compare.TemporalAccuracy(a.Data.PlayDate, b.Data.PlayDate) >= compare.TimeClose
}

func (c *Client) publish(ev bus.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ev); err != nil {
		c.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to publish event")
	}
}

func ref(p models.Play) *models.Play {
	cp := p.Clone()
	return &cp
}
