// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package config loads and validates the service configuration with layered
// sources: built-in defaults, then the YAML config file, then environment
// variables. The dynamic playTransform blocks are kept as raw maps here and
// normalized by the transform package before any worker starts.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`

	// ConfigDir holds the config file and persisted credential files.
	ConfigDir string `koanf:"configDir"`

	// Docker is set when running containerized; only affects path defaults.
	Docker bool `koanf:"docker"`

	SourceDefaults SourceOptions `koanf:"sourceDefaults"`
	ClientDefaults ClientOptions `koanf:"clientDefaults"`

	Sources []SourceConfig `koanf:"sources" validate:"dive"`
	Clients []ClientConfig `koanf:"clients" validate:"dive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `koanf:"port" validate:"gt=0,lt=65536"`

	// BaseURL is used when rendering OAuth callback and dashboard links.
	BaseURL string `koanf:"baseUrl"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SourceOptions are per-source tunables; zero values fall back to the
// sourceDefaults block and then to built-in defaults.
type SourceOptions struct {
	Interval           time.Duration  `koanf:"interval"`
	BackoffBase        time.Duration  `koanf:"backoffBase"`
	BackoffMultiplier  float64        `koanf:"backoffMultiplier"`
	BackoffMax         time.Duration  `koanf:"backoffMax"`
	RingSize           int            `koanf:"ringSize"`
	ListStabilityTicks int            `koanf:"listStabilityTicks"`
	PlayerTTL          time.Duration  `koanf:"playerTTL"`
	Backlog            bool           `koanf:"backlog"`
	PlayTransform      map[string]any `koanf:"playTransform"`
}

// merged returns opts with zero fields filled from defaults.
func (o SourceOptions) merged(d SourceOptions) SourceOptions {
	if o.Interval == 0 {
		o.Interval = d.Interval
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = d.BackoffMultiplier
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.RingSize == 0 {
		o.RingSize = d.RingSize
	}
	if o.ListStabilityTicks == 0 {
		o.ListStabilityTicks = d.ListStabilityTicks
	}
	if o.PlayerTTL == 0 {
		o.PlayerTTL = d.PlayerTTL
	}
	if !o.Backlog {
		o.Backlog = d.Backlog
	}
	if o.PlayTransform == nil {
		o.PlayTransform = d.PlayTransform
	}
	return o
}

// ClientOptions are per-client tunables.
type ClientOptions struct {
	// CheckExistingScrobbles gates the dedup against upstream history.
	// Defaults to true.
	CheckExistingScrobbles *bool `koanf:"checkExistingScrobbles"`

	// MaxPollRetries is the supervisor failure threshold: once a service's
	// decaying failure count exceeds it, the supervisor pauses for its
	// backoff period before restarting again. Restarts are not capped.
	MaxPollRetries int `koanf:"maxPollRetries"`

	// DeadLetterRetries bounds automatic retries per dead-letter entry.
	DeadLetterRetries int `koanf:"deadLetterRetries"`

	// DeadLetterInterval is the heartbeat between dead-letter sweeps.
	DeadLetterInterval time.Duration `koanf:"deadLetterInterval"`

	// ScrobbleDelay is the minimum spacing between scrobble attempts.
	ScrobbleDelay time.Duration `koanf:"scrobbleDelay"`

	// ScrobbleSleep is the idle sleep between queue drains.
	ScrobbleSleep time.Duration `koanf:"scrobbleSleep"`

	// RecentLimit bounds the upstream recent-scrobbles snapshot.
	RecentLimit int `koanf:"recentLimit"`

	// SourceExclusions lists source names this client ignores.
	SourceExclusions []string `koanf:"sourceExclusions"`

	PlayTransform map[string]any `koanf:"playTransform"`
}

func (o ClientOptions) merged(d ClientOptions) ClientOptions {
	if o.CheckExistingScrobbles == nil {
		o.CheckExistingScrobbles = d.CheckExistingScrobbles
	}
	if o.MaxPollRetries == 0 {
		o.MaxPollRetries = d.MaxPollRetries
	}
	if o.DeadLetterRetries == 0 {
		o.DeadLetterRetries = d.DeadLetterRetries
	}
	if o.DeadLetterInterval == 0 {
		o.DeadLetterInterval = d.DeadLetterInterval
	}
	if o.ScrobbleDelay == 0 {
		o.ScrobbleDelay = d.ScrobbleDelay
	}
	if o.ScrobbleSleep == 0 {
		o.ScrobbleSleep = d.ScrobbleSleep
	}
	if o.RecentLimit == 0 {
		o.RecentLimit = d.RecentLimit
	}
	if o.SourceExclusions == nil {
		o.SourceExclusions = d.SourceExclusions
	}
	if o.PlayTransform == nil {
		o.PlayTransform = d.PlayTransform
	}
	return o
}

// SourceConfig declares one source instance.
type SourceConfig struct {
	Name string `koanf:"name" validate:"required"`
	Type string `koanf:"type" validate:"required"`

	// Slug selects this instance on shared webhook paths. Empty matches
	// only slug-less request paths.
	Slug string `koanf:"slug"`

	Enable  *bool          `koanf:"enable"`
	Data    map[string]any `koanf:"data"`
	Options SourceOptions  `koanf:"options"`
}

// Enabled defaults to true when the enable flag is omitted.
func (s SourceConfig) Enabled() bool { return s.Enable == nil || *s.Enable }

// ClientConfig declares one client instance.
type ClientConfig struct {
	Name    string         `koanf:"name" validate:"required"`
	Type    string         `koanf:"type" validate:"required"`
	Enable  *bool          `koanf:"enable"`
	Data    map[string]any `koanf:"data"`
	Options ClientOptions  `koanf:"options"`
}

// Enabled defaults to true when the enable flag is omitted.
func (c ClientConfig) Enabled() bool { return c.Enable == nil || *c.Enable }

// EffectiveSourceOptions merges an instance's options over sourceDefaults.
func (c *Config) EffectiveSourceOptions(s SourceConfig) SourceOptions {
	return s.Options.merged(c.SourceDefaults)
}

// EffectiveClientOptions merges an instance's options over clientDefaults.
func (c *Config) EffectiveClientOptions(cl ClientConfig) ClientOptions {
	return cl.Options.merged(c.ClientDefaults)
}

// DataString extracts a string from an adapter data map, tolerating a
// missing key.
func DataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// DataBool extracts a bool from an adapter data map.
func DataBool(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}
