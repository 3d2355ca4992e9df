// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the structured environment overrides:
// SCROBBLE_SERVER_PORT, SCROBBLE_LOGGING_LEVEL, ...
const EnvPrefix = "SCROBBLE_"

// Legacy flat environment variables, kept for operational compatibility.
const (
	envPort      = "PORT"
	envLogLevel  = "LOG_LEVEL"
	envConfigDir = "CONFIG_DIR"
	envIsDocker  = "IS_DOCKER"
)

// Default values applied before file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 9078,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ConfigDir: defaultConfigDir(),
		SourceDefaults: SourceOptions{
			Interval:           30 * time.Second,
			BackoffBase:        10 * time.Second,
			BackoffMultiplier:  2,
			BackoffMax:         10 * time.Minute,
			RingSize:           100,
			ListStabilityTicks: 2,
			PlayerTTL:          10 * time.Minute,
		},
		ClientDefaults: ClientOptions{
			MaxPollRetries:     5,
			DeadLetterRetries:  3,
			DeadLetterInterval: 30 * time.Second,
			ScrobbleDelay:      time.Second,
			ScrobbleSleep:      10 * time.Second,
			RecentLimit:        50,
		},
	}
}

func defaultConfigDir() string {
	if os.Getenv(envIsDocker) != "" {
		return "/config"
	}
	return "config"
}

// Load builds the configuration: defaults, then the config file (when one
// exists), then environment variables. Validation errors are returned
// wrapped so the caller can present them as startup failures.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	dir := os.Getenv(envConfigDir)
	if dir == "" {
		dir = defaultConfigDir()
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ConfigDir = dir
	applyLegacyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envToKey maps SCROBBLE_SERVER_PORT to server.port.
func envToKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "_", ".")
}

// applyLegacyEnv applies the flat PORT / LOG_LEVEL / IS_DOCKER variables on
// top of everything else.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv(envPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if os.Getenv(envIsDocker) != "" {
		cfg.Docker = true
	}
}
