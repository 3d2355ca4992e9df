// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package logging provides centralized zerolog-based logging for Scrobblebus.
//
// The package exposes a global logger configured once at startup plus
// component-scoped child loggers. JSON output is the production default;
// console output is available for development.
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("source", "spotify").Msg("poll started")
//
// Component loggers carry a stable "component" field:
//
//	log := logging.Component("client", "lastfm-main")
//	log.Warn().Err(err).Msg("scrobble failed")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string

	// Format is the output format: json or console.
	// Default: json
	Format string

	// Caller includes caller file and line number in logs.
	Caller bool

	// Output is the writer for log output. Default: os.Stderr.
	Output io.Writer
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // ensures logging works before explicit Init()
func init() {
	initLogger(Config{})
}

// Init initializes the global logger. Safe to call multiple times;
// subsequent calls reconfigure the logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log = ctx.Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Component returns a child logger scoped to a named component.
// kind is "source" or "client" (or any other subsystem name).
func Component(kind, name string) zerolog.Logger {
	return Logger().With().Str("component", kind).Str("name", name).Logger()
}

// Trace starts a trace-level log event on the global logger.
func Trace() *zerolog.Event { return Logger().Trace() }

// Debug starts a debug-level log event on the global logger.
func Debug() *zerolog.Event { return Logger().Debug() }

// Info starts an info-level log event on the global logger.
func Info() *zerolog.Event { return Logger().Info() }

// Warn starts a warn-level log event on the global logger.
func Warn() *zerolog.Event { return Logger().Warn() }

// Error starts an error-level log event on the global logger.
func Error() *zerolog.Event { return Logger().Error() }

// Fatal starts a fatal-level log event on the global logger.
// The process exits after the message is written.
func Fatal() *zerolog.Event { return Logger().Fatal() }
