// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package main is the Scrobblebus server entry point.
//
// Scrobblebus ingests plays from configured sources (media-server webhooks,
// polled APIs, browser extensions) and fans them out to scrobble clients
// (Last.fm, ListenBrainz) with deduplication, user-defined transforms, and
// dead-letter retry.
//
// Startup order:
//
//  1. Configuration: defaults, then CONFIG_DIR/config.yaml, then env vars
//  2. Logging: zerolog, JSON by default
//  3. Event bus: in-process Watermill gochannel pub/sub
//  4. Sources and clients: built from the registries per config
//  5. Supervision: suture tree (ingest layer + api layer)
//  6. HTTP: webhook ingress, dashboard API, /metrics, event websocket
//
// The process exits 0 on SIGINT/SIGTERM after graceful shutdown, non-zero
// on a startup error.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrobblebus/scrobblebus/internal/api"
	"github.com/scrobblebus/scrobblebus/internal/bus"
	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/client/lastfm"
	"github.com/scrobblebus/scrobblebus/internal/client/listenbrainz"
	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/logging"
	"github.com/scrobblebus/scrobblebus/internal/source"
	"github.com/scrobblebus/scrobblebus/internal/source/jellyfin"
	"github.com/scrobblebus/scrobblebus/internal/source/plex"
	"github.com/scrobblebus/scrobblebus/internal/source/tautulli"
	"github.com/scrobblebus/scrobblebus/internal/source/webscrobbler"
	"github.com/scrobblebus/scrobblebus/internal/supervisor"
	"github.com/scrobblebus/scrobblebus/internal/supervisor/services"
	"github.com/scrobblebus/scrobblebus/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()
	logger.Info().Int("port", cfg.Server.Port).Str("configDir", cfg.ConfigDir).
		Int("sources", len(cfg.Sources)).Int("clients", len(cfg.Clients)).
		Msg("scrobblebus starting")

	eventBus := bus.New(logger)
	defer eventBus.Close()

	sources, err := buildSources(cfg, eventBus)
	if err != nil {
		return err
	}
	clients, err := buildClients(cfg, eventBus)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		logger.Warn().Msg("no sources configured")
	}
	if len(clients) == 0 {
		logger.Warn().Msg("no clients configured")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(logger), supervisor.TreeConfig{
		FailureThreshold: float64(cfg.ClientDefaults.MaxPollRetries),
	})

	hub := websocket.NewHub(eventBus, logger)
	tree.AddIngestService(services.NewFuncService("event-hub", hub.Run))
	for _, c := range clients {
		tree.AddIngestService(services.NewClientService(c))
	}
	for _, s := range sources {
		tree.AddIngestService(services.NewSourceService(s.Source))
	}

	router := api.NewRouter(&api.App{
		Sources: sources,
		Clients: clients,
		Logger:  logger,
		Events:  hub,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPService(server))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("scrobblebus stopped")
	return nil
}

func buildSources(cfg *config.Config, eventBus *bus.Bus) ([]api.SourceEntry, error) {
	reg := source.NewRegistry()
	webscrobbler.Register(reg)
	jellyfin.Register(reg)
	plex.Register(reg)
	tautulli.Register(reg)

	deps := source.Deps{
		Bus:      eventBus,
		Logger:   logging.Logger(),
		Clock:    source.SystemClock{},
		CredsDir: cfg.ConfigDir,
	}

	var out []api.SourceEntry
	for _, sc := range cfg.Sources {
		if !sc.Enabled() {
			logging.Info().Str("source", sc.Name).Msg("source disabled")
			continue
		}
		built, err := reg.Build(sc, cfg.EffectiveSourceOptions(sc), deps)
		if err != nil {
			return nil, err
		}
		out = append(out, api.SourceEntry{Source: built.Source, Ingress: built.Ingress})
	}
	return out, nil
}

func buildClients(cfg *config.Config, eventBus *bus.Bus) ([]*client.Client, error) {
	reg := client.NewRegistry()
	lastfm.Register(reg)
	listenbrainz.Register(reg)

	deps := client.Deps{
		Bus:      eventBus,
		Logger:   logging.Logger(),
		CredsDir: cfg.ConfigDir,
		BaseURL:  cfg.Server.BaseURL,
	}

	var out []*client.Client
	for _, cc := range cfg.Clients {
		if !cc.Enabled() {
			logging.Info().Str("client", cc.Name).Msg("client disabled")
			continue
		}
		built, err := reg.Build(cc, cfg.EffectiveClientOptions(cc), deps)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}
