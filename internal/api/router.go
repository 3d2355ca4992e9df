// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package api exposes the HTTP surface: per-source webhook mounts, the
// dashboard/status API, the dead-letter management endpoints, Prometheus
// metrics, and the event websocket.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/source"
)

// SourceEntry pairs a source core with its ingress handler (nil for
// poll-only sources).
type SourceEntry struct {
	Source  *source.Source
	Ingress source.IngressHandler
}

// App carries the wired components the handlers serve.
type App struct {
	Sources []SourceEntry
	Clients []*client.Client
	Logger  zerolog.Logger

	// Events serves the websocket event stream; nil disables the route.
	Events http.Handler
}

// webhookRateLimit bounds per-IP webhook deliveries.
const webhookRateLimit = 300

// NewRouter builds the chi router.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", app.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/{service}/callback", app.AuthCallback)

	// Webhook ingress, rate limited per remote IP.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(webhookRateLimit, time.Minute))

		r.Post("/api/webscrobbler", app.webhook("webscrobbler"))
		r.Post("/api/webscrobbler/{slug}", app.webhook("webscrobbler"))
		r.Post("/plex", app.webhook("plex"))
		r.Post("/plex/{slug}", app.webhook("plex"))
		r.Post("/tautulli", app.webhook("tautulli"))
		r.Post("/tautulli/{slug}", app.webhook("tautulli"))
		r.Post("/jellyfin", app.webhook("jellyfin"))
		r.Post("/jellyfin/{slug}", app.webhook("jellyfin"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", app.Status)
		r.Get("/recent", app.Recent)
		r.Post("/source/{name}/clear", app.ClearSource)
		r.Get("/deadletter", app.DeadLetters)
		r.Delete("/deadletter/{client}/{id}", app.RemoveDeadLetter)
		r.Put("/deadletter/{client}/{id}/retry", app.RetryDeadLetter)
		if app.Events != nil {
			r.Method(http.MethodGet, "/events/ws", app.Events)
		}
	})

	return r
}

// envelope is the uniform response shape.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: http.StatusText(status), Data: data})
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: http.StatusText(status), Error: err.Error()})
}
