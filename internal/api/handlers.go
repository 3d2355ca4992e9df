// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/metrics"
	"github.com/scrobblebus/scrobblebus/internal/models"
)

// webhook dispatches a delivery to the configured source instance of the
// given type whose slug matches the request path. A source with no slug
// matches only slug-less paths; named slugs require exact equality.
func (app *App) webhook(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		endpoint := typ

		entry, ok := app.findIngress(typ, slug)
		if !ok {
			metrics.WebhookRequests.WithLabelValues(endpoint, "unmatched").Inc()
			respondError(w, http.StatusNotFound, fmt.Errorf("no %s source for slug %q", typ, slug))
			return
		}

		if err := entry.Ingress.HandleRequest(r.Context(), r); err != nil {
			metrics.WebhookRequests.WithLabelValues(endpoint, "rejected").Inc()
			app.Logger.Warn().Err(err).Str("source", entry.Source.Name()).Msg("webhook rejected")
			respondError(w, http.StatusBadRequest, err)
			return
		}

		metrics.WebhookRequests.WithLabelValues(endpoint, "ok").Inc()
		respond(w, http.StatusOK, nil)
	}
}

func (app *App) findIngress(typ, slug string) (SourceEntry, bool) {
	for _, entry := range app.Sources {
		if entry.Ingress == nil || entry.Source.TypeName() != typ {
			continue
		}
		if entry.Source.Slug() == slug {
			return entry, true
		}
	}
	return SourceEntry{}, false
}

// Health reports liveness plus coarse component readiness.
func (app *App) Health(w http.ResponseWriter, _ *http.Request) {
	type componentHealth struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	var components []componentHealth
	for _, s := range app.Sources {
		components = append(components, componentHealth{Name: s.Source.Name(), Status: s.Source.Status()})
	}
	for _, c := range app.Clients {
		components = append(components, componentHealth{Name: c.Name(), Status: c.Status()})
	}
	respond(w, http.StatusOK, map[string]any{"alive": true, "components": components})
}

// sourceStatus and clientStatus are the dashboard projections.
type sourceStatus struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Slug       string `json:"slug,omitempty"`
	Status     string `json:"status"`
	Discovered uint64 `json:"tracksDiscovered"`
	RingSize   int    `json:"recentCount"`
	Polling    bool   `json:"polling"`
	Players    int    `json:"players,omitempty"`
	AuthURL    string `json:"authUrl,omitempty"`
}

type clientStatus struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Scrobbling bool   `json:"scrobbling"`
	Queued     int    `json:"queued"`
	Scrobbled  int    `json:"scrobbled"`
	DeadLetter int    `json:"deadLetter"`
	AuthURL    string `json:"authUrl,omitempty"`
}

// Status returns every configured source and client with counters.
func (app *App) Status(w http.ResponseWriter, _ *http.Request) {
	sources := make([]sourceStatus, 0, len(app.Sources))
	for _, entry := range app.Sources {
		s := entry.Source
		st := sourceStatus{
			Name:       s.Name(),
			Type:       s.TypeName(),
			Slug:       s.Slug(),
			Status:     s.Status(),
			Discovered: s.Discovered(),
			RingSize:   len(s.Recent()),
			Polling:    s.Polling(),
			AuthURL:    s.Lifecycle().AuthInteraction(),
		}
		if ps := s.Players(); ps != nil {
			st.Players = ps.Len()
		}
		sources = append(sources, st)
	}

	clients := make([]clientStatus, 0, len(app.Clients))
	for _, c := range app.Clients {
		clients = append(clients, clientStatus{
			Name:       c.Name(),
			Type:       c.TypeName(),
			Status:     c.Status(),
			Scrobbling: c.Scrobbling(),
			Queued:     c.QueueLen(),
			Scrobbled:  len(c.ScrobbledPlays()),
			DeadLetter: len(c.DeadLetters()),
			AuthURL:    c.Lifecycle().AuthInteraction(),
		})
	}

	respond(w, http.StatusOK, map[string]any{"sources": sources, "clients": clients})
}

// Recent returns one source's ring buffer, or every source's when no
// ?source= filter is given.
func (app *App) Recent(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("source")
	out := make(map[string][]models.Play)
	for _, entry := range app.Sources {
		if filter != "" && entry.Source.Name() != filter {
			continue
		}
		out[entry.Source.Name()] = entry.Source.Recent()
	}
	if filter != "" && len(out) == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("no source named %q", filter))
		return
	}
	respond(w, http.StatusOK, out)
}

// ClearSource empties one source's discovery ring.
func (app *App) ClearSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, entry := range app.Sources {
		if entry.Source.Name() == name {
			entry.Source.ClearRecent()
			respond(w, http.StatusOK, nil)
			return
		}
	}
	respondError(w, http.StatusNotFound, fmt.Errorf("no source named %q", name))
}

// DeadLetters lists every client's dead-letter queue.
func (app *App) DeadLetters(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string][]models.DeadLetterScrobble)
	for _, c := range app.Clients {
		out[c.Name()] = c.DeadLetters()
	}
	respond(w, http.StatusOK, out)
}

// RemoveDeadLetter drops one dead-letter entry.
func (app *App) RemoveDeadLetter(w http.ResponseWriter, r *http.Request) {
	c, err := app.findClient(chi.URLParam(r, "client"))
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if !c.RemoveDeadLetter(chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, errors.New("no such dead-letter entry"))
		return
	}
	respond(w, http.StatusOK, nil)
}

// RetryDeadLetter replays one dead-letter entry immediately.
func (app *App) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	c, err := app.findClient(chi.URLParam(r, "client"))
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err := c.RetryDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

// AuthCallback handles /{service}/callback redirects from upstream OAuth
// flows. It nudges the matching clients' initialization so a freshly
// authorized token is picked up immediately instead of on the supervisor's
// next retry.
func (app *App) AuthCallback(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	matched := 0
	for _, c := range app.Clients {
		if c.TypeName() != service {
			continue
		}
		matched++
		go func(c *client.Client) {
			if err := c.Initialize(context.Background()); err != nil {
				app.Logger.Warn().Err(err).Str("client", c.Name()).Msg("auth callback re-init failed")
			}
		}(c)
	}
	if matched == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("no %s client configured", service))
		return
	}
	respond(w, http.StatusOK, map[string]any{"service": service, "clients": matched})
}

func (app *App) findClient(name string) (*client.Client, error) {
	for _, c := range app.Clients {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no client named %q", name)
}
