// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package plex ingests Plex webhooks. Plex posts a multipart form whose
// "payload" field is JSON; media.scrobble events are discovered directly
// and play/pause/resume/stop events drive players.
package plex

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/models"
	"github.com/scrobblebus/scrobblebus/internal/source"
)

// TypeName is the registry key for this source type.
const TypeName = "plex"

var capabilities = source.Capabilities{AcceptsIngress: true}

// Register adds the plex source type to the registry.
func Register(reg *source.Registry) {
	reg.Register(TypeName, capabilities, New)
}

// New constructs a plex source instance. The data block may restrict
// ingestion to specific account names.
func New(cfg config.SourceConfig, opts source.Options, deps source.Deps) (source.Built, error) {
	core := source.New(source.Config{
		Name:         cfg.Name,
		Type:         TypeName,
		Slug:         cfg.Slug,
		Capabilities: capabilities,
		Options:      opts,
		Bus:          deps.Bus,
		Logger:       deps.Logger,
		Clock:        deps.Clock,
	})
	var users []string
	if raw, ok := cfg.Data["users"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				users = append(users, s)
			}
		}
	}
	return source.Built{Source: core, Ingress: &Handler{core: core, users: users, clock: deps.Clock}}, nil
}

// webhook is Plex's payload, reduced to music playback fields.
type webhook struct {
	Event   string `json:"event"`
	Account struct {
		Title string `json:"title"`
	} `json:"Account"`
	Player struct {
		UUID  string `json:"uuid"`
		Title string `json:"title"`
	} `json:"Player"`
	Metadata struct {
		Type             string `json:"type"`
		Title            string `json:"title"`
		GrandparentTitle string `json:"grandparentTitle"`
		ParentTitle      string `json:"parentTitle"`
		OriginalTitle    string `json:"originalTitle"`
		RatingKey        string `json:"ratingKey"`
		Duration         int64  `json:"duration"`
		ViewOffset       int64  `json:"viewOffset"`
	} `json:"Metadata"`
}

// Handler lowers webhook requests for one configured instance.
type Handler struct {
	core  *source.Source
	users []string
	clock source.Clock
}

// maxPayloadMemory bounds the multipart parse; webhook payloads are small.
const maxPayloadMemory = 1 << 20

// HandleRequest decodes one Plex webhook delivery.
func (h *Handler) HandleRequest(ctx context.Context, r *http.Request) error {
	if err := r.ParseMultipartForm(maxPayloadMemory); err != nil {
		return fmt.Errorf("parse plex multipart form: %w", err)
	}
	raw := r.FormValue("payload")
	if raw == "" {
		return fmt.Errorf("plex webhook without payload field")
	}

	var w webhook
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return fmt.Errorf("decode plex payload: %w", err)
	}

	if w.Metadata.Type != "track" {
		return nil
	}
	if len(h.users) > 0 && !containsFold(h.users, w.Account.Title) {
		return nil
	}

	play, ok := w.play(h.core.Name())
	if !ok {
		return fmt.Errorf("plex payload without track or artist")
	}

	key := source.PlayerKey{DeviceID: w.Player.UUID, User: w.Account.Title}
	position := time.Duration(w.Metadata.ViewOffset) * time.Millisecond

	switch w.Event {
	case "media.scrobble":
		// Plex already applied its own watched threshold.
		play.Data.PlayDate = h.now()
		h.core.IngestPlay(ctx, play)
	case "media.play", "media.resume":
		h.core.IngestUpdate(ctx, source.Update{Key: key, Play: play, State: source.StatePlaying, Position: position})
	case "media.pause":
		h.core.IngestUpdate(ctx, source.Update{Key: key, Play: play, State: source.StatePaused, Position: position})
	case "media.stop":
		h.core.IngestUpdate(ctx, source.Update{Key: key, Play: play, State: source.StateStopped, Position: position})
	default:
		// Library and server events are not playback.
	}
	return nil
}

func (w webhook) play(sourceName string) (models.Play, bool) {
	m := w.Metadata
	artist := m.OriginalTitle
	if artist == "" {
		artist = m.GrandparentTitle
	}
	if m.Title == "" || artist == "" {
		return models.Play{}, false
	}

	return models.Play{
		Data: models.PlayData{
			Track:    m.Title,
			Artists:  []string{artist},
			Album:    m.ParentTitle,
			Duration: int(m.Duration / 1000),
		},
		Meta: models.PlayMeta{
			Source:   sourceName,
			TrackID:  m.RatingKey,
			DeviceID: w.Player.UUID,
			User:     w.Account.Title,
		},
	}, true
}

func (h *Handler) now() time.Time {
	if h.clock != nil {
		return h.clock.Now()
	}
	return time.Now()
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
