// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package tautulli ingests Tautulli notification-agent webhooks. Tautulli
// fires "watched" notifications once its own completion threshold passes,
// so those plays are discovered directly; play/resume/pause updates drive
// players for setups that notify on every state change.
package tautulli

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/models"
	"github.com/scrobblebus/scrobblebus/internal/source"
)

// TypeName is the registry key for this source type.
const TypeName = "tautulli"

var capabilities = source.Capabilities{AcceptsIngress: true}

// Register adds the tautulli source type to the registry.
func Register(reg *source.Registry) {
	reg.Register(TypeName, capabilities, New)
}

// New constructs a tautulli source instance.
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
	return source.Built{Source: core, Ingress: &Handler{core: core, clock: deps.Clock}}, nil
}

// notification is the JSON body of a Tautulli webhook agent configured with
// the conventional scrobble template.
type notification struct {
	Action string `json:"action"`

	MediaType string `json:"media_type"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`

	// Durations arrive as strings in mm:ss or plain seconds depending on
	// the template.
	Duration string `json:"duration"`

	User      string `json:"user"`
	Player    string `json:"player"`
	MachineID string `json:"machine_id"`
	RatingKey string `json:"rating_key"`

	ProgressPercent string `json:"progress_percent"`
}

// Handler lowers webhook requests for one configured instance.
type Handler struct {
	core  *source.Source
	clock source.Clock
}

// HandleRequest decodes one Tautulli notification.
func (h *Handler) HandleRequest(ctx context.Context, r *http.Request) error {
	var n notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		return fmt.Errorf("decode tautulli payload: %w", err)
	}

	if n.MediaType != "" && n.MediaType != "track" {
		return nil
	}

	play, ok := n.play(h.core.Name())
	if !ok {
		return fmt.Errorf("tautulli payload without track or artist")
	}

	key := source.PlayerKey{DeviceID: n.MachineID, User: n.User}
	position := n.position(play.Data.Duration)

	switch n.Action {
	case "watched":
		play.Data.PlayDate = h.now()
		h.core.IngestPlay(ctx, play)
	case "play", "resume":
		h.core.IngestUpdate(ctx, source.Update{Key: key, Play: play, State: source.StatePlaying, Position: position})
	case "pause":
		h.core.IngestUpdate(ctx, source.Update{Key: key, Play: play, State: source.StatePaused, Position: position})
	case "stop":
		h.core.IngestUpdate(ctx, source.Update{Key: key, Play: play, State: source.StateStopped, Position: position})
	default:
		return fmt.Errorf("unknown tautulli action %q", n.Action)
	}
	return nil
}

func (n notification) play(sourceName string) (models.Play, bool) {
	if n.Title == "" || n.Artist == "" {
		return models.Play{}, false
	}
	return models.Play{
		Data: models.PlayData{
			Track:    n.Title,
			Artists:  []string{n.Artist},
			Album:    n.Album,
			Duration: parseDuration(n.Duration),
		},
		Meta: models.PlayMeta{
			Source:   sourceName,
			TrackID:  n.RatingKey,
			DeviceID: n.MachineID,
			User:     n.User,
		},
	}, true
}

// position derives the playback position from progress_percent when the
// template supplies it.
func (n notification) position(durationSec int) time.Duration {
	pct, err := strconv.Atoi(n.ProgressPercent)
	if err != nil || durationSec <= 0 {
		return 0
	}
	return time.Duration(durationSec*pct/100) * time.Second
}

// parseDuration accepts "mm:ss", "hh:mm:ss", or plain seconds.
func parseDuration(s string) int {
	if s == "" {
		return 0
	}
	var parts []int
	for _, field := range strings.Split(s, ":") {
		v, err := strconv.Atoi(field)
		if err != nil {
			return 0
		}
		parts = append(parts, v)
	}
	total := 0
	for _, p := range parts {
		total = total*60 + p
	}
	return total
}
