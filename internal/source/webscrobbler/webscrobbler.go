// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package webscrobbler ingests the WebScrobbler browser extension's webhook
// notifications. The extension reports player state per browser tab;
// nowplaying/paused updates feed the player store and scrobble events are
// discovered directly.
package webscrobbler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/models"
	"github.com/scrobblebus/scrobblebus/internal/source"
)

// TypeName is the registry key for this source type.
const TypeName = "webscrobbler"

var capabilities = source.Capabilities{AcceptsIngress: true}

// Register adds the webscrobbler source type to the registry.
func Register(reg *source.Registry) {
	reg.Register(TypeName, capabilities, New)
}

// New constructs a webscrobbler source instance.
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

// payload is the extension's notification body, reduced to the fields the
// pipeline needs. "Send All Properties" style payloads carry much more; the
// decoder ignores the rest.
type payload struct {
	EventName string `json:"eventName"`
	Time      int64  `json:"time"`
	Data      struct {
		Song struct {
			ControllerTabID int64 `json:"controllerTabId"`
			Connector       struct {
				ID string `json:"id"`
			} `json:"connector"`
			Parsed struct {
				CurrentTime int64  `json:"currentTime"`
				Duration    int64  `json:"duration"`
				OriginURL   string `json:"originUrl"`
				UniqueID    string `json:"uniqueID"`
			} `json:"parsed"`
			Processed struct {
				Track       string `json:"track"`
				Artist      string `json:"artist"`
				Album       string `json:"album"`
				AlbumArtist string `json:"albumArtist"`
				Duration    int64  `json:"duration"`
			} `json:"processed"`
		} `json:"song"`
	} `json:"data"`
}

// Handler lowers webhook requests for one configured instance.
type Handler struct {
	core  *source.Source
	clock source.Clock
}

// HandleRequest decodes one extension notification.
func (h *Handler) HandleRequest(ctx context.Context, r *http.Request) error {
	var p payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return fmt.Errorf("decode webscrobbler payload: %w", err)
	}

	play, ok := p.play()
	if !ok {
		return fmt.Errorf("webscrobbler payload without track or artist")
	}

	key := source.PlayerKey{
		DeviceID: p.Data.Song.Connector.ID + "-" + strconv.FormatInt(p.Data.Song.ControllerTabID, 10),
	}

	switch p.EventName {
	case "scrobble":
		// The extension decided the play is complete.
		play.Data.PlayDate = h.eventTime(p)
		h.core.IngestPlay(ctx, play)
	case "nowplaying", "resumedplaying":
		h.core.IngestUpdate(ctx, source.Update{
			Key:      key,
			Play:     play,
			State:    source.StatePlaying,
			Position: time.Duration(p.Data.Song.Parsed.CurrentTime) * time.Second,
		})
	case "paused":
		h.core.IngestUpdate(ctx, source.Update{
			Key:      key,
			Play:     play,
			State:    source.StatePaused,
			Position: time.Duration(p.Data.Song.Parsed.CurrentTime) * time.Second,
		})
	default:
		return fmt.Errorf("unknown webscrobbler event %q", p.EventName)
	}
	return nil
}

func (p payload) play() (models.Play, bool) {
	song := p.Data.Song
	track := song.Processed.Track
	artist := song.Processed.Artist
	if track == "" || artist == "" {
		return models.Play{}, false
	}

	duration := song.Processed.Duration
	if duration == 0 {
		duration = song.Parsed.Duration
	}

	play := models.Play{
		Data: models.PlayData{
			Track:    track,
			Artists:  []string{artist},
			Album:    song.Processed.Album,
			Duration: int(duration),
		},
		Meta: models.PlayMeta{
			TrackID:  song.Parsed.UniqueID,
			DeviceID: song.Connector.ID,
			WebURL:   song.Parsed.OriginURL,
		},
	}
	if aa := song.Processed.AlbumArtist; aa != "" && aa != artist {
		play.Data.AlbumArtists = []string{aa}
	}
	return play, true
}

func (h *Handler) eventTime(p payload) time.Time {
	if p.Time > 0 {
		// The extension reports epoch milliseconds.
		return time.UnixMilli(p.Time)
	}
	if h.clock != nil {
		return h.clock.Now()
	}
	return time.Now()
}
