// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package jellyfin ingests Jellyfin webhook-plugin notifications. The
// upstream plugin must be configured to send all properties as JSON;
// playback start/progress/stop notifications drive per-(device, user)
// players.
package jellyfin

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/models"
	"github.com/scrobblebus/scrobblebus/internal/source"
)

// TypeName is the registry key for this source type.
const TypeName = "jellyfin"

var capabilities = source.Capabilities{AcceptsIngress: true}

// Register adds the jellyfin source type to the registry.
func Register(reg *source.Registry) {
	reg.Register(TypeName, capabilities, New)
}

// New constructs a jellyfin source instance. The data block may restrict
// ingestion to specific users or devices.
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
	h := &Handler{
		core:        core,
		usersAllow:  dataStringList(cfg.Data, "users"),
		devicesDeny: dataStringList(cfg.Data, "devicesBlock"),
	}
	return source.Built{Source: core, Ingress: h}, nil
}

// notification is the webhook plugin's payload, reduced to music playback
// fields.
type notification struct {
	NotificationType string `json:"NotificationType"`
	ItemType         string `json:"ItemType"`

	Name        string   `json:"Name"`
	Artists     []string `json:"Artists"`
	Artist      string   `json:"Artist"`
	Album       string   `json:"Album"`
	AlbumArtist string   `json:"AlbumArtist"`
	ItemID      string   `json:"ItemId"`

	RunTimeTicks          int64 `json:"RunTimeTicks"`
	PlaybackPositionTicks int64 `json:"PlaybackPositionTicks"`
	IsPaused              bool  `json:"IsPaused"`

	UserID     string `json:"UserId"`
	Username   string `json:"NotificationUsername"`
	DeviceID   string `json:"DeviceId"`
	DeviceName string `json:"DeviceName"`
}

// Handler lowers webhook requests for one configured instance.
type Handler struct {
	core        *source.Source
	usersAllow  []string
	devicesDeny []string
}

// ticksPerSecond converts Jellyfin's 100ns ticks.
const ticksPerSecond = 10_000_000

// HandleRequest decodes one webhook notification. Non-JSON requests are
// rejected: the upstream plugin must be set to application/json.
func (h *Handler) HandleRequest(ctx context.Context, r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("jellyfin webhook requires Content-Type application/json, got %q", r.Header.Get("Content-Type"))
	}

	var n notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		return fmt.Errorf("decode jellyfin payload: %w", err)
	}

	if !strings.EqualFold(n.ItemType, "Audio") {
		// Movies and episodes are not plays.
		return nil
	}
	if !h.allowed(n) {
		return nil
	}

	play, ok := n.play(h.core.Name())
	if !ok {
		return fmt.Errorf("jellyfin payload without track or artist")
	}

	update := source.Update{
		Key:      source.PlayerKey{DeviceID: n.DeviceID, User: n.UserID},
		Play:     play,
		Position: time.Duration(n.PlaybackPositionTicks/ticksPerSecond) * time.Second,
	}

	switch n.NotificationType {
	case "PlaybackStart":
		update.State = source.StatePlaying
	case "PlaybackProgress":
		update.State = source.StatePlaying
		if n.IsPaused {
			update.State = source.StatePaused
		}
	case "PlaybackStop":
		update.State = source.StateStopped
	default:
		// ItemAdded and friends are not playback.
		return nil
	}

	h.core.IngestUpdate(ctx, update)
	return nil
}

func (h *Handler) allowed(n notification) bool {
	if len(h.usersAllow) > 0 && !containsFold(h.usersAllow, n.Username) && !containsFold(h.usersAllow, n.UserID) {
		return false
	}
	if containsFold(h.devicesDeny, n.DeviceName) || containsFold(h.devicesDeny, n.DeviceID) {
		return false
	}
	return true
}

func (n notification) play(sourceName string) (models.Play, bool) {
	artists := n.Artists
	if len(artists) == 0 && n.Artist != "" {
		artists = []string{n.Artist}
	}
	if n.Name == "" || len(artists) == 0 {
		return models.Play{}, false
	}

	play := models.Play{
		Data: models.PlayData{
			Track:    n.Name,
			Artists:  artists,
			Album:    n.Album,
			Duration: int(n.RunTimeTicks / ticksPerSecond),
		},
		Meta: models.PlayMeta{
			Source:   sourceName,
			TrackID:  n.ItemID,
			DeviceID: n.DeviceID,
			User:     n.Username,
		},
	}
	if n.AlbumArtist != "" && !containsFold(artists, n.AlbumArtist) {
		play.Data.AlbumArtists = []string{n.AlbumArtist}
	}
	return play, true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func dataStringList(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
