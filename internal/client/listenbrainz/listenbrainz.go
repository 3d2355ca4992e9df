// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package listenbrainz is the ListenBrainz client adapter: token-auth HTTP
// against /1/submit-listens and /1/user/<name>/listens. Custom base URLs
// cover self-hosted ListenBrainz-compatible servers (Maloja and friends).
package listenbrainz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/lifecycle"
	"github.com/scrobblebus/scrobblebus/internal/models"
)

// TypeName is the registry key for this client type.
const TypeName = "listenbrainz"

var capabilities = client.Capabilities{RequiresAuth: true}

// DefaultBaseURL is the hosted ListenBrainz API.
const DefaultBaseURL = "https://api.listenbrainz.org"

const requestTimeout = 15 * time.Second

// Register adds the listenbrainz client type to the registry.
func Register(reg *client.Registry) {
	reg.Register(TypeName, capabilities, New)
}

type adapter struct {
	http    *http.Client
	logger  zerolog.Logger
	baseURL string
	token   string
	user    string
}

// New constructs a listenbrainz client instance. The data block requires
// token and username; url overrides the hosted API.
func New(cfg config.ClientConfig, opts client.Options, deps client.Deps) (*client.Client, error) {
	a := &adapter{
		http:    &http.Client{Timeout: requestTimeout},
		logger:  deps.Logger,
		baseURL: config.DataString(cfg.Data, "url"),
		token:   config.DataString(cfg.Data, "token"),
		user:    config.DataString(cfg.Data, "username"),
	}

	cl := client.New(client.Config{
		Name:         cfg.Name,
		Type:         TypeName,
		Capabilities: capabilities,
		Options:      opts,
		Hooks: lifecycle.Hooks{
			BuildInitData:   a.buildInitData,
			CheckConnection: a.checkConnection,
			Authenticate:    a.validateToken,
		},
		Adapter: a,
		Bus:     deps.Bus,
		Logger:  deps.Logger,
		Clock:   deps.Clock,
	})
	return cl, nil
}

func (a *adapter) buildInitData(context.Context) error {
	if a.token == "" {
		return lifecycle.Fatalf("listenbrainz requires a token")
	}
	if a.user == "" {
		return lifecycle.Fatalf("listenbrainz requires a username")
	}
	if a.baseURL == "" {
		a.baseURL = DefaultBaseURL
	}
	a.baseURL = strings.TrimRight(a.baseURL, "/")
	if _, err := url.Parse(a.baseURL); err != nil {
		return lifecycle.Fatal(fmt.Errorf("invalid listenbrainz url: %w", err))
	}
	return nil
}

func (a *adapter) checkConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/1/validate-token", nil)
	if err != nil {
		return err
	}
	a.authorize(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("listenbrainz unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (a *adapter) validateToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/1/validate-token", nil)
	if err != nil {
		return err
	}
	a.authorize(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Valid    bool   `json:"valid"`
		UserName string `json:"user_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode validate-token response: %w", err)
	}
	if !body.Valid {
		return lifecycle.Fatalf("listenbrainz token is not valid")
	}
	if body.UserName != "" {
		a.user = body.UserName
	}
	return nil
}

// Submission shapes per the ListenBrainz JSON docs.

type trackMetadata struct {
	ArtistName     string         `json:"artist_name"`
	TrackName      string         `json:"track_name"`
	ReleaseName    string         `json:"release_name,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

type listen struct {
	ListenedAt    int64         `json:"listened_at,omitempty"`
	TrackMetadata trackMetadata `json:"track_metadata"`
}

type submitRequest struct {
	ListenType string   `json:"listen_type"`
	Payload    []listen `json:"payload"`
}

// Scrobble submits one listen.
func (a *adapter) Scrobble(ctx context.Context, play models.Play) (models.Play, error) {
	meta := trackMetadata{
		ArtistName:  strings.Join(play.Data.Artists, ", "),
		TrackName:   play.Data.Track,
		ReleaseName: play.Data.Album,
	}
	info := map[string]any{
		"media_player":      "scrobblebus",
		"submission_client": "scrobblebus",
	}
	if play.Data.Duration > 0 {
		info["duration_ms"] = play.Data.Duration * 1000
	}
	if play.Meta.WebURL != "" {
		info["origin_url"] = play.Meta.WebURL
	}
	meta.AdditionalInfo = info

	body := submitRequest{
		ListenType: "single",
		Payload:    []listen{{ListenedAt: play.Data.PlayDate.Unix(), TrackMetadata: meta}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return models.Play{}, client.NewShowStopper("encode listen", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/1/submit-listens", bytes.NewReader(payload))
	if err != nil {
		return models.Play{}, err
	}
	a.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return models.Play{}, client.NewUpstreamError("listenbrainz request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if err := a.classifyStatus(resp.StatusCode); err != nil {
		return models.Play{}, err
	}

	scrobbled := play.Clone()
	scrobbled.Meta.Source = TypeName
	return scrobbled, nil
}

// RecentScrobbles pulls the user's listens for the dedup snapshot.
func (a *adapter) RecentScrobbles(ctx context.Context, limit int) ([]models.Play, error) {
	endpoint := fmt.Sprintf("%s/1/user/%s/listens?count=%s",
		a.baseURL, url.PathEscape(a.user), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	a.authorize(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, client.NewUpstreamError("listenbrainz request failed", err)
	}
	defer resp.Body.Close()

	if err := a.classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var body struct {
		Payload struct {
			Listens []struct {
				ListenedAt    int64         `json:"listened_at"`
				TrackMetadata trackMetadata `json:"track_metadata"`
			} `json:"listens"`
		} `json:"payload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, client.NewUpstreamError("decode listens response", err)
	}

	plays := make([]models.Play, 0, len(body.Payload.Listens))
	for _, l := range body.Payload.Listens {
		plays = append(plays, models.Play{
			Data: models.PlayData{
				Track:    l.TrackMetadata.TrackName,
				Artists:  splitArtists(l.TrackMetadata.ArtistName),
				Album:    l.TrackMetadata.ReleaseName,
				PlayDate: time.Unix(l.ListenedAt, 0),
			},
			Meta: models.PlayMeta{Source: TypeName},
		})
	}
	return plays, nil
}

func (a *adapter) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Token "+a.token)
}

// classifyStatus maps HTTP statuses onto the worker's error taxonomy.
func (a *adapter) classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return client.NewAuthRevoked(fmt.Sprintf("listenbrainz rejected token (%d)", status), nil)
	case status == http.StatusTooManyRequests:
		return &client.UpstreamError{Message: "listenbrainz rate limited", RateLimited: true}
	case status >= 400 && status < 500:
		// The service will refuse this payload forever.
		return client.NewShowStopper(fmt.Sprintf("listenbrainz rejected request (%d)", status), nil)
	default:
		return client.NewUpstreamError(fmt.Sprintf("listenbrainz server error (%d)", status), nil)
	}
}

// splitArtists undoes the joined artist_name for comparison purposes.
func splitArtists(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
