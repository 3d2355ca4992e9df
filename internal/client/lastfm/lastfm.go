// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package lastfm is the Last.fm client adapter. It uses the desktop auth
// flow: request a token, send the user to the authorization URL, then
// exchange the token for a session key which is persisted in the credential
// store.
package lastfm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shkh/lastfm-go/lastfm"

	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/creds"
	"github.com/scrobblebus/scrobblebus/internal/lifecycle"
	"github.com/scrobblebus/scrobblebus/internal/models"
)

// TypeName is the registry key for this client type.
const TypeName = "lastfm"

var capabilities = client.Capabilities{RequiresAuth: true}

// Register adds the lastfm client type to the registry.
func Register(reg *client.Registry) {
	reg.Register(TypeName, capabilities, New)
}

// sessionCreds is the persisted credential shape.
type sessionCreds struct {
	SessionKey string `json:"sessionKey"`
	Username   string `json:"username"`
}

type adapter struct {
	api    *lastfm.Api
	store  *creds.Store
	logger zerolog.Logger

	apiKey    string
	apiSecret string

	life     *lifecycle.Lifecycle
	username string

	// pendingToken is an issued-but-unauthorized token awaiting the user.
	pendingToken string
}

// New constructs a lastfm client instance. The data block requires apiKey
// and apiSecret.
func New(cfg config.ClientConfig, opts client.Options, deps client.Deps) (*client.Client, error) {
	a := &adapter{
		store:     creds.NewStore(deps.CredsDir, cfg.Name),
		logger:    deps.Logger,
		apiKey:    config.DataString(cfg.Data, "apiKey"),
		apiSecret: config.DataString(cfg.Data, "apiSecret"),
	}

	cl := client.New(client.Config{
		Name:         cfg.Name,
		Type:         TypeName,
		Capabilities: capabilities,
		Options:      opts,
		Hooks: lifecycle.Hooks{
			BuildInitData: a.buildInitData,
			Authenticate:  a.authenticate,
		},
		Adapter: a,
		Bus:     deps.Bus,
		Logger:  deps.Logger,
		Clock:   deps.Clock,
	})
	a.life = cl.Lifecycle()
	return cl, nil
}

func (a *adapter) buildInitData(context.Context) error {
	if a.apiKey == "" || a.apiSecret == "" {
		return lifecycle.Fatalf("lastfm requires apiKey and apiSecret")
	}
	a.api = lastfm.New(a.apiKey, a.apiSecret)
	return nil
}

// authenticate restores a stored session or walks the token flow. Until the
// user has visited the authorization URL it fails transiently, so the
// supervisor keeps retrying and picks the session up once authorized.
func (a *adapter) authenticate(context.Context) error {
	var stored sessionCreds
	err := a.store.Load(&stored)
	if err == nil && stored.SessionKey != "" {
		a.api.SetSession(stored.SessionKey)
		a.username = stored.Username
		a.logger.Debug().Str("user", stored.Username).Msg("restored lastfm session")
		return nil
	}
	if err != nil && err != creds.ErrNoCreds {
		return err
	}

	if a.pendingToken != "" {
		if err := a.api.LoginWithToken(a.pendingToken); err == nil {
			return a.storeSession()
		}
		// Token not authorized yet (or expired); fall through for a fresh
		// one.
	}

	token, err := a.api.GetToken()
	if err != nil {
		return fmt.Errorf("lastfm get token: %w", err)
	}
	a.pendingToken = token
	url := fmt.Sprintf("https://www.last.fm/api/auth/?api_key=%s&token=%s", a.apiKey, token)
	if a.life != nil {
		a.life.SetAuthInteraction(url)
	}
	return fmt.Errorf("awaiting lastfm authorization, visit %s", url)
}

func (a *adapter) storeSession() error {
	key := a.api.GetSessionKey()
	username := "unknown"
	if info, err := a.api.User.GetInfo(lastfm.P{}); err == nil {
		username = info.Name
	}
	a.username = username
	a.pendingToken = ""
	if err := a.store.Save(sessionCreds{SessionKey: key, Username: username}); err != nil {
		return err
	}
	a.logger.Info().Str("user", username).Msg("lastfm session established")
	return nil
}

// Scrobble submits one play via track.scrobble.
func (a *adapter) Scrobble(_ context.Context, play models.Play) (models.Play, error) {
	params := lastfm.P{
		"artist":    play.PrimaryArtist(),
		"track":     play.Data.Track,
		"timestamp": strconv.FormatInt(play.Data.PlayDate.Unix(), 10),
	}
	if play.Data.Album != "" {
		params["album"] = play.Data.Album
	}
	if len(play.Data.AlbumArtists) > 0 {
		params["albumArtist"] = play.Data.AlbumArtists[0]
	}
	if play.Data.Duration > 0 {
		params["duration"] = strconv.Itoa(play.Data.Duration)
	}
	if id := play.Meta.TrackID; strings.HasPrefix(id, "mbid:") {
		params["mbid"] = strings.TrimPrefix(id, "mbid:")
	}

	if _, err := a.api.Track.Scrobble(params); err != nil {
		return models.Play{}, classify(err)
	}

	scrobbled := play.Clone()
	scrobbled.Meta.Source = TypeName
	return scrobbled, nil
}

// RecentScrobbles pulls the user's recent tracks for the dedup snapshot.
func (a *adapter) RecentScrobbles(_ context.Context, limit int) ([]models.Play, error) {
	result, err := a.api.User.GetRecentTracks(lastfm.P{
		"user":  a.username,
		"limit": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, classify(err)
	}

	plays := make([]models.Play, 0, len(result.Tracks))
	for _, t := range result.Tracks {
		if t.NowPlaying == "true" {
			// An in-progress track has no listen timestamp yet.
			continue
		}
		uts, err := strconv.ParseInt(t.Date.Uts, 10, 64)
		if err != nil {
			continue
		}
		plays = append(plays, models.Play{
			Data: models.PlayData{
				Track:    t.Name,
				Artists:  []string{t.Artist.Name},
				Album:    t.Album.Name,
				PlayDate: time.Unix(uts, 0),
			},
			Meta: models.PlayMeta{Source: TypeName, WebURL: t.Url},
		})
	}
	return plays, nil
}

// Last.fm error codes that decide retry routing.
const (
	codeInvalidParams  = 6
	codeInvalidSession = 9
	codeOffline        = 11
	codeTempUnavail    = 16
	codeRateLimited    = 29
)

// classify maps Last.fm API errors onto the worker's error taxonomy.
func classify(err error) error {
	lfmErr, ok := err.(*lastfm.LastfmError)
	if !ok {
		// Transport-level failure: retryable.
		return client.NewUpstreamError("lastfm request failed", err)
	}
	switch lfmErr.Code {
	case codeInvalidSession:
		return client.NewAuthRevoked("lastfm session invalid", err)
	case codeInvalidParams:
		// The service will refuse this payload forever.
		return client.NewShowStopper("lastfm rejected scrobble shape", err)
	case codeRateLimited:
		return &client.UpstreamError{Message: "lastfm rate limited", Cause: err, RateLimited: true}
	case codeOffline, codeTempUnavail:
		return client.NewUpstreamError("lastfm temporarily unavailable", err)
	default:
		return client.NewUpstreamError("lastfm error", err)
	}
}
