// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/source"
)

// recordingIngress remembers whether it handled a request.
type recordingIngress struct {
	handled int
	fail    bool
}

func (i *recordingIngress) HandleRequest(_ context.Context, _ *http.Request) error {
	i.handled++
	if i.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func entry(t *testing.T, name, typ, slug string) (SourceEntry, *recordingIngress) {
	t.Helper()
	s := source.New(source.Config{
		Name:   name,
		Type:   typ,
		Slug:   slug,
		Logger: zerolog.Nop(),
	})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ing := &recordingIngress{}
	return SourceEntry{Source: s, Ingress: ing}, ing
}

func TestWebhookSlugMatching(t *testing.T) {
	unslugged, unsluggedIngress := entry(t, "ws-default", "webscrobbler", "")
	slugged, sluggedIngress := entry(t, "ws-laptop", "webscrobbler", "laptop")

	app := &App{Sources: []SourceEntry{unslugged, slugged}, Logger: zerolog.Nop()}
	srv := httptest.NewServer(NewRouter(app))
	defer srv.Close()

	post := func(path string) int {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/api/webscrobbler"); code != http.StatusOK {
		t.Errorf("slug-less path status = %d", code)
	}
	if unsluggedIngress.handled != 1 || sluggedIngress.handled != 0 {
		t.Errorf("slug-less path dispatched to wrong source: %d/%d", unsluggedIngress.handled, sluggedIngress.handled)
	}

	if code := post("/api/webscrobbler/laptop"); code != http.StatusOK {
		t.Errorf("named slug status = %d", code)
	}
	if sluggedIngress.handled != 1 {
		t.Errorf("named slug not dispatched, handled = %d", sluggedIngress.handled)
	}

	// A slug nobody configured matches neither instance.
	if code := post("/api/webscrobbler/desktop"); code != http.StatusNotFound {
		t.Errorf("unknown slug status = %d, want 404", code)
	}
	if unsluggedIngress.handled != 1 {
		t.Error("unknown slug fell back to the slug-less source")
	}
}

func TestWebhookRejectedPayload(t *testing.T) {
	e, ing := entry(t, "jf", "jellyfin", "")
	ing.fail = true

	app := &App{Sources: []SourceEntry{e}, Logger: zerolog.Nop()}
	srv := httptest.NewServer(NewRouter(app))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jellyfin", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("rejected payload status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndStatus(t *testing.T) {
	e, _ := entry(t, "src", "plex", "")
	app := &App{Sources: []SourceEntry{e}, Logger: zerolog.Nop()}
	srv := httptest.NewServer(NewRouter(app))
	defer srv.Close()

	for _, path := range []string{"/health", "/api/status", "/api/recent", "/api/deadletter", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestRecentUnknownSource(t *testing.T) {
	app := &App{Logger: zerolog.Nop()}
	srv := httptest.NewServer(NewRouter(app))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/recent?source=nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
