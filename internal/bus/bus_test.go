// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx, EventNewPlay)
	if err != nil {
		t.Fatal(err)
	}

	play := models.Play{Data: models.PlayData{Track: "Sonora", Artists: []string{"The Bongo Hop"}}}
	if err := b.Publish(Event{Type: EventNewPlay, Name: "spotify", From: FromSource, Play: &play}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventNewPlay || ev.Name != "spotify" || ev.From != FromSource {
			t.Errorf("unexpected envelope: %+v", ev)
		}
		if ev.Play == nil || ev.Play.Data.Track != "Sonora" {
			t.Errorf("unexpected play: %+v", ev.Play)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriberGetsCopy(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx, EventNewPlay)
	if err != nil {
		t.Fatal(err)
	}

	play := models.Play{Data: models.PlayData{Track: "Sonora", Artists: []string{"The Bongo Hop"}}}
	if err := b.Publish(Event{Type: EventNewPlay, Name: "s", From: FromSource, Play: &play}); err != nil {
		t.Fatal(err)
	}

	// Mutating the published play after the fact must not affect what the
	// subscriber received.
	play.Data.Artists[0] = "changed"

	select {
	case ev := <-events:
		if ev.Play.Data.Artists[0] != "The Bongo Hop" {
			t.Errorf("subscriber saw mutated play: %v", ev.Play.Data.Artists)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestOrderPreservedPerPublisher(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx, EventScrobbleQueued)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		ev := Event{Type: EventScrobbleQueued, Name: "c", From: FromClient, ScrobbleID: string(rune('a' + i))}
		if err := b.Publish(ev); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			if want := string(rune('a' + i)); ev.ScrobbleID != want {
				t.Fatalf("event %d out of order: got %q, want %q", i, ev.ScrobbleID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSubscribeDefaultsToAllTypes(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Publish(Event{Type: EventStatusChange, Name: "s", From: FromSource, Status: "polling"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventStatusChange {
			t.Errorf("Type = %q, want statusChange", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
