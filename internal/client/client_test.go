// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeAdapter scripts scrobble outcomes per call.
type fakeAdapter struct {
	scrobbles []models.Play
	errs      []error
	recent    []models.Play
	recentErr error
	calls     int
}

func (a *fakeAdapter) Scrobble(_ context.Context, play models.Play) (models.Play, error) {
	idx := a.calls
	a.calls++
	if idx < len(a.errs) && a.errs[idx] != nil {
		return models.Play{}, a.errs[idx]
	}
	a.scrobbles = append(a.scrobbles, play)
	return play, nil
}

func (a *fakeAdapter) RecentScrobbles(context.Context, int) ([]models.Play, error) {
	if a.recentErr != nil {
		return nil, a.recentErr
	}
	return a.recent, nil
}

func testPlay(track string, at time.Time) models.Play {
	return models.Play{Data: models.PlayData{Track: track, Artists: []string{"Artist"}, PlayDate: at}}
}

func newTestClient(t *testing.T, adapter *fakeAdapter, opts Options) *Client {
	t.Helper()
	if opts.ScrobbleDelay == 0 {
		opts.ScrobbleDelay = time.Millisecond
	}
	c := New(Config{
		Name:    "test-client",
		Type:    "test",
		Options: opts,
		Adapter: adapter,
		Logger:  zerolog.Nop(),
		Clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestQueueOrderedByPlayDate(t *testing.T) {
	c := newTestClient(t, &fakeAdapter{}, Options{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.Enqueue("s", testPlay("later", base.Add(time.Hour)))
	c.Enqueue("s", testPlay("earliest", base))
	c.Enqueue("s", testPlay("middle", base.Add(30*time.Minute)))

	queued := c.Queued()
	want := []string{"earliest", "middle", "later"}
	for i := range want {
		if queued[i].Play.Data.Track != want[i] {
			t.Errorf("queue[%d] = %q, want %q", i, queued[i].Play.Data.Track, want[i])
		}
	}
}

func TestProcessQueueScrobbles(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newTestClient(t, adapter, Options{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.Enqueue("s", testPlay("one", base))
	c.Enqueue("s", testPlay("two", base.Add(time.Minute)))

	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(adapter.scrobbles) != 2 {
		t.Fatalf("scrobbled %d plays, want 2", len(adapter.scrobbles))
	}
	if c.QueueLen() != 0 {
		t.Errorf("queue not drained, %d left", c.QueueLen())
	}
	if got := len(c.ScrobbledPlays()); got != 2 {
		t.Errorf("scrobbled ring holds %d, want 2", got)
	}
}

// A play the upstream already has is dropped, and the adapter is never
// asked to scrobble it again.
func TestAlreadyScrobbledSkipsAttempt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{recent: []models.Play{testPlay("known", base)}}
	c := newTestClient(t, adapter, Options{CheckExistingScrobbles: true})

	c.Enqueue("s", testPlay("known", base.Add(5*time.Second)))
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(adapter.scrobbles) != 0 {
		t.Errorf("duplicate play was scrobbled: %v", adapter.scrobbles)
	}
}

// Invariant: once a play is in the local scrobbled ring, a second attempt
// never reaches the adapter even without an upstream snapshot.
func TestLocalRingPreventsSecondScrobble(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newTestClient(t, adapter, Options{CheckExistingScrobbles: true})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	play := testPlay("once", base)

	c.Enqueue("s", play)
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Enqueue("s", play)
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(adapter.scrobbles) != 1 {
		t.Errorf("play scrobbled %d times, want 1", len(adapter.scrobbles))
	}
}

func TestCheckExistingScrobblesDisabled(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{recent: []models.Play{testPlay("known", base)}}
	c := newTestClient(t, adapter, Options{CheckExistingScrobbles: false})

	c.Enqueue("s", testPlay("known", base.Add(5*time.Second)))
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(adapter.scrobbles) != 1 {
		t.Errorf("dedup ran with checkExistingScrobbles=false, scrobbles = %d", len(adapter.scrobbles))
	}
}

func TestTimeframeRejectsAncientPlays(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{recent: []models.Play{
		testPlay("recent one", base),
		testPlay("recent two", base.Add(time.Hour)),
	}}
	c := newTestClient(t, adapter, Options{CheckExistingScrobbles: true})

	// Older than the oldest upstream scrobble: dropped without an attempt.
	c.Enqueue("s", testPlay("ancient", base.Add(-24*time.Hour)))
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(adapter.scrobbles) != 0 {
		t.Errorf("ancient play was scrobbled: %v", adapter.scrobbles)
	}
}

// Scenario: first attempt fails with a non-show-stopper, the play lands in
// dead-letter with retries=0; the next heartbeat succeeds and the play
// moves to the scrobbled ring.
func TestDeadLetterRecovery(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{errs: []error{NewUpstreamError("rate limited", nil)}}
	c := newTestClient(t, adapter, Options{DeadLetterRetries: 3})

	c.Enqueue("s", testPlay("flaky", base))
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	dead := c.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead-letter holds %d entries, want 1", len(dead))
	}
	if dead[0].Retries != 0 {
		t.Errorf("Retries = %d, want 0 before first heartbeat", dead[0].Retries)
	}
	if dead[0].LastError == "" {
		t.Error("dead-letter entry has no error message")
	}

	c.processDeadLetters(context.Background())

	if got := c.DeadLetters(); len(got) != 0 {
		t.Errorf("dead-letter not cleared after successful retry: %v", got)
	}
	if len(adapter.scrobbles) != 1 {
		t.Errorf("recovered play not scrobbled, scrobbles = %d", len(adapter.scrobbles))
	}
	if got := len(c.ScrobbledPlays()); got != 1 {
		t.Errorf("scrobbled ring holds %d, want 1", got)
	}
}

// After the retry cap, the entry stays visible with retries == max and is
// no longer retried automatically.
func TestDeadLetterRetryCap(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{errs: []error{
		NewUpstreamError("fail 0", nil),
		NewUpstreamError("fail 1", nil),
		NewUpstreamError("fail 2", nil),
	}}
	c := newTestClient(t, adapter, Options{DeadLetterRetries: 2})

	c.Enqueue("s", testPlay("doomed", base))
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		c.processDeadLetters(context.Background())
	}

	dead := c.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead-letter holds %d entries, want 1", len(dead))
	}
	if dead[0].Retries != 2 {
		t.Errorf("Retries = %d, want 2", dead[0].Retries)
	}
	if adapter.calls != 3 {
		t.Errorf("adapter called %d times, want 3 (initial + 2 retries)", adapter.calls)
	}
}

func TestShowStopperRequeuesAndStops(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{errs: []error{NewShowStopper("totally broken", nil)}}
	c := newTestClient(t, adapter, Options{})

	c.Enqueue("s", testPlay("poison", base))
	err := c.processQueue(context.Background())
	if err == nil {
		t.Fatal("show-stopper did not propagate")
	}
	if ue, ok := AsUpstreamError(err); !ok || !ue.ShowStopper {
		t.Errorf("err = %v, want show-stopper upstream error", err)
	}
	if c.QueueLen() != 1 {
		t.Errorf("play not requeued, queue = %d", c.QueueLen())
	}
	if got := c.DeadLetters(); len(got) != 0 {
		t.Errorf("show-stopper was dead-lettered: %v", got)
	}
}

func TestAuthRevokedDeauths(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{errs: []error{NewAuthRevoked("session expired", nil)}}
	c := newTestClient(t, adapter, Options{})

	c.Enqueue("s", testPlay("p", base))
	if err := c.processQueue(context.Background()); err == nil {
		t.Fatal("auth revocation did not propagate")
	}
	if c.QueueLen() != 1 {
		t.Errorf("play not requeued after auth revocation, queue = %d", c.QueueLen())
	}
	if got := c.Status(); got != "auth-revoked" {
		t.Errorf("status = %q after auth revocation, want auth-revoked", got)
	}
}

func TestSourceExclusion(t *testing.T) {
	c := newTestClient(t, &fakeAdapter{}, Options{SourceExclusions: []string{"noisy"}})
	if c.AcceptsSource("noisy") {
		t.Error("excluded source accepted")
	}
	if !c.AcceptsSource("quiet") {
		t.Error("non-excluded source rejected")
	}
}

func TestRemoveDeadLetter(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{errs: []error{NewUpstreamError("nope", nil)}}
	c := newTestClient(t, adapter, Options{})

	c.Enqueue("s", testPlay("p", base))
	if err := c.processQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	dead := c.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead-letter holds %d entries", len(dead))
	}

	if !c.RemoveDeadLetter(dead[0].ID) {
		t.Error("RemoveDeadLetter returned false for existing id")
	}
	if c.RemoveDeadLetter(dead[0].ID) {
		t.Error("RemoveDeadLetter returned true for removed id")
	}
}

func TestNonUpstreamErrorStopsWorker(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{errs: []error{errors.New("connection reset")}}
	c := newTestClient(t, adapter, Options{})

	c.Enqueue("s", testPlay("p", base))
	if err := c.processQueue(context.Background()); err == nil {
		t.Fatal("network error did not propagate for supervisor backoff")
	}
	if c.QueueLen() != 1 {
		t.Errorf("play lost on network error, queue = %d", c.QueueLen())
	}
}
