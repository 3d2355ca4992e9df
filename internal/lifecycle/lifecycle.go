// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package lifecycle is the shared init/auth state machine for sources and
// clients: build-data, check-connection, test-auth, then run. Status
// transitions are published on the event bus for the dashboard.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/bus"
)

// State is the coarse component state.
type State int

// States, in init order.
const (
	StateNotInitialized State = iota
	StateInitializing
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	default:
		return "not-initialized"
	}
}

// FatalError marks a validation failure that retrying cannot fix. The
// component stays not-initialized and is surfaced on the dashboard.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats a FatalError.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Hooks are the three ordered init stages. A nil hook is skipped.
// Returning a FatalError fails hard; any other error is treated as transient
// and the caller schedules a retry.
type Hooks struct {
	// BuildInitData parses config and assembles derived data.
	BuildInitData func(ctx context.Context) error

	// CheckConnection proves network reachability. Optional for pure-ingress
	// components.
	CheckConnection func(ctx context.Context) error

	// Authenticate runs only when the component requires auth. It may call
	// SetAuthInteraction to signal that the user must visit a URL.
	Authenticate func(ctx context.Context) error
}

// Lifecycle tracks init/auth state for one source or client.
type Lifecycle struct {
	name         string
	kind         bus.ComponentKind
	requiresAuth bool
	hooks        Hooks
	bus          *bus.Bus
	logger       zerolog.Logger

	mu              sync.Mutex
	state           State
	authed          bool
	authInteraction string
	status          string
	lastErr         error
}

// New creates a lifecycle for the named component.
func New(name string, kind bus.ComponentKind, requiresAuth bool, hooks Hooks, b *bus.Bus, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		name:         name,
		kind:         kind,
		requiresAuth: requiresAuth,
		hooks:        hooks,
		bus:          b,
		logger:       logger,
		status:       StateNotInitialized.String(),
	}
}

// Initialize runs the staged init. It is idempotent: once initialized (and
// authed, when auth is required) it returns nil immediately. Fatal errors
// leave the component not-initialized permanently; transient errors leave it
// eligible for retry.
func (l *Lifecycle) Initialize(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateInitialized && (!l.requiresAuth || l.authed) {
		l.mu.Unlock()
		return nil
	}
	if l.state == StateInitializing {
		l.mu.Unlock()
		return errors.New("initialization already in progress")
	}
	l.state = StateInitializing
	l.mu.Unlock()
	l.publishStatus(StateInitializing.String(), nil)

	if err := l.runStage(ctx, "buildInitData", l.hooks.BuildInitData); err != nil {
		return err
	}
	if err := l.runStage(ctx, "checkConnection", l.hooks.CheckConnection); err != nil {
		return err
	}
	if l.requiresAuth {
		if err := l.runStage(ctx, "authenticate", l.hooks.Authenticate); err != nil {
			return err
		}
		l.mu.Lock()
		l.authed = true
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.state = StateInitialized
	l.lastErr = nil
	l.mu.Unlock()
	l.publishStatus(StateInitialized.String(), nil)
	return nil
}

func (l *Lifecycle) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	err := fn(ctx)
	if err == nil {
		return nil
	}

	l.mu.Lock()
	l.state = StateNotInitialized
	l.lastErr = err
	l.mu.Unlock()

	if IsFatal(err) {
		l.logger.Error().Err(err).Str("stage", stage).Msg("initialization failed permanently")
		l.publishStatus("error", err)
		return fmt.Errorf("%s: %w", stage, err)
	}
	l.logger.Warn().Err(err).Str("stage", stage).Msg("initialization failed, will retry")
	l.publishStatus("retrying", err)
	return fmt.Errorf("%s: %w", stage, err)
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Ready reports whether the component is initialized and, when required,
// authenticated.
func (l *Lifecycle) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateInitialized && (!l.requiresAuth || l.authed)
}

// Authed reports the auth flag.
func (l *Lifecycle) Authed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authed
}

// Deauth clears the auth flag after an upstream revocation and publishes the
// status change.
func (l *Lifecycle) Deauth(err error) {
	l.mu.Lock()
	l.authed = false
	l.lastErr = err
	l.mu.Unlock()
	l.publishStatus("auth-revoked", err)
}

// SetAuthInteraction records a URL the user must visit to complete auth.
func (l *Lifecycle) SetAuthInteraction(url string) {
	l.mu.Lock()
	l.authInteraction = url
	l.mu.Unlock()
	l.publishStatus("awaiting-auth-interaction", nil)
}

// AuthInteraction returns the pending interaction URL, if any.
func (l *Lifecycle) AuthInteraction() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authInteraction
}

// LastError returns the most recent stage or runtime error.
func (l *Lifecycle) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Status returns the last published status string.
func (l *Lifecycle) Status() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// SetStatus publishes a runtime status ("polling", "idle", "running", ...).
func (l *Lifecycle) SetStatus(status string) {
	l.publishStatus(status, nil)
}

func (l *Lifecycle) publishStatus(status string, cause error) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()

	if l.bus == nil {
		return
	}
	ev := bus.Event{
		Type:   bus.EventStatusChange,
		Name:   l.name,
		From:   l.kind,
		Status: status,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := l.bus.Publish(ev); err != nil {
		l.logger.Warn().Err(err).Msg("failed to publish status change")
	}
}
