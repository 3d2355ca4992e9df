// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package client

import "errors"

// UpstreamError is a failure reported by a scrobble service. ShowStopper
// marks errors the service will always return for this payload or session;
// the worker requeues the play and stops so the supervisor can back off.
// Everything else is per-call and routes the play to the dead-letter queue.
type UpstreamError struct {
	Message string
	Cause   error

	ShowStopper bool

	// AuthRevoked marks a rejected credential; the client deauths and stops
	// until re-authentication.
	AuthRevoked bool

	// RateLimited marks a throttling response, surfaced in logs.
	RateLimited bool
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error { return e.Cause }

// NewUpstreamError creates a non-show-stopping upstream error.
func NewUpstreamError(message string, cause error) *UpstreamError {
	return &UpstreamError{Message: message, Cause: cause}
}

// NewShowStopper creates a show-stopping upstream error.
func NewShowStopper(message string, cause error) *UpstreamError {
	return &UpstreamError{Message: message, Cause: cause, ShowStopper: true}
}

// NewAuthRevoked creates an auth-revocation error.
func NewAuthRevoked(message string, cause error) *UpstreamError {
	return &UpstreamError{Message: message, Cause: cause, ShowStopper: true, AuthRevoked: true}
}

// AsUpstreamError extracts an UpstreamError from err's chain.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// ErrNotReady is returned by Run before initialization completed.
var ErrNotReady = errors.New("client is not initialized")

// ErrAlreadyRunning rejects worker re-entrancy.
var ErrAlreadyRunning = errors.New("client worker is already running")
