// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package lastfm

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shkh/lastfm-go/lastfm"

	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/config"
	"github.com/scrobblebus/scrobblebus/internal/lifecycle"
)

func TestClassifyErrorCodes(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		showStopper bool
		authRevoked bool
	}{
		{"invalid session", codeInvalidSession, true, true},
		{"invalid params", codeInvalidParams, true, false},
		{"rate limited", codeRateLimited, false, false},
		{"offline", codeOffline, false, false},
		{"temporarily unavailable", codeTempUnavail, false, false},
		{"anything else", 8, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&lastfm.LastfmError{Code: tt.code, Message: tt.name})
			ue, ok := client.AsUpstreamError(err)
			if !ok {
				t.Fatalf("classify = %v, want UpstreamError", err)
			}
			if ue.ShowStopper != tt.showStopper {
				t.Errorf("ShowStopper = %v, want %v", ue.ShowStopper, tt.showStopper)
			}
			if ue.AuthRevoked != tt.authRevoked {
				t.Errorf("AuthRevoked = %v, want %v", ue.AuthRevoked, tt.authRevoked)
			}
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	err := classify(errors.New("dial tcp: connection refused"))
	ue, ok := client.AsUpstreamError(err)
	if !ok || ue.ShowStopper {
		t.Errorf("transport error should be retryable, got %v", err)
	}
}

func TestBuildInitDataRequiresKeys(t *testing.T) {
	cl, err := New(
		config.ClientConfig{Name: "lfm", Type: TypeName},
		client.Options{},
		client.Deps{Logger: zerolog.Nop(), CredsDir: t.TempDir()},
	)
	if err != nil {
		t.Fatal(err)
	}

	initErr := cl.Initialize(context.Background())
	if !lifecycle.IsFatal(initErr) {
		t.Errorf("init without apiKey = %v, want fatal", initErr)
	}
}
