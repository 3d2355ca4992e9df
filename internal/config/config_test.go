// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
server:
  port: 8080
logging:
  level: debug
sourceDefaults:
  interval: 45s
sources:
  - name: ws-main
    type: webscrobbler
  - name: jf-den
    type: jellyfin
    slug: den
    options:
      interval: 90s
      playTransform:
        preCompare:
          title:
            - "(Album Version)"
clients:
  - name: lfm
    type: lastfm
    data:
      apiKey: k
      apiSecret: s
    options:
      sourceExclusions: [jf-den]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080 from file", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.ConfigDir != dir {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, dir)
	}
	if len(cfg.Sources) != 2 || len(cfg.Clients) != 1 {
		t.Fatalf("parsed %d sources, %d clients", len(cfg.Sources), len(cfg.Clients))
	}

	// Defaults only fill what the file left unset.
	if got := cfg.ClientDefaults.ScrobbleDelay; got != time.Second {
		t.Errorf("default ScrobbleDelay = %v", got)
	}
}

func TestEffectiveOptionsMergeDefaults(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	// ws-main has no options: inherits the 45s sourceDefaults interval.
	ws := cfg.EffectiveSourceOptions(cfg.Sources[0])
	if ws.Interval != 45*time.Second {
		t.Errorf("ws interval = %v, want 45s from sourceDefaults", ws.Interval)
	}

	// jf-den overrides the interval and carries its own transform.
	jf := cfg.EffectiveSourceOptions(cfg.Sources[1])
	if jf.Interval != 90*time.Second {
		t.Errorf("jf interval = %v, want 90s", jf.Interval)
	}
	if jf.PlayTransform == nil {
		t.Error("jf playTransform lost in merge")
	}

	lfm := cfg.EffectiveClientOptions(cfg.Clients[0])
	if lfm.DeadLetterRetries != 3 {
		t.Errorf("DeadLetterRetries = %d, want default 3", lfm.DeadLetterRetries)
	}
	if len(lfm.SourceExclusions) != 1 || lfm.SourceExclusions[0] != "jf-den" {
		t.Errorf("SourceExclusions = %v", lfm.SourceExclusions)
	}
}

func TestLegacyEnvOverrides(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, PORT env should win", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, LOG_LEVEL env should win", cfg.Logging.Level)
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 9078},
		Sources: []SourceConfig{
			{Name: "a", Type: "plex"},
			{Name: "a", Type: "jellyfin"},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Error("duplicate source names accepted")
	}
}

func TestValidateRejectsSharedSlug(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 9078},
		Sources: []SourceConfig{
			{Name: "a", Type: "plex", Slug: "x"},
			{Name: "b", Type: "plex", Slug: "x"},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Error("shared type+slug accepted")
	}
}

func TestValidateRejectsUnknownExclusion(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 9078},
		Sources: []SourceConfig{{Name: "a", Type: "plex"}},
		Clients: []ClientConfig{{
			Name: "c", Type: "lastfm",
			Options: ClientOptions{SourceExclusions: []string{"ghost"}},
		}},
	}
	if err := Validate(cfg); err == nil {
		t.Error("unknown source exclusion accepted")
	}
}

func TestValidateRejectsMissingName(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 9078},
		Sources: []SourceConfig{{Type: "plex"}},
	}
	if err := Validate(cfg); err == nil {
		t.Error("source without name accepted")
	}
}
