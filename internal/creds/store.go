// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package creds persists per-component OAuth tokens and session keys as
// JSON files under the config directory. Writes are atomic
// (write-temp-then-rename) and serialized per store.
package creds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// ErrNoCreds is returned by Load when no credential file exists yet.
var ErrNoCreds = errors.New("no stored credentials")

// Store reads and writes one component's credential file. Each component
// owns exactly one Store; concurrent writes through the same Store are
// serialized by its mutex.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the named component under dir. The file name
// follows the currentCreds-<name>.json convention.
func NewStore(dir, name string) *Store {
	return &Store{path: filepath.Join(dir, fmt.Sprintf("currentCreds-%s.json", name))}
}

// Path returns the credential file path.
func (s *Store) Path() string { return s.path }

// Load reads the credential file into v. Returns ErrNoCreds when the file
// does not exist.
func (s *Store) Load(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoCreds
		}
		return fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode credentials %s: %w", s.path, err)
	}
	return nil
}

// Save writes v atomically: marshal, write to a temp file in the same
// directory, then rename over the target.
func (s *Store) Save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp credentials: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename credentials: %w", err)
	}
	return nil
}

// Delete removes the credential file, ignoring a missing file.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
