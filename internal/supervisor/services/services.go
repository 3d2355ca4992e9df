// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package services adapts pipeline components to suture's Serve pattern.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/scrobblebus/scrobblebus/internal/client"
	"github.com/scrobblebus/scrobblebus/internal/lifecycle"
	"github.com/scrobblebus/scrobblebus/internal/source"
)

// initRetryInterval spaces re-initialization attempts after transient
// failures (network down at boot, pending user authorization).
const initRetryInterval = 30 * time.Second

// SourceService supervises one source: staged init with retry, backlog
// seeding, then the poll loop (or parking, for pure-ingress sources).
type SourceService struct {
	src *source.Source
}

// NewSourceService wraps a source.
func NewSourceService(src *source.Source) *SourceService {
	return &SourceService{src: src}
}

// Serve implements suture.Service.
func (s *SourceService) Serve(ctx context.Context) error {
	if err := ensureInitialized(ctx, s.src.Lifecycle(), s.src.Initialize); err != nil {
		return err
	}

	if s.src.Capabilities().CanBacklog {
		if err := s.src.SeedBacklog(ctx); err != nil {
			return fmt.Errorf("seed backlog: %w", err)
		}
	}

	if s.src.Capabilities().CanPoll {
		return s.src.Poll(ctx)
	}

	// Ingress-only sources are driven by webhooks; hold the slot and sweep
	// stale players.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ps := s.src.Players(); ps != nil {
				if completed := ps.Sweep(); len(completed) > 0 {
					s.src.Discover(ctx, completed)
				}
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *SourceService) String() string {
	return "source-" + s.src.Name()
}

// ClientService supervises one client worker.
type ClientService struct {
	cl *client.Client
}

// NewClientService wraps a client.
func NewClientService(cl *client.Client) *ClientService {
	return &ClientService{cl: cl}
}

// Serve implements suture.Service.
func (c *ClientService) Serve(ctx context.Context) error {
	if err := ensureInitialized(ctx, c.cl.Lifecycle(), c.cl.Initialize); err != nil {
		return err
	}
	return c.cl.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (c *ClientService) String() string {
	return "client-" + c.cl.Name()
}

// ensureInitialized retries staged init until it succeeds, the error is
// fatal (config will never validate: stop restarting), or ctx ends.
func ensureInitialized(ctx context.Context, life *lifecycle.Lifecycle, init func(context.Context) error) error {
	for !life.Ready() {
		err := init(ctx)
		if err == nil {
			break
		}
		if lifecycle.IsFatal(err) {
			return errors.Join(err, suture.ErrDoNotRestart)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(initRetryInterval):
		}
	}
	return nil
}

// HTTPService supervises the HTTP server with graceful shutdown.
type HTTPService struct {
	server *http.Server
}

// NewHTTPService wraps a configured *http.Server.
func NewHTTPService(server *http.Server) *HTTPService {
	return &HTTPService{server: server}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (h *HTTPService) String() string {
	return "http-" + h.server.Addr
}

// FuncService adapts a plain run function (the websocket hub) to
// suture.Service.
type FuncService struct {
	name string
	run  func(context.Context) error
}

// NewFuncService wraps a run function.
func NewFuncService(name string, run func(context.Context) error) *FuncService {
	return &FuncService{name: name, run: run}
}

// Serve implements suture.Service.
func (f *FuncService) Serve(ctx context.Context) error {
	return f.run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (f *FuncService) String() string {
	return f.name
}
