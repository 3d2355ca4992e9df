// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package bus is the in-process event bus connecting sources to clients and
// to observers. It wraps a Watermill gochannel Pub/Sub: delivery order from
// a single publisher is preserved per topic, and subscribers receive decoded
// copies, never references into another component's buffers.
package bus

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/scrobblebus/scrobblebus/internal/models"
)

// EventType identifies the kind of event on the bus.
type EventType string

// Event kinds.
const (
	EventNewPlay          EventType = "newPlay"
	EventScrobble         EventType = "scrobble"
	EventScrobbleQueued   EventType = "scrobbleQueued"
	EventScrobbleDequeued EventType = "scrobbleDequeued"
	EventDeadLetter       EventType = "deadLetter"
	EventStatusChange     EventType = "statusChange"
)

// AllEventTypes lists every event kind, for observers that want the full
// stream.
var AllEventTypes = []EventType{
	EventNewPlay,
	EventScrobble,
	EventScrobbleQueued,
	EventScrobbleDequeued,
	EventDeadLetter,
	EventStatusChange,
}

// ComponentKind distinguishes the publishing side.
type ComponentKind string

// Publisher kinds.
const (
	FromSource ComponentKind = "source"
	FromClient ComponentKind = "client"
)

// Event is the envelope published on the bus.
type Event struct {
	Type EventType     `json:"type"`
	Name string        `json:"name"`
	From ComponentKind `json:"from"`

	// Play is set on newPlay, scrobble, scrobbleQueued, scrobbleDequeued,
	// and deadLetter events.
	Play *models.Play `json:"play,omitempty"`

	// ScrobbleID is the queued-scrobble id, when applicable.
	ScrobbleID string `json:"scrobbleId,omitempty"`

	// Status is set on statusChange events.
	Status string `json:"status,omitempty"`

	// Error carries a failure description on deadLetter and statusChange
	// events.
	Error string `json:"error,omitempty"`
}

// Bus is the process-wide pub/sub hub.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates the bus. Subscribers registered after an event is published do
// not receive it; wire subscriptions before starting publishers.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			&loggerAdapter{logger: logger},
		),
		logger: logger,
	}
}

// Publish emits an event. Publishing on a closed bus returns an error.
func (b *Bus) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(string(ev.Type), msg)
}

// Subscribe returns a channel of events of the given types. The channel is
// closed when ctx is canceled or the bus shuts down. Each subscriber gets
// its own decoded copy of every event.
func (b *Bus) Subscribe(ctx context.Context, types ...EventType) (<-chan Event, error) {
	if len(types) == 0 {
		types = AllEventTypes
	}

	out := make(chan Event, 256)
	var wg sync.WaitGroup
	for _, t := range types {
		msgs, err := b.pubsub.Subscribe(ctx, string(t))
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				var ev Event
				if err := json.Unmarshal(msg.Payload, &ev); err != nil {
					b.logger.Warn().Err(err).Msg("dropping undecodable bus event")
					msg.Ack()
					continue
				}
				msg.Ack()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close shuts the bus down. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// loggerAdapter bridges Watermill's logging onto zerolog.
type loggerAdapter struct {
	logger zerolog.Logger
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return &loggerAdapter{logger: logger}
}

func (l *loggerAdapter) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
