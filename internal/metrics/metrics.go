// Scrobblebus - Multi-Source Scrobble Relay
// Copyright 2026 Scrobblebus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/scrobblebus/scrobblebus

// Package metrics defines the Prometheus collectors for the scrobble
// pipeline. All collectors are registered on the default registry and
// exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaysDiscovered counts plays a source decided were new.
	PlaysDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrobblebus",
		Name:      "plays_discovered_total",
		Help:      "Plays discovered as new, per source.",
	}, []string{"source"})

	// PlaysDeduped counts plays rejected by discovery dedup.
	PlaysDeduped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrobblebus",
		Name:      "plays_deduped_total",
		Help:      "Plays rejected as duplicates during discovery, per source.",
	}, []string{"source"})

	// PlaysDropped counts plays dropped by transforms or malformed events.
	PlaysDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrobblebus",
		Name:      "plays_dropped_total",
		Help:      "Plays dropped before discovery, per source and reason.",
	}, []string{"source", "reason"})

	// Scrobbles counts scrobble attempts by outcome: ok, duplicate,
	// stale, dropped, error, dead_letter.
	Scrobbles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrobblebus",
		Name:      "scrobbles_total",
		Help:      "Scrobble attempts per client and outcome.",
	}, []string{"client", "outcome"})

	// QueueDepth tracks the per-client scrobble queue length.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scrobblebus",
		Name:      "queue_depth",
		Help:      "Queued scrobbles per client.",
	}, []string{"client"})

	// DeadLetterDepth tracks the per-client dead-letter queue length.
	DeadLetterDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scrobblebus",
		Name:      "dead_letter_depth",
		Help:      "Dead-lettered scrobbles per client.",
	}, []string{"client"})

	// WebhookRequests counts inbound webhook deliveries.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrobblebus",
		Name:      "webhook_requests_total",
		Help:      "Webhook requests per endpoint and status.",
	}, []string{"endpoint", "status"})
)
