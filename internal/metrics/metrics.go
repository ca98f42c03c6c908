// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package metrics exposes Prometheus instrumentation for the sync pipeline:
// fetcher behavior (delays, retries, blocks), coercion drops, contract
// validation outcomes and job lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetcher metrics
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_fetch_requests_total",
			Help: "Total source fetch attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "transient", "blocked"
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_fetch_retries_total",
			Help: "Total in-place retries of transient fetch failures",
		},
	)

	FetchDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfsync_fetch_delay_seconds",
			Help:    "Artificial anti-bot delay applied before each fetch",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 12, 16},
		},
	)

	SlowModeActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_slow_mode_activations_total",
			Help: "Times a run crossed the slow-mode request threshold",
		},
	)

	// Mapper metrics
	CoercionDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_coercion_dropped_total",
			Help: "Fields dropped by type coercion, by destination field type",
		},
		[]string{"field_type", "reason"},
	)

	// Contract validator metrics
	ContractValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_contract_validations_total",
			Help: "Destination response validations by endpoint and result",
		},
		[]string{"endpoint", "result"}, // "ok", "mismatch"
	)

	// Destination client metrics
	BitableRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_bitable_requests_total",
			Help: "Bitable API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_api_requests_total",
			Help: "API requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfsync_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Job metrics
	JobsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfsync_jobs",
			Help: "Jobs currently in each lifecycle state",
		},
		[]string{"state"},
	)

	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_items_processed_total",
			Help: "Items processed across all jobs by outcome",
		},
		[]string{"outcome"}, // "written", "skipped", "failed"
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfsync_job_duration_seconds",
			Help:    "Wall time of completed sync jobs",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		},
	)
)
