// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package feishu

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
)

// CircuitBreakerClient wraps Client with circuit breaker protection so a
// degraded Bitable API cannot stall a running job indefinitely: once the
// circuit opens, calls fail fast and the orchestrator records them as
// per-item failures.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates a Bitable client behind a circuit breaker.
// The circuit opens after a 60% failure rate over at least 10 requests and
// retries after 2 minutes.
func NewCircuitBreakerClient(cfg *config.BitableConfig, validator *contract.Validator) *CircuitBreakerClient {
	client := NewClient(cfg, validator)
	cbName := "bitable-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps a Bitable API call with circuit breaker protection.
// Rejection by an open circuit is surfaced as a transient error so the
// orchestrator treats it like any other destination outage.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, models.Transient("bitable circuit open", err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ListFields fetches the table schema with circuit breaker protection.
func (cbc *CircuitBreakerClient) ListFields(ctx context.Context) ([]models.DestinationField, error) {
	return castResult[[]models.DestinationField](cbc.execute(func() (interface{}, error) {
		return cbc.client.ListFields(ctx)
	}))
}

// CreateField adds a table field with circuit breaker protection.
func (cbc *CircuitBreakerClient) CreateField(ctx context.Context, df models.DestinationField) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.CreateField(ctx, df)
	})
	return err
}

// CreateRecord appends one row with circuit breaker protection.
func (cbc *CircuitBreakerClient) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	return castResult[string](cbc.execute(func() (interface{}, error) {
		return cbc.client.CreateRecord(ctx, fields)
	}))
}

// ListExternalIDs scans existing rows with circuit breaker protection.
func (cbc *CircuitBreakerClient) ListExternalIDs(ctx context.Context) (map[string]struct{}, error) {
	return castResult[map[string]struct{}](cbc.execute(func() (interface{}, error) {
		return cbc.client.ListExternalIDs(ctx)
	}))
}
