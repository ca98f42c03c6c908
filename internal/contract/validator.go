// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package contract structurally validates every destination API response
// before the rest of the pipeline consumes it.
//
// In strict mode (non-production) a mismatch fails fast so destination API
// drift is caught during development. In soft mode (production) the
// mismatch is appended to a day-partitioned failure log and the raw
// payload is passed through unchanged, degrading gracefully instead of
// halting a long-running job over a cosmetic API change.
package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
	"github.com/tomtom215/shelfsync/internal/validation"
)

// Stats is a point-in-time snapshot of validator counters.
type Stats struct {
	Total  int64 `json:"total"`
	OK     int64 `json:"ok"`
	Failed int64 `json:"failed"`

	LastFailureEndpoint string    `json:"last_failure_endpoint,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	LastFailureError    string    `json:"last_failure_error,omitempty"`
}

// Validator checks destination responses against declared shapes.
// Safe for concurrent use by multiple jobs.
type Validator struct {
	strict bool
	log    *FailureLog

	mu    sync.Mutex
	stats Stats
}

// NewValidator creates a validator. The failure log may be nil in strict
// mode, where mismatches never reach it.
func NewValidator(strict bool, log *FailureLog) *Validator {
	return &Validator{strict: strict, log: log}
}

// Strict reports whether the validator fails fast on mismatch.
func (v *Validator) Strict() bool { return v.strict }

// Validate checks raw against the declared shape for endpointID.
//
// On success the raw payload is returned unchanged. On mismatch, strict
// mode returns models.ErrContractMismatch; soft mode logs one failure
// record and still returns the raw payload so callers proceed on the
// unvalidated body.
func (v *Validator) Validate(raw []byte, endpointID string) ([]byte, error) {
	errs := v.check(raw, endpointID)
	if len(errs) == 0 {
		v.record(endpointID, nil)
		metrics.ContractValidations.WithLabelValues(endpointID, "ok").Inc()
		return raw, nil
	}

	v.record(endpointID, errs)
	metrics.ContractValidations.WithLabelValues(endpointID, "mismatch").Inc()

	if v.strict {
		return nil, fmt.Errorf("%s: %v: %w", endpointID, errs, models.ErrContractMismatch)
	}

	if v.log != nil {
		if err := v.log.Append(models.ContractFailureRecord{
			Timestamp: time.Now().UTC(),
			Endpoint:  endpointID,
			Errors:    errs,
			Payload:   string(raw),
		}); err != nil {
			logging.Warn().Err(err).Str("endpoint", endpointID).Msg("Failed to append contract failure record")
		}
	}
	logging.Warn().
		Str("endpoint", endpointID).
		Strs("errors", errs).
		Msg("Destination response failed contract validation, passing raw payload through")

	return raw, nil
}

// check returns the list of structural violations, empty when valid.
func (v *Validator) check(raw []byte, endpointID string) []string {
	shape := shapeFor(endpointID)
	if err := json.Unmarshal(raw, shape); err != nil {
		return []string{fmt.Sprintf("payload is not valid JSON for shape: %v", err)}
	}
	if serr := validation.ValidateStruct(shape); serr != nil {
		return serr.Messages()
	}
	return nil
}

func (v *Validator) record(endpointID string, errs []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats.Total++
	if len(errs) == 0 {
		v.stats.OK++
		return
	}
	v.stats.Failed++
	v.stats.LastFailureEndpoint = endpointID
	v.stats.LastFailureAt = time.Now().UTC()
	v.stats.LastFailureError = errs[0]
}

// GetStats returns a snapshot of the validator counters.
func (v *Validator) GetStats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}
