// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the sync pipeline.
//
// Per-item errors (ErrParseIncomplete, a TransientError whose retry budget
// is exhausted) are caught at the orchestrator's per-item boundary, counted,
// and never terminate the job. Job-level fatal conditions (ErrBlocked,
// ErrContractMismatch in strict mode, context cancellation) propagate to the
// top of the run and terminate it with the corresponding terminal state.
var (
	// ErrBlocked is returned when the source serves an anti-bot block
	// page. Retrying a block only worsens it, so the fetcher never
	// retries and the orchestrator fails the whole run.
	ErrBlocked = errors.New("source blocked the request")

	// ErrParseIncomplete is returned when the mandatory external ID
	// cannot be resolved from a page. The item is failed; the job
	// continues.
	ErrParseIncomplete = errors.New("parse incomplete: external id missing")

	// ErrContractMismatch is returned in strict mode when a destination
	// API response fails structural validation.
	ErrContractMismatch = errors.New("destination response contract mismatch")
)

// TransientError wraps a network failure (timeout, 5xx) that is retryable
// with backoff up to a bounded attempt count.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the given operation.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err must terminate the whole job rather than the
// current item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBlocked) || errors.Is(err, ErrContractMismatch)
}
