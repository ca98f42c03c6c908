// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package models

import (
	"time"
)

// JobState is the lifecycle state of a sync job.
//
// State machine: Queued -> Running -> {Succeeded, Failed, Cancelled}.
// A job is mutated only by the orchestrator executing it and never after
// reaching a terminal state; completed jobs are retained for history.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobCounters holds per-item progress counters for one sync run.
//
// Failed counts items, not fields: a record written with some fields dropped
// by coercion still counts as written, with the drops accumulated in
// FieldsDropped for observability.
type JobCounters struct {
	Seen          int `json:"seen"`
	Written       int `json:"written"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	FieldsDropped int `json:"fields_dropped"`
}

// JobRequest is the input of one sync run.
type JobRequest struct {
	// UserID is the Douban user whose interest lists are enumerated.
	UserID string `json:"user_id" validate:"required,max=64"`
	// Kind selects which library to sync: book, movie or tv.
	Kind Kind `json:"kind" validate:"required,oneof=book movie tv"`
	// Statuses optionally restricts enumeration to a subset of the
	// lifecycle lists (wish/do/collect). Empty means all three.
	Statuses []string `json:"statuses,omitempty" validate:"omitempty,dive,oneof=wish do collect"`
}

// SyncJob is one execution unit: the request, its lifecycle state, progress
// counters and a result summary. It is the only mutable entity in the
// pipeline and is exclusively owned by the orchestrator that runs it.
type SyncJob struct {
	ID      string     `json:"id"`
	Request JobRequest `json:"request"`

	State    JobState    `json:"state"`
	Counters JobCounters `json:"counters"`

	// FatalKind names the error kind that terminated a failed job
	// ("blocked", "contract_mismatch", ...). Status responses surface
	// this instead of a raw error trace.
	FatalKind string `json:"fatal_kind,omitempty"`
	Summary   string `json:"summary,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Clone returns a deep copy safe to hand to readers while the orchestrator
// keeps mutating the original.
func (j *SyncJob) Clone() *SyncJob {
	cp := *j
	cp.Request.Statuses = append([]string(nil), j.Request.Statuses...)
	return &cp
}

// Duration returns how long the job has been (or was) running.
func (j *SyncJob) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// ItemOutcome is the per-item result carried on progress events.
type ItemOutcome string

const (
	OutcomeWritten ItemOutcome = "written"
	OutcomeSkipped ItemOutcome = "skipped"
	OutcomeFailed  ItemOutcome = "failed"
)

// ProgressEvent is emitted once per processed item, in processing order,
// plus one terminal event per job (Terminal=true, Outcome empty).
type ProgressEvent struct {
	JobID      string      `json:"job_id"`
	ExternalID string      `json:"external_id,omitempty"`
	Outcome    ItemOutcome `json:"outcome,omitempty"`
	Counters   JobCounters `json:"counters"`
	Terminal   bool        `json:"terminal,omitempty"`
	State      JobState    `json:"state,omitempty"`
	At         time.Time   `json:"at"`
}

// ContractFailureRecord is one append-only entry of the contract failure
// log, produced when a destination response fails structural validation in
// soft mode. Entries are never mutated; the log rotates by calendar day.
type ContractFailureRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
	Errors    []string  `json:"errors"`
	Payload   string    `json:"payload"`
}
