// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/douban"
	"github.com/tomtom215/shelfsync/internal/events"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mapper"
	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
	"github.com/tomtom215/shelfsync/internal/reconcile"
)

// Source enumerates a user's interest lists and fetches subject records.
// A fresh Source is created per job so anti-bot delay state never leaks
// between runs.
type Source interface {
	FetchPage(ctx context.Context, userID string, kind models.Kind, status string, start int) ([]douban.ListEntry, bool, error)
	FetchRecord(ctx context.Context, entry douban.ListEntry) (*models.CanonicalRecord, error)
}

// Destination is the subset of the Bitable client the runner needs.
type Destination interface {
	ListFields(ctx context.Context) ([]models.DestinationField, error)
	CreateRecord(ctx context.Context, fields map[string]any) (string, error)
	ListExternalIDs(ctx context.Context) (map[string]struct{}, error)
}

// SourceFactory builds the per-job source. The production factory wires a
// new rate-limited fetcher; tests substitute fakes.
type SourceFactory func() Source

// Runner executes one sync job end to end: enumerate, reconcile, fetch,
// map, write. Items are processed strictly sequentially.
type Runner struct {
	newSource SourceFactory
	dest      Destination
	store     *Store
	bus       *events.Bus
}

// NewRunner creates a runner using a live Douban source per job.
func NewRunner(doubanCfg *config.DoubanConfig, dest Destination, store *Store, bus *events.Bus) *Runner {
	factory := func() Source {
		return douban.NewLibrary(doubanCfg, douban.NewFetcher(doubanCfg))
	}
	return NewRunnerWithSource(factory, dest, store, bus)
}

// NewRunnerWithSource creates a runner with a custom source factory.
func NewRunnerWithSource(factory SourceFactory, dest Destination, store *Store, bus *events.Bus) *Runner {
	return &Runner{
		newSource: factory,
		dest:      dest,
		store:     store,
		bus:       bus,
	}
}

// Run drives one job to a terminal state. The context carries the job's
// cancel signal; cancellation is honored between items, never mid-item.
func (r *Runner) Run(ctx context.Context, job *models.SyncJob) {
	ctx = logging.ContextWithJobID(ctx, job.ID)
	log := logging.Ctx(ctx)

	job.State = models.JobRunning
	job.StartedAt = time.Now().UTC()
	r.persist(ctx, job)
	metrics.JobsByState.WithLabelValues(string(models.JobQueued)).Dec()
	metrics.JobsByState.WithLabelValues(string(models.JobRunning)).Inc()

	log.Info().
		Str("user_id", job.Request.UserID).
		Str("kind", string(job.Request.Kind)).
		Msg("Sync job started")

	err := r.run(ctx, job)
	r.finish(ctx, job, err)
}

// run performs the pipeline. A nil return means the run completed (item
// failures included); a non-nil return is a fatal condition.
func (r *Runner) run(ctx context.Context, job *models.SyncJob) error {
	schema, err := r.dest.ListFields(ctx)
	if err != nil {
		return fmt.Errorf("introspect destination schema: %w", err)
	}

	m, err := mapper.New(job.Request.Kind, schema)
	if err != nil {
		return fmt.Errorf("build field mapping: %w", err)
	}

	existing, err := r.dest.ListExternalIDs(ctx)
	if err != nil {
		return fmt.Errorf("scan destination rows: %w", err)
	}

	src := r.newSource()
	statuses := job.Request.Statuses
	if len(statuses) == 0 {
		statuses = douban.Statuses
	}

	for _, status := range statuses {
		if err := r.syncStatus(ctx, job, src, m, existing, status); err != nil {
			return err
		}
	}
	return nil
}

// syncStatus enumerates one interest-list segment and processes its
// entries in page order.
func (r *Runner) syncStatus(ctx context.Context, job *models.SyncJob, src Source, m *mapper.Mapper, existing map[string]struct{}, status string) error {
	log := logging.Ctx(ctx)

	for start := 0; ; start += douban.PageSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, hasNext, err := src.FetchPage(ctx, job.Request.UserID, job.Request.Kind, status, start)
		if err != nil {
			if models.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			// A transient list-page failure abandons this segment only;
			// the remaining segments still run.
			log.Warn().Err(err).Str("status", status).Int("start", start).Msg("Abandoning list segment after fetch failure")
			job.Counters.Failed++
			return nil
		}

		for _, entry := range entries {
			// Cancellation is cooperative: checked between items so the
			// item in flight always completes or fails whole.
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.processItem(ctx, job, src, m, existing, entry); err != nil {
				return err
			}
		}

		if !hasNext {
			return nil
		}
	}
}

// processItem handles a single entry: skip if present, otherwise fetch,
// map and write. Non-fatal item errors are counted and absorbed.
func (r *Runner) processItem(ctx context.Context, job *models.SyncJob, src Source, m *mapper.Mapper, existing map[string]struct{}, entry douban.ListEntry) error {
	log := logging.Ctx(ctx)
	job.Counters.Seen++

	if reconcile.Exists(entry.ExternalID, existing) {
		job.Counters.Skipped++
		metrics.ItemsProcessed.WithLabelValues(string(models.OutcomeSkipped)).Inc()
		r.progress(ctx, job, entry.ExternalID, models.OutcomeSkipped)
		return nil
	}

	rec, err := src.FetchRecord(ctx, entry)
	if err == nil {
		var fields map[string]any
		var dropped []mapper.DroppedField
		fields, dropped = m.Map(rec)
		job.Counters.FieldsDropped += len(dropped)
		for _, d := range dropped {
			log.Debug().Str("external_id", rec.ExternalID).Str("field", d.DisplayName).Str("reason", d.Reason).Msg("Field dropped by coercion")
		}

		_, err = r.dest.CreateRecord(ctx, fields)
		if err == nil {
			existing[rec.ExternalID] = struct{}{}
			job.Counters.Written++
			metrics.ItemsProcessed.WithLabelValues(string(models.OutcomeWritten)).Inc()
			r.progress(ctx, job, rec.ExternalID, models.OutcomeWritten)
			return nil
		}
	}

	if models.IsFatal(err) || ctx.Err() != nil {
		return err
	}

	// Item-scoped failure: parse incomplete, exhausted retries, refused
	// write. The job carries on with the next item.
	log.Warn().Err(err).Str("external_id", entry.ExternalID).Msg("Item failed")
	job.Counters.Failed++
	metrics.ItemsProcessed.WithLabelValues(string(models.OutcomeFailed)).Inc()
	r.progress(ctx, job, entry.ExternalID, models.OutcomeFailed)
	return nil
}

// finish resolves the terminal state, persists it and emits the terminal
// progress event.
func (r *Runner) finish(ctx context.Context, job *models.SyncJob, err error) {
	log := logging.Ctx(ctx)

	switch {
	case err == nil:
		// Item failures do not fail the job; the counters tell the story.
		job.State = models.JobSucceeded
		job.Summary = fmt.Sprintf("seen %d, written %d, skipped %d, failed %d",
			job.Counters.Seen, job.Counters.Written, job.Counters.Skipped, job.Counters.Failed)
	case errors.Is(err, context.Canceled):
		job.State = models.JobCancelled
		job.Summary = "cancelled by operator"
	default:
		job.State = models.JobFailed
		job.FatalKind = fatalKind(err)
		job.Summary = err.Error()
	}

	job.FinishedAt = time.Now().UTC()
	r.persist(ctx, job)

	metrics.JobsByState.WithLabelValues(string(models.JobRunning)).Dec()
	metrics.JobsByState.WithLabelValues(string(job.State)).Inc()
	metrics.JobDuration.Observe(job.Duration().Seconds())

	ev := models.ProgressEvent{
		JobID:    job.ID,
		Counters: job.Counters,
		Terminal: true,
		State:    job.State,
		At:       time.Now().UTC(),
	}
	if pubErr := r.bus.PublishProgress(ev); pubErr != nil {
		log.Warn().Err(pubErr).Msg("Failed to publish terminal progress event")
	}

	log.Info().
		Str("state", string(job.State)).
		Int("seen", job.Counters.Seen).
		Int("written", job.Counters.Written).
		Int("skipped", job.Counters.Skipped).
		Int("failed", job.Counters.Failed).
		Int("fields_dropped", job.Counters.FieldsDropped).
		Dur("duration", job.Duration()).
		Msg("Sync job finished")
}

// progress persists the job snapshot and emits one per-item event.
func (r *Runner) progress(ctx context.Context, job *models.SyncJob, externalID string, outcome models.ItemOutcome) {
	r.persist(ctx, job)
	ev := models.ProgressEvent{
		JobID:      job.ID,
		ExternalID: externalID,
		Outcome:    outcome,
		Counters:   job.Counters,
		At:         time.Now().UTC(),
	}
	if err := r.bus.PublishProgress(ev); err != nil {
		log := logging.Ctx(ctx)
		log.Warn().Err(err).Msg("Failed to publish progress event")
	}
}

// persist writes the job snapshot, decoupled from the job context so a
// cancelled run still records its final state.
func (r *Runner) persist(ctx context.Context, job *models.SyncJob) {
	if err := r.store.Put(context.WithoutCancel(ctx), job); err != nil {
		log := logging.Ctx(ctx)
		log.Error().Err(err).Msg("Failed to persist job snapshot")
	}
}

// fatalKind names the condition that killed a failed job for status
// responses.
func fatalKind(err error) string {
	switch {
	case errors.Is(err, models.ErrBlocked):
		return "blocked"
	case errors.Is(err, models.ErrContractMismatch):
		return "contract_mismatch"
	case models.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
