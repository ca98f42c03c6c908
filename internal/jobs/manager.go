// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
	"github.com/tomtom215/shelfsync/internal/validation"
)

// ErrQueueFull is returned when the submission queue is at capacity.
var ErrQueueFull = errors.New("job queue full")

// ErrJobTerminal is returned when cancelling a job that already finished.
var ErrJobTerminal = errors.New("job already in a terminal state")

// Manager owns the job queue and worker pool. Submissions are validated,
// persisted and queued; a fixed set of workers drains the queue so at most
// Workers jobs run concurrently.
type Manager struct {
	store  *Store
	runner *Runner
	queue  chan string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewManager creates a manager draining into the given runner.
func NewManager(store *Store, runner *Runner, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Manager{
		store:   store,
		runner:  runner,
		queue:   make(chan string, queueSize),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// Wait blocks until they have drained.
func (m *Manager) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	logging.Info().Int("workers", workers).Msg("Job workers started")
}

// Wait blocks until all workers have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit validates and enqueues a new sync job.
func (m *Manager) Submit(ctx context.Context, req models.JobRequest) (*models.SyncJob, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}

	job := &models.SyncJob{
		ID:         uuid.New().String(),
		Request:    req,
		State:      models.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := m.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	select {
	case m.queue <- job.ID:
	default:
		job.State = models.JobFailed
		job.FatalKind = "queue_full"
		job.Summary = "submission rejected: queue full"
		_ = m.store.Put(ctx, job)
		return nil, ErrQueueFull
	}

	metrics.JobsByState.WithLabelValues(string(models.JobQueued)).Inc()
	logging.Info().Str("job_id", job.ID).Str("user_id", req.UserID).Str("kind", string(req.Kind)).Msg("Job queued")
	return job.Clone(), nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(ctx context.Context, id string) (*models.SyncJob, error) {
	return m.store.Get(ctx, id)
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List(ctx context.Context) ([]*models.SyncJob, error) {
	return m.store.List(ctx)
}

// Cancel requests cooperative cancellation. A running job stops at the
// next item boundary; a queued job is cancelled before it starts.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	cancel, running := m.cancels[id]
	m.mu.Unlock()

	if running {
		cancel()
		logging.Info().Str("job_id", id).Msg("Cancellation requested")
		return nil
	}

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return ErrJobTerminal
	}
	if job.State == models.JobQueued {
		// Mark it cancelled now; the worker skips it when dequeued.
		job.State = models.JobCancelled
		job.Summary = "cancelled before start"
		job.FinishedAt = time.Now().UTC()
		if err := m.store.Put(ctx, job); err != nil {
			return err
		}
		metrics.JobsByState.WithLabelValues(string(models.JobQueued)).Dec()
		metrics.JobsByState.WithLabelValues(string(models.JobCancelled)).Inc()
		logging.Info().Str("job_id", id).Msg("Queued job cancelled")
	}
	return nil
}

// worker drains the queue until ctx is cancelled.
func (m *Manager) worker(ctx context.Context, idx int) {
	defer m.wg.Done()
	log := logging.With().Int("worker", idx).Logger()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Job worker stopping")
			return
		case id := <-m.queue:
			m.runJob(ctx, id)
		}
	}
}

// runJob loads a queued job and executes it under a per-job cancelable
// context registered for Cancel.
func (m *Manager) runJob(ctx context.Context, id string) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		logging.Error().Err(err).Str("job_id", id).Msg("Failed to load queued job")
		return
	}
	if job.State != models.JobQueued {
		// Cancelled while waiting in the queue.
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	m.runner.Run(jobCtx, job)

	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
	cancel()
}
