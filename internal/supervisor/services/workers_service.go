// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package services

import (
	"context"
)

// WorkerPool matches the job manager's worker lifecycle.
type WorkerPool interface {
	Start(ctx context.Context, workers int)
	Wait()
}

// WorkersService supervises the job worker pool. Restarting the service
// restarts the workers; queued jobs survive in the store and the queue
// channel, so a restart resumes draining where it left off.
type WorkersService struct {
	pool    WorkerPool
	workers int
}

// NewWorkersService wraps a worker pool for supervision.
func NewWorkersService(pool WorkerPool, workers int) *WorkersService {
	return &WorkersService{pool: pool, workers: workers}
}

// Serve implements suture.Service: start the workers, block until the
// context ends, then wait for them to drain.
func (s *WorkersService) Serve(ctx context.Context) error {
	s.pool.Start(ctx, s.workers)
	<-ctx.Done()
	s.pool.Wait()
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *WorkersService) String() string {
	return "job-workers"
}
