// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist in the store.
var ErrJobNotFound = errors.New("job not found")

// jobKeyPrefix namespaces job records in BadgerDB.
const jobKeyPrefix = "job:"

// Store persists jobs across restarts. Completed jobs are retained as
// history; only the orchestrator writes, so no store-level locking is
// needed beyond Badger's transactions.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the BadgerDB-backed job store at path.
// An empty path opens an in-memory store, used by tests.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &Store{db: db}, nil
}

// Put writes a job snapshot.
func (s *Store) Put(ctx context.Context, job *models.SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobKeyPrefix+job.ID), data)
	})
}

// Get retrieves one job by id.
func (s *Store) Get(ctx context.Context, id string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns all jobs, newest first by enqueue time.
func (s *Store) List(ctx context.Context) ([]*models.SyncJob, error) {
	var out []*models.SyncJob
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job models.SyncJob
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			out = append(out, &job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
	})
	return out, nil
}

// RecoverInterrupted marks jobs left in a non-terminal state by a previous
// process as failed. Called once at startup before workers start.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range all {
		if job.State.Terminal() {
			continue
		}
		job.State = models.JobFailed
		job.FatalKind = "interrupted"
		job.Summary = "process exited while the job was in flight"
		if err := s.Put(ctx, job); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
