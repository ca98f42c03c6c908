// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/models"
)

// FailureLog is the append-only, day-partitioned contract failure log: one
// file per calendar day, one JSON object per line. Entries are never
// mutated or read back by the pipeline; operational tooling consumes them.
//
// Concurrent jobs share one FailureLog. Within the process a mutex
// serializes writes; across processes the file is opened O_APPEND and the
// filesystem's append semantics are relied upon.
type FailureLog struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewFailureLog creates the log directory if needed.
func NewFailureLog(dir string) (*FailureLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create failure log dir: %w", err)
	}
	return &FailureLog{dir: dir}, nil
}

// Append writes one failure record as a JSON line to today's partition.
func (l *FailureLog) Append(rec models.ContractFailureRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	day := rec.Timestamp.Format("2006-01-02")
	if day == "" || day != l.day {
		if err := l.rotateLocked(day); err != nil {
			return err
		}
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append failure record: %w", err)
	}
	return nil
}

// rotateLocked switches to the partition for day (must hold mu).
func (l *FailureLog) rotateLocked(day string) error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	path := filepath.Join(l.dir, fmt.Sprintf("contract-failures-%s.log", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log %s: %w", path, err)
	}
	l.file = f
	l.day = day
	return nil
}

// Path returns the partition path for a given day, for operational tools.
func (l *FailureLog) Path(day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("contract-failures-%s.log", day.Format("2006-01-02")))
}

// Close releases the current partition handle.
func (l *FailureLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
