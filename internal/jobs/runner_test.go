// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/shelfsync/internal/douban"
	"github.com/tomtom215/shelfsync/internal/events"
	"github.com/tomtom215/shelfsync/internal/models"
)

// fakeSource serves a fixed entry list for every requested status and
// synthesizes one record per entry.
type fakeSource struct {
	entries  []douban.ListEntry
	pageErrs map[string]error // by status

	recordErrs map[string]error // by external id

	fetchCalls  atomic.Int32
	beforeFetch func(call int32)
}

func (s *fakeSource) FetchPage(ctx context.Context, userID string, kind models.Kind, status string, start int) ([]douban.ListEntry, bool, error) {
	if err := s.pageErrs[status]; err != nil {
		return nil, false, err
	}
	if start >= len(s.entries) {
		return nil, false, nil
	}
	end := start + douban.PageSize
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[start:end], end < len(s.entries), nil
}

func (s *fakeSource) FetchRecord(ctx context.Context, entry douban.ListEntry) (*models.CanonicalRecord, error) {
	call := s.fetchCalls.Add(1)
	if s.beforeFetch != nil {
		s.beforeFetch(call)
	}
	if err := s.recordErrs[entry.ExternalID]; err != nil {
		return nil, err
	}
	return &models.CanonicalRecord{
		ExternalID: entry.ExternalID,
		Kind:       entry.Kind,
		Title:      "条目 " + entry.ExternalID,
		MarkStatus: entry.MarkStatus,
	}, nil
}

// fakeDest records created rows in memory.
type fakeDest struct {
	schema   []models.DestinationField
	existing map[string]struct{}

	listFieldsErr error
	createErr     error

	mu      sync.Mutex
	created []map[string]any
}

func newFakeDest(existing ...string) *fakeDest {
	ex := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		ex[id] = struct{}{}
	}
	return &fakeDest{
		schema: []models.DestinationField{
			{FieldID: "fld01", DisplayName: "ID", Type: models.FieldText},
			{FieldID: "fld02", DisplayName: "标题", Type: models.FieldText},
			{FieldID: "fld03", DisplayName: "状态", Type: models.FieldSingleSelect, Options: []string{"想看", "在看", "看过"}},
		},
		existing: ex,
	}
}

func (d *fakeDest) ListFields(ctx context.Context) ([]models.DestinationField, error) {
	if d.listFieldsErr != nil {
		return nil, d.listFieldsErr
	}
	return d.schema, nil
}

func (d *fakeDest) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	if d.createErr != nil {
		return "", d.createErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, fields)
	return fmt.Sprintf("rec%d", len(d.created)), nil
}

func (d *fakeDest) ListExternalIDs(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(d.existing))
	for id := range d.existing {
		out[id] = struct{}{}
	}
	return out, nil
}

func makeEntries(n int) []douban.ListEntry {
	entries := make([]douban.ListEntry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, douban.ListEntry{
			ExternalID: strconv.Itoa(i),
			Kind:       models.KindMovie,
			MarkStatus: "看过",
		})
	}
	return entries
}

// newTestRunner assembles a runner over fakes with an in-memory store.
func newTestRunner(t *testing.T, src Source, dest Destination) (*Runner, *Store, *events.Bus) {
	t.Helper()
	store, err := OpenStore("")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus(1024)
	t.Cleanup(func() { bus.Close() })

	return NewRunnerWithSource(func() Source { return src }, dest, store, bus), store, bus
}

func newTestJob(id string) *models.SyncJob {
	return &models.SyncJob{
		ID: id,
		Request: models.JobRequest{
			UserID:   "ahbei",
			Kind:     models.KindMovie,
			Statuses: []string{"collect"},
		},
		State:      models.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestRunnerHappyPath(t *testing.T) {
	src := &fakeSource{entries: makeEntries(3)}
	dest := newFakeDest("2")
	runner, store, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-happy")
	runner.Run(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("state = %s, want succeeded (summary: %s)", job.State, job.Summary)
	}
	if job.Counters.Seen != 3 || job.Counters.Written != 2 || job.Counters.Skipped != 1 || job.Counters.Failed != 0 {
		t.Errorf("counters = %+v, want seen 3 written 2 skipped 1", job.Counters)
	}
	if len(dest.created) != 2 {
		t.Fatalf("created rows = %d, want 2", len(dest.created))
	}
	if dest.created[0]["ID"] != "1" || dest.created[1]["ID"] != "3" {
		t.Errorf("created rows out of order: %v, %v", dest.created[0]["ID"], dest.created[1]["ID"])
	}
	if dest.created[0]["状态"] != "看过" {
		t.Errorf("状态 = %v, want 看过", dest.created[0]["状态"])
	}

	// The terminal snapshot must be persisted.
	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.State != models.JobSucceeded {
		t.Errorf("stored state = %s, want succeeded", stored.State)
	}
	if job.FinishedAt.IsZero() || job.StartedAt.IsZero() {
		t.Error("timestamps not set on terminal job")
	}
}

func TestRunnerItemFailuresDoNotFailJob(t *testing.T) {
	src := &fakeSource{
		entries:    makeEntries(3),
		recordErrs: map[string]error{"2": models.ErrParseIncomplete},
	}
	dest := newFakeDest()
	runner, _, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-itemfail")
	runner.Run(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("state = %s, want succeeded despite item failure", job.State)
	}
	if job.Counters.Failed != 1 || job.Counters.Written != 2 {
		t.Errorf("counters = %+v, want failed 1 written 2", job.Counters)
	}
}

func TestRunnerTransientItemFailureAbsorbed(t *testing.T) {
	src := &fakeSource{
		entries:    makeEntries(2),
		recordErrs: map[string]error{"1": models.Transient("fetch", errors.New("HTTP 503"))},
	}
	dest := newFakeDest()
	runner, _, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-transient-item")
	runner.Run(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("state = %s, want succeeded", job.State)
	}
	if job.Counters.Failed != 1 || job.Counters.Written != 1 {
		t.Errorf("counters = %+v, want failed 1 written 1", job.Counters)
	}
}

func TestRunnerBlockedFailsJob(t *testing.T) {
	src := &fakeSource{
		entries:    makeEntries(5),
		recordErrs: map[string]error{"2": fmt.Errorf("HTTP 403: %w", models.ErrBlocked)},
	}
	dest := newFakeDest()
	runner, _, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-blocked")
	runner.Run(context.Background(), job)

	if job.State != models.JobFailed {
		t.Fatalf("state = %s, want failed", job.State)
	}
	if job.FatalKind != "blocked" {
		t.Errorf("FatalKind = %q, want blocked", job.FatalKind)
	}
	// Item 1 was written before the block; items 3-5 were never reached.
	if job.Counters.Seen != 2 || job.Counters.Written != 1 {
		t.Errorf("counters = %+v, want seen 2 written 1", job.Counters)
	}
}

func TestRunnerCancelBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{entries: makeEntries(10)}
	src.beforeFetch = func(call int32) {
		if call == 5 {
			cancel()
		}
	}
	dest := newFakeDest()
	runner, _, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-cancel")
	runner.Run(ctx, job)

	if job.State != models.JobCancelled {
		t.Fatalf("state = %s, want cancelled", job.State)
	}
	// The item in flight completes whole; the next boundary stops the run.
	if job.Counters.Seen != 5 || job.Counters.Written != 5 {
		t.Errorf("counters = %+v, want seen 5 written 5", job.Counters)
	}
	if len(dest.created) != 5 {
		t.Errorf("created rows = %d, want 5", len(dest.created))
	}
}

func TestRunnerTransientPageFailureAbandonsSegment(t *testing.T) {
	src := &fakeSource{
		entries:  makeEntries(2),
		pageErrs: map[string]error{"wish": models.Transient("fetch", errors.New("HTTP 502"))},
	}
	dest := newFakeDest()
	runner, _, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-segment")
	job.Request.Statuses = []string{"wish", "collect"}
	runner.Run(context.Background(), job)

	if job.State != models.JobSucceeded {
		t.Fatalf("state = %s, want succeeded (remaining segments still run)", job.State)
	}
	if job.Counters.Failed != 1 {
		t.Errorf("Failed = %d, want 1 for the abandoned segment", job.Counters.Failed)
	}
	if job.Counters.Written != 2 {
		t.Errorf("Written = %d, want 2 from the collect segment", job.Counters.Written)
	}
}

func TestRunnerSchemaIntrospectionFailure(t *testing.T) {
	src := &fakeSource{entries: makeEntries(1)}
	dest := newFakeDest()
	dest.listFieldsErr = models.Transient("bitable", errors.New("HTTP 500"))
	runner, _, _ := newTestRunner(t, src, dest)

	job := newTestJob("job-schema")
	runner.Run(context.Background(), job)

	if job.State != models.JobFailed {
		t.Fatalf("state = %s, want failed", job.State)
	}
	if job.FatalKind != "transient" {
		t.Errorf("FatalKind = %q, want transient", job.FatalKind)
	}
	if job.Counters.Seen != 0 {
		t.Errorf("Seen = %d, want 0 (no item was started)", job.Counters.Seen)
	}
}

func TestRunnerPublishesProgressEvents(t *testing.T) {
	src := &fakeSource{entries: makeEntries(2)}
	dest := newFakeDest("1")
	runner, _, bus := newTestRunner(t, src, dest)

	ctx, cancelSub := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSub()
	evCh, err := bus.SubscribeProgress(ctx)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	job := newTestJob("job-events")
	runner.Run(context.Background(), job)

	var got []models.ProgressEvent
	for ev := range evCh {
		got = append(got, ev)
		if ev.Terminal {
			break
		}
	}

	if len(got) != 3 {
		t.Fatalf("events = %d, want 3 (skip, write, terminal)", len(got))
	}
	if got[0].Outcome != models.OutcomeSkipped || got[0].ExternalID != "1" {
		t.Errorf("event 0 = %+v, want skipped/1", got[0])
	}
	if got[1].Outcome != models.OutcomeWritten || got[1].ExternalID != "2" {
		t.Errorf("event 1 = %+v, want written/2", got[1])
	}
	last := got[len(got)-1]
	if !last.Terminal || last.State != models.JobSucceeded {
		t.Errorf("terminal event = %+v", last)
	}
	if last.Counters.Seen != 2 {
		t.Errorf("terminal counters = %+v", last.Counters)
	}
}
