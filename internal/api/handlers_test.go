// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/douban"
	"github.com/tomtom215/shelfsync/internal/events"
	"github.com/tomtom215/shelfsync/internal/jobs"
	"github.com/tomtom215/shelfsync/internal/models"
	"github.com/tomtom215/shelfsync/internal/websocket"
)

// stubSource serves one hardcoded entry.
type stubSource struct{}

func (stubSource) FetchPage(ctx context.Context, userID string, kind models.Kind, status string, start int) ([]douban.ListEntry, bool, error) {
	if start > 0 {
		return nil, false, nil
	}
	return []douban.ListEntry{{ExternalID: "3742360", Kind: kind, MarkStatus: "看过"}}, false, nil
}

func (stubSource) FetchRecord(ctx context.Context, entry douban.ListEntry) (*models.CanonicalRecord, error) {
	return &models.CanonicalRecord{ExternalID: entry.ExternalID, Kind: entry.Kind, MarkStatus: entry.MarkStatus}, nil
}

// stubDest accepts every write.
type stubDest struct{}

func (stubDest) ListFields(ctx context.Context) ([]models.DestinationField, error) {
	return []models.DestinationField{
		{FieldID: "fld01", DisplayName: "ID", Type: models.FieldText},
		{FieldID: "fld02", DisplayName: "状态", Type: models.FieldSingleSelect, Options: []string{"想看", "在看", "看过"}},
	}, nil
}

func (stubDest) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	return "rec1", nil
}

func (stubDest) ListExternalIDs(ctx context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

// newTestServer stands up the full routing tree over in-memory state. The
// worker pool is not started; jobs stay queued unless a test starts it.
func newTestServer(t *testing.T) (*httptest.Server, *jobs.Manager) {
	t.Helper()

	store, err := jobs.OpenStore("")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	runner := jobs.NewRunnerWithSource(func() jobs.Source { return stubSource{} }, stubDest{}, store, bus)
	manager := jobs.NewManager(store, runner, 8)
	hub := websocket.NewHub(bus)
	validator := contract.NewValidator(true, nil)

	handler := NewHandler(manager, validator, hub)
	srv := httptest.NewServer(NewRouter(handler, &config.ServerConfig{}))
	t.Cleanup(srv.Close)
	return srv, manager
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func postJob(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	return resp
}

func TestCreateJob(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("valid request is queued", func(t *testing.T) {
		resp := postJob(t, srv, `{"user_id":"ahbei","kind":"movie","statuses":["collect"]}`)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		if !out.Success {
			t.Fatalf("success = false: %+v", out.Error)
		}
		data, _ := out.Data.(map[string]any)
		if data["id"] == "" || data["id"] == nil {
			t.Errorf("job id missing in %v", out.Data)
		}
		if data["state"] != "queued" {
			t.Errorf("state = %v, want queued", data["state"])
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		resp := postJob(t, srv, `{"user_id":`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != ErrCodeBadRequest {
			t.Errorf("error = %+v, want BAD_REQUEST", out.Error)
		}
	})

	t.Run("validation failure carries details", func(t *testing.T) {
		resp := postJob(t, srv, `{"user_id":"","kind":"podcast"}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != ErrCodeValidationFailed {
			t.Fatalf("error = %+v, want VALIDATION_FAILED", out.Error)
		}
		details, _ := out.Error.Details.([]any)
		if len(details) == 0 {
			t.Error("validation details missing")
		}
	})
}

func TestGetJob(t *testing.T) {
	srv, manager := newTestServer(t)

	job, err := manager.Submit(context.Background(), models.JobRequest{
		UserID: "ahbei", Kind: models.KindMovie, Statuses: []string{"collect"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	t.Run("existing job", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		data, _ := out.Data.(map[string]any)
		if data["id"] != job.ID {
			t.Errorf("id = %v, want %s", data["id"], job.ID)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/f0000000-0000-0000-0000-000000000000")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != ErrCodeNotFound {
			t.Errorf("error = %+v, want NOT_FOUND", out.Error)
		}
	})
}

func TestListJobs(t *testing.T) {
	srv, manager := newTestServer(t)

	t.Run("empty store returns empty array", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/jobs")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		list, ok := out.Data.([]any)
		if !ok {
			t.Fatalf("data = %T, want array", out.Data)
		}
		if len(list) != 0 {
			t.Errorf("len = %d, want 0", len(list))
		}
	})

	t.Run("submitted jobs listed", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if _, err := manager.Submit(context.Background(), models.JobRequest{
				UserID: "ahbei", Kind: models.KindBook, Statuses: []string{"wish"},
			}); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
		}
		resp, err := http.Get(srv.URL + "/api/v1/jobs")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		out := decodeResponse(t, resp)
		list, _ := out.Data.([]any)
		if len(list) != 2 {
			t.Errorf("len = %d, want 2", len(list))
		}
	})
}

func TestCancelJob(t *testing.T) {
	srv, manager := newTestServer(t)

	job, err := manager.Submit(context.Background(), models.JobRequest{
		UserID: "ahbei", Kind: models.KindMovie, Statuses: []string{"collect"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	del := func(id string) *http.Response {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/jobs/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		return resp
	}

	t.Run("queued job cancels", func(t *testing.T) {
		resp := del(job.ID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		decodeResponse(t, resp)
	})

	t.Run("terminal job conflicts", func(t *testing.T) {
		resp := del(job.ID)
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != ErrCodeConflict {
			t.Errorf("error = %+v, want CONFLICT", out.Error)
		}
	})

	t.Run("unknown job 404", func(t *testing.T) {
		resp := del("f0000000-0000-0000-0000-000000000000")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		decodeResponse(t, resp)
	})
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	data, _ := out.Data.(map[string]any)
	if data["status"] != "ok" {
		t.Errorf("status = %v, want ok", data["status"])
	}
	if _, ok := data["contract"]; !ok {
		t.Error("contract stats missing from health payload")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-test-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	out := decodeResponse(t, resp)
	if out.Meta == nil || out.Meta.RequestID != "req-test-123" {
		t.Errorf("meta = %+v, want request id req-test-123", out.Meta)
	}
}

func TestEndToEndJobCompletion(t *testing.T) {
	srv, manager := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx, 1)
	defer func() {
		cancel()
		manager.Wait()
	}()

	resp := postJob(t, srv, `{"user_id":"ahbei","kind":"movie","statuses":["collect"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	data, _ := out.Data.(map[string]any)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("job id missing")
	}

	deadline := time.After(5 * time.Second)
	for {
		r, err := http.Get(srv.URL + "/api/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		got := decodeResponse(t, r)
		jd, _ := got.Data.(map[string]any)
		state, _ := jd["state"].(string)
		if models.JobState(state).Terminal() {
			if state != string(models.JobSucceeded) {
				t.Fatalf("state = %s, want succeeded (summary %v)", state, jd["summary"])
			}
			counters, _ := jd["counters"].(map[string]any)
			if counters["written"] != 1.0 {
				t.Errorf("written = %v, want 1", counters["written"])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never finished; state %s", state)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
