// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package feishu

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/models"
)

// fakeBitable is a minimal in-memory Bitable API.
type fakeBitable struct {
	tokenCalls  atomic.Int32
	fieldCalls  atomic.Int32
	recordCalls atomic.Int32
	createCalls atomic.Int32

	lastAuth       string
	lastCreateBody []byte

	createStatusOnce int // non-zero: first create responds with this status
}

func (f *fakeBitable) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		writeJSON(w, map[string]any{
			"code": 0, "msg": "ok",
			"tenant_access_token": "t-test", "expire": 7200,
		})
	})

	mux.HandleFunc("GET /open-apis/bitable/v1/apps/app/tables/tbl/fields", func(w http.ResponseWriter, r *http.Request) {
		f.fieldCalls.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, map[string]any{
				"code": 0, "msg": "success",
				"data": map[string]any{
					"has_more":   true,
					"page_token": "pg2",
					"items": []map[string]any{
						{"field_id": "fld1", "field_name": "ID", "type": 1},
						{"field_id": "fld2", "field_name": "状态", "type": 3,
							"property": map[string]any{"options": []map[string]any{{"name": "想看"}, {"name": "看过"}}}},
						{"field_id": "fld3", "field_name": "附件", "type": 17},
					},
				},
			})
			return
		}
		writeJSON(w, map[string]any{
			"code": 0, "msg": "success",
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"field_id": "fld4", "field_name": "我的评分", "type": 1004,
						"property": map[string]any{"min": 1, "max": 5}},
				},
			},
		})
	})

	mux.HandleFunc("GET /open-apis/bitable/v1/apps/app/tables/tbl/records", func(w http.ResponseWriter, r *http.Request) {
		f.recordCalls.Add(1)
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, map[string]any{
				"code": 0, "msg": "success",
				"data": map[string]any{
					"has_more":   true,
					"page_token": "pg2",
					"items": []map[string]any{
						{"record_id": "r1", "fields": map[string]any{"ID": "100"}},
						{"record_id": "r2", "fields": map[string]any{"ID": []any{
							map[string]any{"text": "20"}, map[string]any{"text": "0"},
						}}},
						{"record_id": "r3", "fields": map[string]any{"标题": "无ID"}},
					},
				},
			})
			return
		}
		writeJSON(w, map[string]any{
			"code": 0, "msg": "success",
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"record_id": "r4", "fields": map[string]any{"ID": "300"}},
				},
			},
		})
	})

	mux.HandleFunc("POST /open-apis/bitable/v1/apps/app/tables/tbl/records", func(w http.ResponseWriter, r *http.Request) {
		if n := f.createCalls.Add(1); n == 1 && f.createStatusOnce != 0 {
			w.WriteHeader(f.createStatusOnce)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.lastCreateBody = body
		writeJSON(w, map[string]any{
			"code": 0, "msg": "success",
			"data": map[string]any{"record": map[string]any{"record_id": "recNEW"}},
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeBitable) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := &config.BitableConfig{
		BaseURL:   srv.URL,
		AppID:     "cli_test",
		AppSecret: "secret",
		AppToken:  "app",
		TableID:   "tbl",
		Timeout:   5 * time.Second,
		QPS:       1000,
	}
	return NewClient(cfg, contract.NewValidator(true, nil))
}

func TestClientTokenCached(t *testing.T) {
	fake := &fakeBitable{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ListFields(ctx); err != nil {
			t.Fatalf("ListFields() error = %v", err)
		}
	}

	if n := fake.tokenCalls.Load(); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1 (token must be cached)", n)
	}
	if fake.lastAuth != "Bearer t-test" {
		t.Errorf("Authorization = %q, want Bearer t-test", fake.lastAuth)
	}
}

func TestListFields(t *testing.T) {
	fake := &fakeBitable{}
	c := newTestClient(t, fake)

	fields, err := c.ListFields(context.Background())
	if err != nil {
		t.Fatalf("ListFields() error = %v", err)
	}

	// The type-17 attachment field is not coercible and must be skipped.
	if len(fields) != 3 {
		t.Fatalf("len(fields) = %d, want 3: %+v", len(fields), fields)
	}

	if fields[0].DisplayName != "ID" || fields[0].Type != models.FieldText {
		t.Errorf("fields[0] = %+v", fields[0])
	}

	sel := fields[1]
	if sel.Type != models.FieldSingleSelect || len(sel.Options) != 2 || sel.Options[1] != "看过" {
		t.Errorf("select field = %+v", sel)
	}
	if !sel.PermitsOption("想看") || sel.PermitsOption("在看") {
		t.Error("PermitsOption does not reflect declared options")
	}

	rating := fields[2]
	if rating.Type != models.FieldRating || !rating.HasRange || rating.Min != 1 || rating.Max != 5 {
		t.Errorf("rating field = %+v", rating)
	}

	if n := fake.fieldCalls.Load(); n != 2 {
		t.Errorf("field endpoint hit %d times, want 2 (pagination)", n)
	}
}

func TestCreateRecord(t *testing.T) {
	fake := &fakeBitable{}
	c := newTestClient(t, fake)

	id, err := c.CreateRecord(context.Background(), map[string]any{
		"ID": "3742360", "标题": "让子弹飞",
	})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if id != "recNEW" {
		t.Errorf("record id = %q, want recNEW", id)
	}

	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(fake.lastCreateBody, &body); err != nil {
		t.Fatalf("decode create body: %v", err)
	}
	if body.Fields["ID"] != "3742360" || body.Fields["标题"] != "让子弹飞" {
		t.Errorf("create body fields = %v", body.Fields)
	}
}

func TestListExternalIDs(t *testing.T) {
	fake := &fakeBitable{}
	c := newTestClient(t, fake)

	ids, err := c.ListExternalIDs(context.Background())
	if err != nil {
		t.Fatalf("ListExternalIDs() error = %v", err)
	}

	// "200" comes from joined rich-text segments; the row without an ID
	// column contributes nothing.
	want := []string{"100", "200", "300"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for _, id := range want {
		if _, ok := ids[id]; !ok {
			t.Errorf("id %q missing from %v", id, ids)
		}
	}

	if n := fake.recordCalls.Load(); n != 2 {
		t.Errorf("records endpoint hit %d times, want 2 (pagination)", n)
	}
}

func TestClientRetries429(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps for a second")
	}
	fake := &fakeBitable{createStatusOnce: http.StatusTooManyRequests}
	c := newTestClient(t, fake)

	id, err := c.CreateRecord(context.Background(), map[string]any{"ID": "1"})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if id != "recNEW" {
		t.Errorf("record id = %q", id)
	}
	if n := fake.createCalls.Load(); n != 2 {
		t.Errorf("create endpoint hit %d times, want 2", n)
	}
}

func TestClientAPIErrorCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"code": 0, "msg": "ok", "tenant_access_token": "t", "expire": 7200,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 1254043, "msg": "FieldNameNotFound"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := &config.BitableConfig{
		BaseURL: srv.URL, AppID: "a", AppSecret: "s", AppToken: "app", TableID: "tbl",
		Timeout: 5 * time.Second, QPS: 1000,
	}
	// Soft validation: the shape check must not mask the envelope code.
	c := NewClient(cfg, contract.NewValidator(false, nil))

	_, err := c.CreateRecord(context.Background(), map[string]any{"ID": "1"})
	if err == nil {
		t.Fatal("non-zero envelope code accepted")
	}
	if !strings.Contains(err.Error(), "1254043") {
		t.Errorf("err = %v, want envelope code surfaced", err)
	}
	if models.IsTransient(err) {
		t.Error("API refusal classified as transient")
	}
}

func TestCircuitBreakerClientPassthrough(t *testing.T) {
	fake := &fakeBitable{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := &config.BitableConfig{
		BaseURL: srv.URL, AppID: "a", AppSecret: "s", AppToken: "app", TableID: "tbl",
		Timeout: 5 * time.Second, QPS: 1000,
	}
	cbc := NewCircuitBreakerClient(cfg, contract.NewValidator(true, nil))
	ctx := context.Background()

	fields, err := cbc.ListFields(ctx)
	if err != nil {
		t.Fatalf("ListFields() error = %v", err)
	}
	if len(fields) != 3 {
		t.Errorf("len(fields) = %d, want 3", len(fields))
	}

	id, err := cbc.CreateRecord(ctx, map[string]any{"ID": "1"})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if id != "recNEW" {
		t.Errorf("record id = %q", id)
	}

	ids, err := cbc.ListExternalIDs(ctx)
	if err != nil {
		t.Fatalf("ListExternalIDs() error = %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("len(ids) = %d, want 3", len(ids))
	}
}

func TestDestinationField(t *testing.T) {
	tests := []struct {
		name     string
		item     bitableField
		wantType models.FieldType
		wantOK   bool
	}{
		{"text", bitableField{FieldName: "t", Type: 1}, models.FieldText, true},
		{"number", bitableField{FieldName: "n", Type: 2}, models.FieldNumber, true},
		{"date", bitableField{FieldName: "d", Type: 5}, models.FieldDateTime, true},
		{"url", bitableField{FieldName: "u", Type: 15}, models.FieldURL, true},
		{"rating", bitableField{FieldName: "r", Type: 1004}, models.FieldRating, true},
		{"attachment skipped", bitableField{FieldName: "a", Type: 17}, "", false},
		{"formula skipped", bitableField{FieldName: "f", Type: 20}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df, ok := destinationField(tt.item)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && df.Type != tt.wantType {
				t.Errorf("type = %v, want %v", df.Type, tt.wantType)
			}
		})
	}
}
