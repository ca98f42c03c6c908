// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/jobs"
	"github.com/tomtom215/shelfsync/internal/models"
	"github.com/tomtom215/shelfsync/internal/validation"
	"github.com/tomtom215/shelfsync/internal/websocket"
)

// maxRequestBody bounds job submission payloads.
const maxRequestBody = 64 * 1024

// Handler serves the job management API.
type Handler struct {
	manager   *jobs.Manager
	validator *contract.Validator
	hub       *websocket.Hub
	startedAt time.Time
}

// NewHandler creates the API handler.
func NewHandler(manager *jobs.Manager, validator *contract.Validator, hub *websocket.Hub) *Handler {
	return &Handler{
		manager:   manager,
		validator: validator,
		hub:       hub,
		startedAt: time.Now(),
	}
}

// CreateJob handles POST /api/v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req models.JobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	job, err := h.manager.Submit(r.Context(), req)
	if err != nil {
		var ve *validation.StructError
		switch {
		case errors.As(err, &ve):
			rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "invalid job request", ve.Messages())
		case errors.Is(err, jobs.ErrQueueFull):
			rw.Error(http.StatusTooManyRequests, ErrCodeTooManyRequests, "job queue full")
		default:
			rw.InternalError("failed to submit job")
		}
		return
	}

	rw.Created(job)
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "jobID")

	job, err := h.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			rw.NotFound("job not found")
			return
		}
		rw.InternalError("failed to load job")
		return
	}

	rw.Success(job)
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	list, err := h.manager.List(r.Context())
	if err != nil {
		rw.InternalError("failed to list jobs")
		return
	}
	if list == nil {
		list = []*models.SyncJob{}
	}

	rw.Success(list)
}

// CancelJob handles DELETE /api/v1/jobs/{jobID}. Cancellation is
// cooperative: a running job stops at its next item boundary.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "jobID")

	err := h.manager.Cancel(r.Context(), id)
	switch {
	case err == nil:
		rw.Success(map[string]string{"job_id": id, "status": "cancellation requested"})
	case errors.Is(err, jobs.ErrJobNotFound):
		rw.NotFound("job not found")
	case errors.Is(err, jobs.ErrJobTerminal):
		rw.Conflict("job already finished")
	default:
		rw.InternalError("failed to cancel job")
	}
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Contract      contract.Stats `json:"contract"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Contract:      h.validator.GetStats(),
	})
}

// Progress handles GET /ws/progress, upgrading to a WebSocket that streams
// per-item progress events.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(h.hub, w, r)
}
