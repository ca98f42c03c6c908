// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/middleware"
)

// NewRouter builds the HTTP routing tree.
//
// Rate limits are deliberately loose: the API is an operator surface, not
// a public one, and the real throttle lives in the source fetcher.
func NewRouter(handler *Handler, cfg *config.ServerConfig) http.Handler {
	limit, window := cfg.RateLimitReqs, cfg.RateLimitWindow
	if limit <= 0 {
		limit = 120
	}
	if window <= 0 {
		window = time.Minute
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(httprate.LimitByIP(limit, window))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", handler.CreateJob)
			r.Get("/", handler.ListJobs)
			r.Get("/{jobID}", handler.GetJob)
			r.Delete("/{jobID}", handler.CancelJob)
		})

		r.Get("/health", handler.Health)
	})

	r.Get("/ws/progress", handler.Progress)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
