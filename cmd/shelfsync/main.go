// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package main is the entry point for the Shelfsync server.
//
// Shelfsync mirrors a Douban user's media library (books, movies, TV) into
// a Feishu Bitable table. The server exposes a small job API: submit a sync
// job, watch its progress over WebSocket, cancel it, and read its history.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 (defaults, config.yaml, environment)
//  2. Contract validator: strict or soft validation of Bitable responses,
//     with a day-partitioned failure log in soft mode
//  3. Bitable client: token cache, rate limiter, circuit breaker
//  4. Job store: BadgerDB, with recovery of jobs interrupted by a crash
//  5. Progress bus and WebSocket hub
//  6. Supervisor tree: job workers and hub in the pipeline layer, HTTP
//     server in the API layer
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (SHELFSYNC_ prefix), config file,
// built-in defaults. Required settings:
//
//   - SHELFSYNC_BITABLE_APP_ID / APP_SECRET: Feishu app credentials
//   - SHELFSYNC_BITABLE_APP_TOKEN / TABLE_ID: destination table
//
// Optional:
//
//   - SHELFSYNC_DOUBAN_COOKIE: session cookie for non-public lists
//   - SHELFSYNC_CONTRACT_MODE: strict (fail fast) or soft (default)
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server stops
// accepting connections, running jobs stop at their next item boundary and
// are recorded as failed-interrupted on the next start if the process
// exits before they finish.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/shelfsync/internal/api"
	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/events"
	"github.com/tomtom215/shelfsync/internal/feishu"
	"github.com/tomtom215/shelfsync/internal/jobs"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/supervisor"
	"github.com/tomtom215/shelfsync/internal/supervisor/services"
	ws "github.com/tomtom215/shelfsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("contract_mode", cfg.Contract.Mode).
		Str("store_path", cfg.Jobs.StorePath).
		Int("workers", cfg.Jobs.Workers).
		Msg("Starting Shelfsync")

	failLog, err := contract.NewFailureLog(cfg.Contract.FailureLogDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open contract failure log")
	}
	defer func() {
		if err := failLog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing contract failure log")
		}
	}()

	validator := contract.NewValidator(cfg.Contract.Strict(), failLog)
	bitable := feishu.NewCircuitBreakerClient(&cfg.Bitable, validator)

	store, err := jobs.OpenStore(cfg.Jobs.StorePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open job store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing job store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := store.RecoverInterrupted(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to recover interrupted jobs")
	} else if n > 0 {
		logging.Warn().Int("jobs", n).Msg("Marked interrupted jobs as failed")
	}

	bus := events.NewBus(256)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing progress bus")
		}
	}()

	hub := ws.NewHub(bus)
	runner := jobs.NewRunner(&cfg.Douban, bitable, store, bus)
	manager := jobs.NewManager(store, runner, cfg.Jobs.QueueSize)

	handler := api.NewHandler(manager, validator, hub)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, &cfg.Server),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: 10 * time.Second,
	})
	tree.AddPipelineService(services.NewHubService(hub))
	tree.AddPipelineService(services.NewWorkersService(manager, cfg.Jobs.Workers))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("Shelfsync stopped gracefully")
}
