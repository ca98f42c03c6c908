// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package services

import (
	"context"
)

// ContextHub matches the progress hub's Run method.
type ContextHub interface {
	Run(ctx context.Context) error
}

// HubService supervises the WebSocket progress hub.
type HubService struct {
	hub ContextHub
}

// NewHubService wraps a hub for supervision.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service by delegating to the hub's run loop,
// which returns when the context is cancelled.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// String identifies the service in supervisor logs.
func (s *HubService) String() string {
	return "progress-hub"
}
