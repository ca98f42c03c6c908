// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package middleware provides HTTP middleware shared by the API router:
// request id propagation for log correlation and Prometheus request
// instrumentation. Rate limiting is handled in the router itself via
// go-chi/httprate.
package middleware
