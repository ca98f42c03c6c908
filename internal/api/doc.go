// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package api exposes the job management HTTP surface.

Endpoints:

	POST   /api/v1/jobs          submit a sync job
	GET    /api/v1/jobs          list jobs, newest first
	GET    /api/v1/jobs/{jobID}  one job's state and counters
	DELETE /api/v1/jobs/{jobID}  request cooperative cancellation
	GET    /api/v1/health        liveness plus contract validator stats
	GET    /ws/progress          WebSocket stream of per-item progress
	GET    /metrics              Prometheus exposition

All JSON endpoints share the APIResponse envelope with a request id echoed
in the meta block for log correlation.
*/
package api
