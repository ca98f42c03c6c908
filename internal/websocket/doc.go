// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package websocket streams job progress to connected clients in real time.

The package uses gorilla/websocket with a hub-client architecture: the Hub
subscribes to the in-process progress bus and fans each event out to every
connected client. A client that cannot keep up is disconnected rather than
allowed to back-pressure the hub.

Key Components:

  - Hub: consumes the progress bus and broadcasts to clients
  - Client: one WebSocket connection with read/write goroutines
  - Message: typed frame ({"type": ..., "data": ...})

Message Types:

  - progress: one item processed, or a job reaching a terminal state.
    Data is the full progress event including running counters.
  - ping/pong: application-level keepalive initiated by the client.

Usage:

	bus := events.NewBus(256)
	hub := websocket.NewHub(bus)
	go hub.Run(ctx)

	r.Get("/ws/progress", func(w http.ResponseWriter, r *http.Request) {
	    websocket.ServeWS(hub, w, r)
	})

Connection Lifecycle:

 1. Client connects via HTTP upgrade on /ws/progress
 2. Hub registers the client
 3. Client receives every subsequent progress event
 4. Client disconnects (close, network error, or slow consumer eviction)
 5. Hub unregisters the client and closes its queue

Thread Safety:

The Hub guards its client map with a mutex; each client runs separate read
and write goroutines coordinated over channels.
*/
package websocket
