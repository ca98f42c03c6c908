// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package douban fetches and parses Douban interest lists and subject pages.
//
// The package has two halves:
//
//   - Fetcher: a rate-limited HTTP client with a randomized, escalating
//     delay policy ("slow mode"), browser-like headers, soft-block
//     detection and bounded retry of transient failures. One Fetcher is
//     created per sync run and its state (request counter, delay
//     schedule) is never shared across runs.
//
//   - Parser: converts one fetched HTML document into a canonical record
//     using an ordered chain of extraction strategies per attribute.
//     Douban markup is inconsistent across item vintages, so no single
//     selector is reliable; each attribute tries a structured microdata
//     property first, then a labeled text node, then a regex over the raw
//     info block, and takes the first non-empty result.
//
// Parsing never fails on a missing attribute; it fails only when the
// mandatory subject ID cannot be resolved, and that failure is scoped to
// the item, not the run.
package douban
