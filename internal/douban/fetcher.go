// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package douban

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
)

// maxBlockScanSize limits how much of a response body is scanned for block
// markers, preventing unbounded allocation on large pages.
const maxBlockScanSize = 512 * 1024 // 512KB

// blockMarkers are substrings of Douban's anti-bot interstitial pages.
// A match means the run is soft-blocked; retrying only worsens it.
var blockMarkers = []string{
	"sec.douban.com",
	"异常请求",
	"有异常请求从你的 IP 发出",
}

// Fetcher issues HTTP GET requests to Douban with an artificial delay
// before every request and bounded retry of transient failures.
//
// Delay policy: base + rand(0, jitter). Once the request counter crosses
// the configured slow-mode threshold within a run, both base and jitter
// escalate to protect long-running jobs from source-side throttling.
//
// Thread safety: a Fetcher is owned by exactly one job; the mutex only
// guards the counter against status polling.
type Fetcher struct {
	cfg    *config.DoubanConfig
	client *http.Client
	rng    *rand.Rand

	mu           sync.Mutex
	requestCount int
	slowMode     bool
}

// NewFetcher creates a fetcher with fresh delay state for one sync run.
func NewFetcher(cfg *config.DoubanConfig) *Fetcher {
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Keep redirects: Douban block pages redirect to
			// sec.douban.com, and the final URL is a block marker.
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RequestCount returns the number of requests issued so far in this run.
func (f *Fetcher) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requestCount
}

// nextDelay computes the pre-request delay and advances the counter.
func (f *Fetcher) nextDelay() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requestCount++
	if !f.slowMode && f.requestCount > f.cfg.SlowModeAfter {
		f.slowMode = true
		metrics.SlowModeActivations.Inc()
		logging.Info().
			Int("request_count", f.requestCount).
			Dur("slow_base_delay", f.cfg.SlowBaseDelay).
			Msg("Fetcher entering slow mode")
	}

	base, jitter := f.cfg.BaseDelay, f.cfg.Jitter
	if f.slowMode {
		base, jitter = f.cfg.SlowBaseDelay, f.cfg.SlowJitter
	}
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(f.rng.Int63n(int64(jitter)))
}

// Fetch retrieves one Douban page and parses it into a goquery document.
//
// Transient failures (timeout, 5xx) are retried in place with exponential
// backoff up to the configured attempt budget, then surfaced as a
// models.TransientError. A detected block page returns models.ErrBlocked
// immediately with no retry.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	delay := f.nextDelay()
	metrics.FetchDelaySeconds.Observe(delay.Seconds())

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt > 0 {
			metrics.FetchRetries.Inc()
			// 1s, 2s, 4s, ...
			backoff := f.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			logging.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("url", url).
				Msg("Retrying fetch after transient failure")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		doc, err := f.fetchOnce(ctx, url)
		if err == nil {
			metrics.FetchRequests.WithLabelValues("ok").Inc()
			return doc, nil
		}
		if !models.IsTransient(err) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.FetchRequests.WithLabelValues("blocked").Inc()
			return nil, err
		}
		metrics.FetchRequests.WithLabelValues("transient").Inc()
		lastErr = err
	}

	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}

// fetchOnce issues a single request and classifies the outcome.
func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	f.setBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.Transient("fetch", err)
	}
	defer resp.Body.Close()

	// A block usually ends on sec.douban.com after a redirect chain.
	if resp.Request != nil && strings.Contains(resp.Request.URL.Host, "sec.douban.com") {
		return nil, fmt.Errorf("redirected to %s: %w", resp.Request.URL.Host, models.ErrBlocked)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("HTTP 403: %w", models.ErrBlocked)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, models.Transient("fetch", fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, models.Transient("read body", err)
	}

	if isBlockPage(body) {
		return nil, fmt.Errorf("block page detected: %w", models.ErrBlocked)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// setBrowserHeaders applies a browser-like header set so list and subject
// pages render the same markup a desktop browser receives.
func (f *Fetcher) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Referer", f.cfg.BaseURL)
	if f.cfg.Cookie != "" {
		req.Header.Set("Cookie", f.cfg.Cookie)
	}
}

// isBlockPage scans the leading portion of a body for known block markers.
func isBlockPage(body []byte) bool {
	scan := body
	if len(scan) > maxBlockScanSize {
		scan = scan[:maxBlockScanSize]
	}
	text := string(scan)
	for _, marker := range blockMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
