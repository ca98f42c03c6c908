// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
client.go - Core Bitable API Client

This file provides the core Client struct and HTTP communication layer for
the Feishu Bitable REST API.

Client Features:
  - Tenant access token auth, cached until 5 minutes before expiry
  - Client-side token bucket rate limiting (Bitable per-tenant QPS)
  - Automatic HTTP 429 retry with exponential backoff
  - Contract validation of every response before decoding
  - Context support for cancellation and timeouts

Related Files:
  - fields.go: table schema introspection and field creation
  - records.go: record create and existing-row scans
  - breaker.go: circuit breaker wrapper
*/

//nolint:staticcheck // File documentation, not package doc
package feishu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
)

// tokenRefreshMargin refreshes the tenant token this long before expiry.
const tokenRefreshMargin = 5 * time.Minute

// maxRetries bounds 429/5xx retries per request.
const maxRetries = 5

// Client talks to the Bitable REST API for one configured table.
//
// Thread safety: safe for concurrent use; the token cache is guarded and
// the rate limiter is shared across callers so concurrent jobs cannot
// exceed the tenant QPS together.
type Client struct {
	cfg       *config.BitableConfig
	client    *http.Client
	validator *contract.Validator
	limiter   *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Bitable client. Every response passes through the
// given contract validator before it is decoded.
func NewClient(cfg *config.BitableConfig, validator *contract.Validator) *Client {
	qps := cfg.QPS
	if qps <= 0 {
		qps = 4
	}
	return &Client{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		validator: validator,
		limiter:   rate.NewLimiter(rate.Limit(qps), 1),
	}
}

// tablePath builds the Bitable table resource path for a subresource.
func (c *Client) tablePath(resource string) string {
	return fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/%s",
		c.cfg.AppToken, c.cfg.TableID, resource)
}

// ensureToken returns a tenant access token, refreshing it when it is
// within the refresh margin of expiry. Refresh is single-flight under the
// client mutex.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > tokenRefreshMargin {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	raw, err := c.doRaw(ctx, http.MethodPost, "/open-apis/auth/v3/tenant_access_token/internal", body, "")
	if err != nil {
		return "", fmt.Errorf("tenant token request: %w", err)
	}

	raw, err = c.validator.Validate(raw, contract.EndpointTenantToken)
	if err != nil {
		return "", err
	}

	var resp struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int64  `json:"expire"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("tenant token refused: code %d: %s", resp.Code, resp.Msg)
	}

	c.token = resp.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(resp.Expire) * time.Second)
	return c.token, nil
}

// doRequest executes an authenticated API call: rate limit, auth, retry,
// contract validation, envelope check, then decode into result.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any, endpointID string, result any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal %s payload: %w", endpointID, err)
		}
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		metrics.BitableRequests.WithLabelValues(endpointID, "auth_error").Inc()
		return err
	}

	raw, err := c.doRaw(ctx, method, path, body, token)
	if err != nil {
		metrics.BitableRequests.WithLabelValues(endpointID, "error").Inc()
		return err
	}

	raw, err = c.validator.Validate(raw, endpointID)
	if err != nil {
		metrics.BitableRequests.WithLabelValues(endpointID, "contract_mismatch").Inc()
		return err
	}

	var env struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", endpointID, err)
	}
	if env.Code != 0 {
		metrics.BitableRequests.WithLabelValues(endpointID, "api_error").Inc()
		return fmt.Errorf("%s refused: code %d: %s", endpointID, env.Code, env.Msg)
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode %s response: %w", endpointID, err)
		}
	}

	metrics.BitableRequests.WithLabelValues(endpointID, "ok").Inc()
	return nil
}

// doRaw performs one HTTP exchange with rate limiting and bounded retry of
// HTTP 429 and 5xx responses (exponential backoff: 1s, 2s, 4s, 8s, 16s).
func (c *Client) doRaw(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	reqURL := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader = http.NoBody
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = models.Transient("bitable request", err)
		} else {
			raw, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			switch {
			case readErr != nil:
				lastErr = models.Transient("read response", readErr)
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = models.Transient("bitable request", fmt.Errorf("HTTP %d", resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
			default:
				return raw, nil
			}
		}

		if attempt == maxRetries {
			break
		}
		delay := time.Second * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
