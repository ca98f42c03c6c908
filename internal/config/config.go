// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package config defines the Shelfsync configuration model and its koanf
// based loader. Configuration is an explicit struct passed into
// constructors at startup; there is no process-wide mutable configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the Shelfsync service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Douban   DoubanConfig   `koanf:"douban"`
	Bitable  BitableConfig  `koanf:"bitable"`
	Contract ContractConfig `koanf:"contract"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP job control surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DoubanConfig configures the source fetcher.
type DoubanConfig struct {
	BaseURL string `koanf:"base_url"`
	// BookBaseURL overrides BaseURL for book subjects (book.douban.com
	// vs movie.douban.com).
	BookBaseURL string `koanf:"book_base_url"`
	UserAgent   string `koanf:"user_agent"`
	// Cookie is an optional raw Cookie header for lists that require a
	// logged-in session.
	Cookie  string        `koanf:"cookie"`
	Timeout time.Duration `koanf:"timeout"`

	// Delay policy: every request waits BaseDelay + rand(0, Jitter).
	// Once SlowModeAfter requests have been issued within one run, the
	// policy escalates to SlowBaseDelay + rand(0, SlowJitter).
	BaseDelay     time.Duration `koanf:"base_delay"`
	Jitter        time.Duration `koanf:"jitter"`
	SlowModeAfter int           `koanf:"slow_mode_after"`
	SlowBaseDelay time.Duration `koanf:"slow_base_delay"`
	SlowJitter    time.Duration `koanf:"slow_jitter"`

	// RetryAttempts bounds in-place retries of transient failures.
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// BitableConfig configures the destination Bitable API client.
type BitableConfig struct {
	BaseURL   string `koanf:"base_url"`
	AppID     string `koanf:"app_id"`
	AppSecret string `koanf:"app_secret"`
	AppToken  string `koanf:"app_token"`
	TableID   string `koanf:"table_id"`

	Timeout time.Duration `koanf:"timeout"`
	// QPS is the client-side token bucket rate toward the Bitable API.
	QPS float64 `koanf:"qps"`
}

// ContractConfig configures destination response validation.
type ContractConfig struct {
	// Mode is "strict" (fail fast, non-production) or "soft" (log and
	// pass through, production).
	Mode string `koanf:"mode"`
	// FailureLogDir holds the day-partitioned contract failure logs.
	FailureLogDir string `koanf:"failure_log_dir"`
}

// Strict reports whether contract validation runs in strict mode.
func (c *ContractConfig) Strict() bool {
	return strings.EqualFold(c.Mode, "strict")
}

// JobsConfig configures the job queue and store.
type JobsConfig struct {
	// StorePath is the badger directory for durable job state.
	StorePath string `koanf:"store_path"`
	// QueueSize bounds the number of queued jobs awaiting a worker.
	QueueSize int `koanf:"queue_size"`
	// Workers is the number of concurrent job workers. Items within one
	// job are always sequential; this only controls distinct jobs.
	Workers int `koanf:"workers"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks invariants that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Bitable.AppID == "" || c.Bitable.AppSecret == "" {
		return fmt.Errorf("bitable.app_id and bitable.app_secret are required")
	}
	if c.Bitable.AppToken == "" || c.Bitable.TableID == "" {
		return fmt.Errorf("bitable.app_token and bitable.table_id are required")
	}
	if mode := strings.ToLower(c.Contract.Mode); mode != "strict" && mode != "soft" {
		return fmt.Errorf("contract.mode must be strict or soft, got %q", c.Contract.Mode)
	}
	if c.Douban.SlowModeAfter <= 0 {
		return fmt.Errorf("douban.slow_mode_after must be positive")
	}
	if c.Douban.SlowBaseDelay < c.Douban.BaseDelay {
		return fmt.Errorf("douban.slow_base_delay must not be below douban.base_delay")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive")
	}
	return nil
}
