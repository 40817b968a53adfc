package client

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ConfigFromEnv builds a Config from RUNLOG_* environment variables. New
// merges it under the caller's explicit fields, so precedence is explicit
// argument > environment > built-in default.
//
// Recognized variables:
//
//	RUNLOG_API_URL           ingestion service base URL
//	RUNLOG_AGENT_NAME        agent name stamped on every run
//	RUNLOG_BUFFER_DIR        failover buffer directory
//	RUNLOG_STRICT            surface reporting errors to the caller
//	RUNLOG_MAX_RETRIES       submit attempts per call
//	RUNLOG_RETRY_BASE_DELAY  first backoff delay (seconds or Go duration)
//	RUNLOG_CONNECT_TIMEOUT   per-call HTTP timeout (seconds or Go duration)
func ConfigFromEnv() (Config, error) {
	var cfg Config
	cfg.BaseURL = os.Getenv("RUNLOG_API_URL")
	cfg.AgentName = os.Getenv("RUNLOG_AGENT_NAME")
	cfg.BufferDir = os.Getenv("RUNLOG_BUFFER_DIR")

	if v, ok := os.LookupEnv("RUNLOG_STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("client: RUNLOG_STRICT: %w", err)
		}
		cfg.Strict = b
	}
	if v, ok := os.LookupEnv("RUNLOG_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("client: RUNLOG_MAX_RETRIES: must be a positive integer, got %q", v)
		}
		cfg.MaxRetries = n
	}

	var err error
	if cfg.Backoff, err = envDuration("RUNLOG_RETRY_BASE_DELAY"); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = envDuration("RUNLOG_CONNECT_TIMEOUT"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envDuration reads key as either a bare number of seconds ("0.5", "30") or
// a Go duration string ("200ms").
func envDuration(key string) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, nil
	}
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		if sec <= 0 {
			return 0, fmt.Errorf("client: %s: must be positive, got %q", key, v)
		}
		return time.Duration(sec * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("client: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("client: %s: must be positive, got %q", key, v)
	}
	return d, nil
}

// mergeOver fills c's zero-valued fields from fallback.
func (c Config) mergeOver(fallback Config) Config {
	if c.BaseURL == "" {
		c.BaseURL = fallback.BaseURL
	}
	if c.AgentName == "" {
		c.AgentName = fallback.AgentName
	}
	if c.BufferDir == "" {
		c.BufferDir = fallback.BufferDir
	}
	if !c.Strict {
		c.Strict = fallback.Strict
	}
	if c.Timeout == 0 {
		c.Timeout = fallback.Timeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = fallback.MaxRetries
	}
	if c.Backoff == 0 {
		c.Backoff = fallback.Backoff
	}
	return c
}
