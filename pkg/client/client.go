package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/roach88/runlog/internal/model"
)

// Defaults.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 200 * time.Millisecond
)

// ErrServerRejected marks a 4xx answer: the payload is wrong and retrying or
// buffering it would never succeed.
var ErrServerRejected = errors.New("server rejected record")

// ErrUnavailable marks a transport failure or 5xx answer: the record may be
// buffered and replayed later.
var ErrUnavailable = errors.New("server unavailable")

// ErrNotFound marks a 404 answer. For a PATCH this usually means the start
// record is still sitting in the failover buffer, so the patch is buffered
// behind it rather than dropped.
var ErrNotFound = errors.New("run not found on server")

// Config configures a Client.
type Config struct {
	// BaseURL of the ingestion service, e.g. "http://127.0.0.1:8787".
	BaseURL string

	// AgentName stamps every run this client starts.
	AgentName string

	// BufferDir holds the failover buffer. Empty disables buffering.
	BufferDir string

	// Strict makes reporting errors surface to the caller. The default is
	// fire-and-forget: telemetry must never break the workload it watches.
	Strict bool

	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration

	// BreakerTimeout is how long the circuit stays open after tripping.
	BreakerTimeout time.Duration

	HTTPClient *http.Client
	Logger     zerolog.Logger

	// DisableGitInfo skips git provenance detection.
	DisableGitInfo bool
}

// Client reports runs to the ingestion service. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker
	buffer  *buffer

	activeMu sync.Mutex
	active   map[string]struct{} // run_ids with a live handle in this process

	replayMu  sync.Mutex
	replaying bool
}

// New creates a Client. The buffer directory is created on demand. Options
// left at their zero value fall back to RUNLOG_* environment variables, then
// to built-in defaults.
func New(cfg Config) (*Client, error) {
	env, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg = cfg.mergeOver(env)

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if cfg.AgentName == "" {
		return nil, fmt.Errorf("client: agent name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		log:    cfg.Logger,
		active: make(map[string]struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "runlog-ingest",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("ingest circuit state change")
		},
	})

	if cfg.BufferDir != "" {
		buf, err := newBuffer(cfg.BufferDir, cfg.Logger)
		if err != nil {
			return nil, err
		}
		c.buffer = buf
	}
	return c, nil
}

// submitRun posts one run. Outcomes "created" and "duplicate" both succeed.
func (c *Client) submitRun(ctx context.Context, r *model.Run) error {
	return c.call(ctx, http.MethodPost, "/api/v1/runs", r)
}

// patchRun applies a partial update to the run with eventID.
func (c *Client) patchRun(ctx context.Context, eventID string, fields map[string]any) error {
	return c.call(ctx, http.MethodPatch, "/api/v1/runs/"+eventID, fields)
}

// appendEvent posts one run sub-event.
func (c *Client) appendEvent(ctx context.Context, ev *model.RunEvent) error {
	return c.call(ctx, http.MethodPost, "/api/v1/runs/"+ev.RunID+"/events", ev)
}

// reserveRunID claims runID for a new handle. run_id is deliberately not
// unique on the server (retries and continuations of one logical run share
// it); only a collision with another live handle in this process gets a
// fresh suffixed id, so two concurrent executions never interleave under
// one run_id.
func (c *Client) reserveRunID(runID string) string {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()

	if _, busy := c.active[runID]; busy {
		suffixed := fmt.Sprintf("%s-duplicate-%s", runID, uuid.NewString()[:8])
		c.log.Warn().Str("run_id", runID).Str("suffixed", suffixed).
			Msg("run_id already active in this client, suffixing")
		runID = suffixed
	}
	c.active[runID] = struct{}{}
	return runID
}

// releaseRunID frees runID once its handle is finalized.
func (c *Client) releaseRunID(runID string) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	delete(c.active, runID)
}

// call sends one JSON request through the circuit breaker with retries.
// 4xx answers are terminal; transport errors and 5xx retry with jittered
// exponential backoff.
func (c *Client) call(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrServerRejected, err)
	}

	backoff := c.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.doOnce(ctx, method, path, payload)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrServerRejected) || errors.Is(err, ErrNotFound) {
			return err
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Breaker is shedding; no point hammering it.
			break
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		// rand's top-level source is locked, so concurrent retries may
		// share it safely.
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrServerRejected, resp.StatusCode)
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// report runs op; on unavailability the fallback record is buffered. In
// strict mode errors return to the caller, otherwise they are logged and
// swallowed.
func (c *Client) report(ctx context.Context, op func() error, entry *bufferEntry) error {
	err := op()
	if err == nil {
		// The server is reachable; drain anything buffered earlier.
		c.replayAsync()
		return nil
	}

	if errors.Is(err, ErrServerRejected) {
		c.log.Error().Err(err).Msg("record rejected, dropping")
	} else if c.buffer != nil && entry != nil {
		if bufErr := c.buffer.append(entry); bufErr != nil {
			c.log.Error().Err(bufErr).Msg("buffer write failed, record lost")
			err = errors.Join(err, bufErr)
		} else {
			c.log.Warn().Err(err).Str("kind", entry.Kind).Msg("server unreachable, record buffered")
			if !c.cfg.Strict {
				return nil
			}
		}
	} else {
		c.log.Error().Err(err).Msg("report failed")
	}

	if c.cfg.Strict {
		return err
	}
	return nil
}
