package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/runlog/internal/model"
)

// StartOptions configures a new run. Zero values are filled with defaults.
type StartOptions struct {
	// RunID groups retries of the same logical run. Generated when empty.
	// When another handle in this client is still active under the same ID,
	// the ID is suffixed so two concurrent executions never interleave.
	RunID string

	JobType     string
	TriggerType string
	StartTime   time.Time

	InputSummary string

	Product        string
	Platform       string
	ProductFamily  string
	Website        string
	WebsiteSection string
	ItemName       string
	InsightID      string

	// Context carries arbitrary structured context, stored as JSON.
	Context map[string]any
}

// RunHandle tracks one in-flight run. Methods are safe for concurrent use.
type RunHandle struct {
	client *Client

	mu      sync.Mutex
	eventID string
	runID   string
	started time.Time
	ended   bool
	metrics map[string]any
	items   [3]int64 // discovered, succeeded, failed
}

// EventID returns the run's idempotency key.
func (h *RunHandle) EventID() string {
	return h.eventID
}

// RunID returns the run's (possibly suffixed) run_id.
func (h *RunHandle) RunID() string {
	return h.runID
}

// StartRun records the beginning of a run and returns its handle. In the
// default mode this never fails: an unreachable server buffers the record
// and the handle works normally.
func (c *Client) StartRun(ctx context.Context, opts StartOptions) (*RunHandle, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	runID = c.reserveRunID(runID)

	start := opts.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	run := &model.Run{
		EventID:      uuid.NewString(),
		RunID:        runID,
		AgentName:    c.cfg.AgentName,
		JobType:      opts.JobType,
		TriggerType:  opts.TriggerType,
		Status:       model.StatusRunning,
		StartTime:    start,
		InputSummary: opts.InputSummary,
	}
	setOptional(&run.Product, opts.Product)
	setOptional(&run.Platform, opts.Platform)
	setOptional(&run.ProductFamily, opts.ProductFamily)
	setOptional(&run.Website, opts.Website)
	setOptional(&run.WebsiteSection, opts.WebsiteSection)
	setOptional(&run.ItemName, opts.ItemName)
	setOptional(&run.InsightID, opts.InsightID)

	if len(opts.Context) > 0 {
		raw, err := json.Marshal(opts.Context)
		if err == nil {
			run.ContextJSON = string(raw)
		} else {
			c.log.Warn().Err(err).Msg("context not serializable, dropping")
		}
	}

	if !c.cfg.DisableGitInfo {
		applyGitInfo(run, detectGitInfo())
	}

	handle := &RunHandle{
		client:  c,
		eventID: run.EventID,
		runID:   run.RunID,
		started: start,
	}

	err := c.report(ctx, func() error {
		return c.submitRun(ctx, run)
	}, &bufferEntry{Kind: kindRun, Run: run})
	if err != nil {
		return handle, err
	}
	return handle, nil
}

// SetMetrics merges structured metrics into the run; they are flushed with
// EndRun.
func (h *RunHandle) SetMetrics(metrics map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.metrics == nil {
		h.metrics = make(map[string]any, len(metrics))
	}
	for k, v := range metrics {
		h.metrics[k] = v
	}
}

// SetItems records progress counters; they are flushed with EndRun.
func (h *RunHandle) SetItems(discovered, succeeded, failed int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = [3]int64{discovered, succeeded, failed}
}

// LogEvent appends a sub-event (checkpoint, progress note) to the run.
func (h *RunHandle) LogEvent(ctx context.Context, eventType, message string) error {
	ev := &model.RunEvent{
		RunID:     h.runID,
		EventType: eventType,
		Timestamp: time.Now(),
		Message:   message,
	}
	return h.client.report(ctx, func() error {
		return h.client.appendEvent(ctx, ev)
	}, &bufferEntry{Kind: kindEvent, Event: ev})
}

// EndOptions closes out a run.
type EndOptions struct {
	Status        string
	OutputSummary string
	ErrorSummary  string
	ErrorDetails  string
	EndTime       time.Time
}

// EndRun records the run's terminal state. Calling it twice is a no-op.
func (h *RunHandle) EndRun(ctx context.Context, opts EndOptions) error {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return nil
	}
	h.ended = true
	metrics := h.metrics
	items := h.items
	h.mu.Unlock()

	h.client.releaseRunID(h.runID)

	// If the start record is still in the failover buffer the patch below
	// would answer 404; drain the buffer first so it can land.
	if h.client.buffer != nil {
		if n, err := h.client.Buffered(); err == nil && n > 0 {
			if err := h.client.Replay(ctx); err != nil {
				h.client.log.Debug().Err(err).Msg("pre-finalize replay halted")
			}
		}
	}

	end := opts.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	status := opts.Status
	if status == "" {
		status = model.StatusSuccess
	}

	fields := map[string]any{
		"status":   status,
		"end_time": end.UTC().Format(time.RFC3339Nano),
	}
	if opts.OutputSummary != "" {
		fields["output_summary"] = opts.OutputSummary
	}
	if opts.ErrorSummary != "" {
		fields["error_summary"] = opts.ErrorSummary
	}
	if opts.ErrorDetails != "" {
		fields["error_details"] = opts.ErrorDetails
	}
	if items != [3]int64{} {
		fields["items_discovered"] = items[0]
		fields["items_succeeded"] = items[1]
		fields["items_failed"] = items[2]
	}
	if len(metrics) > 0 {
		raw, err := json.Marshal(metrics)
		if err == nil {
			fields["metrics_json"] = string(raw)
		} else {
			h.client.log.Warn().Err(err).Msg("metrics not serializable, dropping")
		}
	}

	return h.client.report(ctx, func() error {
		return h.client.patchRun(ctx, h.eventID, fields)
	}, &bufferEntry{Kind: kindPatch, EventID: h.eventID, Fields: fields})
}

// Track runs fn inside a recorded run. A panic ends the run as a failure
// and is re-raised; an error ends it as a failure; otherwise the run ends
// as a success.
func (c *Client) Track(ctx context.Context, opts StartOptions, fn func(ctx context.Context, h *RunHandle) error) error {
	h, err := c.StartRun(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = h.EndRun(ctx, EndOptions{
				Status:       model.StatusFailure,
				ErrorSummary: fmt.Sprintf("panic: %v", r),
			})
			panic(r)
		}
	}()

	if err := fn(ctx, h); err != nil {
		endErr := h.EndRun(ctx, EndOptions{
			Status:       model.StatusFailure,
			ErrorSummary: err.Error(),
		})
		if endErr != nil {
			c.log.Warn().Err(endErr).Msg("failed to record failure")
		}
		return err
	}
	return h.EndRun(ctx, EndOptions{Status: model.StatusSuccess})
}

func setOptional(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}
