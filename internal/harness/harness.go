package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/runlog/internal/engine"
	"github.com/roach88/runlog/internal/logging"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/testutil"
)

// Harness executes one scenario against a fresh store.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.Clock
	seq    int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh database for isolation. The engine's
// clock is deterministic, so repeated runs of the same scenario produce
// identical traces.
//
// Execution flow:
//  1. Create a fresh database and apply the schema
//  2. Insert setup runs (must succeed cleanly)
//  3. Execute steps, recording outcomes and validating expect clauses
//  4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "runs.db"), store.Options{Logger: logging.Nop()})
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	clock := testutil.NewClock(time.Time{}, time.Second)
	h := &Harness{
		store:  st,
		engine: engine.New(st, logging.Nop(), engine.WithClock(clock.Now)),
		clock:  clock,
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup inserts the setup runs. Setup establishes initial state and
// must succeed cleanly; a duplicate or invalid setup run is a scenario bug,
// not a test outcome.
func (h *Harness) executeSetup(ctx context.Context, setup []RunSpec) error {
	for i, spec := range setup {
		r, err := decodeRun(spec)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		outcome, err := h.engine.Insert(ctx, r)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if outcome != engine.OutcomeCreated {
			return fmt.Errorf("setup[%d]: expected clean insert, got %s", i, outcome)
		}
	}
	return nil
}

// executeSteps runs the main flow and validates expect clauses.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		h.seq++
		var ev TraceEvent
		var err error

		switch {
		case step.Insert != nil:
			ev, err = h.stepInsert(ctx, step.Insert)
		case step.Patch != nil:
			ev, err = h.stepPatch(ctx, step.Patch)
		case step.Event != nil:
			ev, err = h.stepEvent(ctx, step.Event)
		}
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}

		ev.Seq = h.seq
		result.AddTrace(ev)
		checkExpect(i, step.Expect, ev, result)
	}
	return nil
}

func (h *Harness) stepInsert(ctx context.Context, spec RunSpec) (TraceEvent, error) {
	ev := TraceEvent{Op: "insert"}

	r, err := decodeRun(spec)
	if err != nil {
		ev.Outcome = "invalid"
		ev.Error = err.Error()
		return ev, nil
	}
	ev.EventID = r.EventID

	outcome, err := h.engine.Insert(ctx, r)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			ev.Outcome = "invalid"
			ev.Error = verr.Error()
			return ev, nil
		}
		return ev, err
	}
	ev.Outcome = string(outcome)
	return ev, nil
}

func (h *Harness) stepPatch(ctx context.Context, patch *PatchStep) (TraceEvent, error) {
	ev := TraceEvent{Op: "patch", EventID: patch.EventID}

	raw := make(map[string]json.RawMessage, len(patch.Fields))
	for k, v := range patch.Fields {
		b, err := json.Marshal(v)
		if err != nil {
			return ev, fmt.Errorf("field %q: %w", k, err)
		}
		raw[k] = b
	}

	outcome, _, err := h.engine.Patch(ctx, patch.EventID, raw)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			ev.Outcome = "not_found"
			ev.Error = err.Error()
		default:
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				ev.Outcome = "invalid"
				ev.Error = verr.Error()
			} else {
				return ev, err
			}
		}
		return ev, nil
	}
	ev.Outcome = string(outcome)
	return ev, nil
}

func (h *Harness) stepEvent(ctx context.Context, spec map[string]any) (TraceEvent, error) {
	ev := TraceEvent{Op: "event"}

	re, err := decodeRunEvent(spec)
	if err != nil {
		ev.Outcome = "invalid"
		ev.Error = err.Error()
		return ev, nil
	}
	ev.RunID = re.RunID

	if err := h.engine.AppendEvent(ctx, re); err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			ev.Outcome = "invalid"
			ev.Error = verr.Error()
			return ev, nil
		}
		return ev, err
	}
	ev.Outcome = "created"
	return ev, nil
}

// checkExpect validates a step's outcome against its expect clause.
func checkExpect(index int, expect *ExpectClause, ev TraceEvent, result *Result) {
	if expect == nil {
		if ev.Outcome == "invalid" {
			result.AddError(fmt.Sprintf(
				"steps[%d]: unexpected validation failure: %s", index, ev.Error))
		}
		return
	}
	if ev.Outcome != expect.Outcome {
		result.AddError(fmt.Sprintf(
			"steps[%d]: expected outcome %s, got %s (%s)", index, expect.Outcome, ev.Outcome, ev.Error))
		return
	}
	if expect.Error != "" && !strings.Contains(ev.Error, expect.Error) {
		result.AddError(fmt.Sprintf(
			"steps[%d]: expected error containing %q, got %q", index, expect.Error, ev.Error))
	}
}

// decodeRun converts loose YAML fields into a run record via the wire
// format, so scenarios use the same field names as the HTTP API.
func decodeRun(spec RunSpec) (*model.Run, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode run spec: %w", err)
	}
	var r model.Run
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode run spec: %w", err)
	}
	return &r, nil
}

func decodeRunEvent(spec map[string]any) (*model.RunEvent, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode event spec: %w", err)
	}
	var e model.RunEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode event spec: %w", err)
	}
	return &e, nil
}
