package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/runlog/internal/store"
)

// AssertionContext carries what assertions need to inspect final state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes expected and actual outcomes to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns failure messages.
// An empty slice means all assertions passed.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRunState:
			err = assertRunState(actx, a)
		case AssertRunCount:
			err = assertRunCount(actx, a)
		case AssertEventCount:
			err = assertEventCount(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertRunState fetches a run by event_id and verifies expected fields.
// Subset match: only fields named in the assertion are compared.
func assertRunState(actx *AssertionContext, a Assertion) error {
	r, err := actx.Store.GetRun(actx.Ctx, a.EventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AssertionError{
				Type:     AssertRunState,
				Expected: fmt.Sprintf("run %s present", a.EventID),
				Actual:   "not found",
			}
		}
		return err
	}

	// Compare through the wire format so scenario field names and value
	// shapes match what the API returns.
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var actual map[string]any
	if err := json.Unmarshal(b, &actual); err != nil {
		return err
	}

	for field, want := range a.Expect {
		got, ok := actual[field]
		if !ok {
			return &AssertionError{
				Type:     AssertRunState,
				Expected: fmt.Sprintf("%s.%s = %v", a.EventID, field, want),
				Actual:   "field absent",
			}
		}
		if !jsonEqual(want, got) {
			return &AssertionError{
				Type:     AssertRunState,
				Expected: fmt.Sprintf("%s.%s = %v", a.EventID, field, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// assertRunCount counts runs matching the agent/status filters.
func assertRunCount(actx *AssertionContext, a Assertion) error {
	f := store.ListFilter{AgentName: a.Agent, Status: a.Status}
	rows, err := actx.Store.ListRuns(actx.Ctx, f, store.ListPage{Limit: a.Count + 1})
	if err != nil {
		return err
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertRunCount,
			Expected: fmt.Sprintf("%d runs matching agent=%q status=%q", a.Count, a.Agent, a.Status),
			Actual:   fmt.Sprintf("%d runs", len(rows)),
		}
	}
	return nil
}

// assertEventCount counts a run's sub-events.
func assertEventCount(actx *AssertionContext, a Assertion) error {
	events, err := actx.Store.ListRunEvents(actx.Ctx, a.RunID)
	if err != nil {
		return err
	}
	if len(events) != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d events for run %s", a.Count, a.RunID),
			Actual:   fmt.Sprintf("%d events", len(events)),
		}
	}
	return nil
}

// jsonEqual compares two values through JSON re-encoding, so a YAML int
// and a decoded float64 with the same value compare equal.
func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
