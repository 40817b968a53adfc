package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios exercise the write path end to end and assert on outcomes and
// final store state.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup contains runs inserted before the main steps to establish
	// initial state. Setup inserts must succeed cleanly.
	Setup []RunSpec `yaml:"setup,omitempty"`

	// Steps contains the main flow: writes with expected outcomes.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store state.
	// Supported types: run_state, run_count, event_count.
	Assertions []Assertion `yaml:"assertions"`
}

// RunSpec is a run record expressed as loose YAML fields. Field names match
// the wire format (agent_name, start_time, ...).
type RunSpec map[string]any

// Step is one write in the main flow. Exactly one of Insert, Patch, or
// Event must be set.
type Step struct {
	// Insert submits a run record.
	Insert RunSpec `yaml:"insert,omitempty"`

	// Patch updates an existing run by event_id.
	Patch *PatchStep `yaml:"patch,omitempty"`

	// Event appends a run sub-event.
	Event map[string]any `yaml:"event,omitempty"`

	// Expect specifies the expected outcome. If nil, the step must simply
	// not fail.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// PatchStep targets a stored run and carries the fields to change.
type PatchStep struct {
	EventID string         `yaml:"event_id"`
	Fields  map[string]any `yaml:"fields"`
}

// ExpectClause specifies the expected write outcome.
type ExpectClause struct {
	// Outcome is one of: created, duplicate, updated, invalid, not_found.
	Outcome string `yaml:"outcome"`

	// Error, when set, must be a substring of the reported error.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates final store state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "run_state": fetch a run by event_id and verify expected fields
	// - "run_count": count runs matching agent/status filters
	// - "event_count": count sub-events attached to a run
	Type string `yaml:"type"`

	// EventID targets a stored run (run_state).
	EventID string `yaml:"event_id,omitempty"`

	// Expect contains expected field values (run_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Agent and Status filter the count (run_count).
	Agent  string `yaml:"agent,omitempty"`
	Status string `yaml:"status,omitempty"`

	// RunID targets a run's sub-events (event_count).
	RunID string `yaml:"run_id,omitempty"`

	// Count is the expected number of rows (run_count, event_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRunState   = "run_state"
	AssertRunCount   = "run_count"
	AssertEventCount = "event_count"
)

// validOutcomes lists the outcome names a step may expect.
var validOutcomes = map[string]bool{
	"created":   true,
	"duplicate": true,
	"updated":   true,
	"invalid":   true,
	"not_found": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, spec := range s.Setup {
		if len(spec) == 0 {
			return fmt.Errorf("setup[%d]: run fields are required", i)
		}
	}

	for i, step := range s.Steps {
		set := 0
		if step.Insert != nil {
			set++
		}
		if step.Patch != nil {
			set++
		}
		if step.Event != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of insert, patch, event is required", i)
		}
		if step.Patch != nil {
			if step.Patch.EventID == "" {
				return fmt.Errorf("steps[%d].patch: event_id is required", i)
			}
			if len(step.Patch.Fields) == 0 {
				return fmt.Errorf("steps[%d].patch: fields is required", i)
			}
		}
		if step.Expect != nil && !validOutcomes[step.Expect.Outcome] {
			return fmt.Errorf("steps[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRunState:
		if a.EventID == "" {
			return fmt.Errorf("assertions[%d]: event_id is required for run_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for run_state", index)
		}
	case AssertRunCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for run_count", index)
		}
	case AssertEventCount:
		if a.RunID == "" {
			return fmt.Errorf("assertions[%d]: run_id is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
