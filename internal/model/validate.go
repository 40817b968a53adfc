package model

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. validator.Validate is
// goroutine-safe and caches struct metadata, so one instance serves the
// whole process.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError wraps a record-level validation failure. The server maps
// it to 400 and the write engine classifies it as non-retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks a canonicalized Run against the structural rules the store
// relies on. Call after Canonicalize; it does not mutate the record.
func (r *Run) Validate() error {
	if err := validate.Struct(r); err != nil {
		return firstViolation(err)
	}

	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		return &ValidationError{Field: "end_time", Reason: "precedes start_time"}
	}
	if r.DurationMS < 0 {
		return &ValidationError{Field: "duration_ms", Reason: "negative"}
	}

	if err := boundedField("input_summary", r.InputSummary, MaxSummaryLen); err != nil {
		return err
	}
	if err := boundedField("output_summary", r.OutputSummary, MaxSummaryLen); err != nil {
		return err
	}
	if err := boundedField("error_summary", r.ErrorSummary, MaxSummaryLen); err != nil {
		return err
	}
	if err := boundedField("error_details", r.ErrorDetails, MaxErrorDetailsLen); err != nil {
		return err
	}

	if err := jsonField("metrics_json", r.MetricsJSON); err != nil {
		return err
	}
	if err := jsonField("context_json", r.ContextJSON); err != nil {
		return err
	}

	if r.GitCommitSource != nil && !ValidGitCommitSource(*r.GitCommitSource) {
		return &ValidationError{Field: "git_commit_source", Reason: "must be manual, llm, or ci"}
	}

	return nil
}

// Validate checks a canonicalized RunEvent.
func (e *RunEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return firstViolation(err)
	}
	if err := boundedField("message", e.Message, MaxSummaryLen); err != nil {
		return err
	}
	return jsonField("metadata_json", e.MetadataJSON)
}

func boundedField(name, value string, max int) error {
	if len(value) > max {
		return &ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("exceeds %d bytes", max),
		}
	}
	return nil
}

// jsonField requires the value to be empty or a well-formed JSON document
// within the payload bound. Documents are stored opaquely; well-formedness
// is the only guarantee readers get.
func jsonField(name, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > MaxJSONPayloadLen {
		return &ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("exceeds %d bytes", MaxJSONPayloadLen),
		}
	}
	if !json.Valid([]byte(value)) {
		return &ValidationError{Field: name, Reason: "not valid JSON"}
	}
	return nil
}

// firstViolation converts a validator error into the first field-level
// ValidationError, keeping wire responses small and deterministic.
func firstViolation(err error) error {
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
		v := verrs[0]
		return &ValidationError{
			Field:  v.Field(),
			Reason: fmt.Sprintf("failed %q constraint", v.Tag()),
		}
	}
	return &ValidationError{Reason: err.Error()}
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
