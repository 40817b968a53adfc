package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/runlog/internal/metrics"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

// patchKind describes how a patch field decodes into a column value.
type patchKind int

const (
	patchString patchKind = iota
	patchNullString
	patchInt
	patchTime
	patchNullTime
)

// patchFields maps patchable JSON fields to their decode rules. Field names
// equal column names; the store's whitelist is the second line of defense.
var patchFields = map[string]patchKind{
	"agent_name":   patchString,
	"job_type":     patchString,
	"trigger_type": patchString,
	"status":       patchString,

	"start_time": patchTime,
	"end_time":   patchNullTime,

	"duration_ms":      patchInt,
	"items_discovered": patchInt,
	"items_succeeded":  patchInt,
	"items_failed":     patchInt,
	"schema_version":   patchInt,

	"input_summary":  patchString,
	"output_summary": patchString,
	"error_summary":  patchString,
	"error_details":  patchString,
	"metrics_json":   patchString,
	"context_json":   patchString,

	"product":         patchNullString,
	"platform":        patchNullString,
	"product_family":  patchNullString,
	"website":         patchNullString,
	"website_section": patchNullString,
	"item_name":       patchNullString,
	"insight_id":      patchNullString,

	"git_repo":             patchNullString,
	"git_branch":           patchNullString,
	"git_run_tag":          patchNullString,
	"git_commit_hash":      patchNullString,
	"git_commit_author":    patchNullString,
	"git_commit_timestamp": patchNullTime,
	"git_commit_source":    patchNullString,
}

// Patch applies a partial update to the run with eventID. Semantics are
// presence-based: absent fields are untouched, JSON null clears a nullable
// column, a value replaces. When end_time lands and the patch carries no
// duration_ms, the duration is derived from the stored start_time.
//
// On success the second return lists the columns written, sorted, including
// any derived duration_ms.
func (e *Engine) Patch(ctx context.Context, eventID string, raw map[string]json.RawMessage) (Outcome, []string, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return "", nil, err
	}
	defer release()

	current, err := e.store.GetRun(ctx, eventID)
	if err != nil {
		return "", nil, err
	}

	fields, err := decodePatch(raw)
	if err != nil {
		return "", nil, err
	}
	if err := validatePatch(current, fields); err != nil {
		return "", nil, err
	}
	derivePatchDuration(current, fields)

	start := time.Now()
	var found bool
	err = e.withBusyRetry(ctx, func() error {
		var opErr error
		found, opErr = e.store.UpdateRun(ctx, eventID, fields, e.now())
		return opErr
	})
	if err != nil {
		metrics.IngestTotal.WithLabelValues("patch", "error").Inc()
		return "", nil, err
	}
	if !found {
		// Row deleted between read and write; treat as not found.
		return "", nil, store.ErrNotFound
	}
	updated := make([]string, 0, len(fields))
	for name := range fields {
		updated = append(updated, name)
	}
	sort.Strings(updated)
	metrics.IngestDuration.WithLabelValues("patch").Observe(time.Since(start).Seconds())
	metrics.IngestTotal.WithLabelValues("patch", string(OutcomeUpdated)).Inc()
	e.log.Debug().Str("event_id", eventID).Strs("fields", updated).Msg("run patched")
	return OutcomeUpdated, updated, nil
}

// decodePatch turns raw JSON fields into typed column values.
func decodePatch(raw map[string]json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, &model.ValidationError{Reason: "empty patch"}
	}

	fields := make(map[string]any, len(raw))
	for name, value := range raw {
		kind, ok := patchFields[name]
		if !ok {
			return nil, &model.ValidationError{Field: name, Reason: "not patchable"}
		}

		if isNull(value) {
			switch kind {
			case patchNullString, patchNullTime:
				fields[name] = nil
				continue
			default:
				return nil, &model.ValidationError{Field: name, Reason: "cannot be null"}
			}
		}

		switch kind {
		case patchString, patchNullString:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, &model.ValidationError{Field: name, Reason: "expected string"}
			}
			fields[name] = s
		case patchInt:
			var n int64
			if err := json.Unmarshal(value, &n); err != nil {
				return nil, &model.ValidationError{Field: name, Reason: "expected integer"}
			}
			fields[name] = n
		case patchTime, patchNullTime:
			var t time.Time
			if err := json.Unmarshal(value, &t); err != nil {
				return nil, &model.ValidationError{Field: name, Reason: "expected RFC 3339 timestamp"}
			}
			fields[name] = model.NormalizeTime(t)
		}
	}
	return fields, nil
}

// validatePatch folds enums and checks bounds against the same rules inserts
// obey, using the stored row for cross-field checks.
func validatePatch(current *model.Run, fields map[string]any) error {
	if v, ok := fields["status"].(string); ok {
		status, err := model.CanonicalStatus(v)
		if err != nil {
			return &model.ValidationError{Field: "status", Reason: err.Error()}
		}
		fields["status"] = status
	}

	if v, ok := fields["git_commit_source"].(string); ok {
		if !model.ValidGitCommitSource(v) {
			return &model.ValidationError{Field: "git_commit_source", Reason: "must be manual, llm, or ci"}
		}
	}

	for _, name := range []string{"duration_ms", "items_discovered", "items_succeeded", "items_failed"} {
		if v, ok := fields[name].(int64); ok && v < 0 {
			return &model.ValidationError{Field: name, Reason: "negative"}
		}
	}

	bounds := map[string]int{
		"input_summary":  model.MaxSummaryLen,
		"output_summary": model.MaxSummaryLen,
		"error_summary":  model.MaxSummaryLen,
		"error_details":  model.MaxErrorDetailsLen,
	}
	for name, max := range bounds {
		if v, ok := fields[name].(string); ok && len(v) > max {
			return &model.ValidationError{Field: name, Reason: fmt.Sprintf("exceeds %d bytes", max)}
		}
	}

	for _, name := range []string{"metrics_json", "context_json"} {
		v, ok := fields[name].(string)
		if !ok || v == "" {
			continue
		}
		if len(v) > model.MaxJSONPayloadLen {
			return &model.ValidationError{Field: name, Reason: fmt.Sprintf("exceeds %d bytes", model.MaxJSONPayloadLen)}
		}
		if !json.Valid([]byte(v)) {
			return &model.ValidationError{Field: name, Reason: "not valid JSON"}
		}
	}

	// end_time must not precede the effective start_time.
	start := current.StartTime
	if v, ok := fields["start_time"].(time.Time); ok {
		start = v
	}
	if v, ok := fields["end_time"].(time.Time); ok && v.Before(start) {
		return &model.ValidationError{Field: "end_time", Reason: "precedes start_time"}
	}

	return nil
}

// derivePatchDuration fills duration_ms when the patch closes the run
// without supplying one.
func derivePatchDuration(current *model.Run, fields map[string]any) {
	if _, explicit := fields["duration_ms"]; explicit {
		return
	}
	end, ok := fields["end_time"].(time.Time)
	if !ok {
		return
	}
	start := current.StartTime
	if v, sok := fields["start_time"].(time.Time); sok {
		start = v
	}
	fields["duration_ms"] = model.DurationMS(start, end)
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
