// Package query wraps the store's read side: filter normalization, opaque
// pagination cursors, and the rollups behind the dashboard endpoints.
package query

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

// MaxPageSize caps the page size a caller may request.
const MaxPageSize = 500

// DefaultPageSize applies when the caller asks for nothing.
const DefaultPageSize = 50

// Engine serves reads. All methods are safe for concurrent use; reads go
// through the store's pooled read-only connections and never touch the
// writer.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
}

// New creates a query engine over the store.
func New(s *store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// Page is one page of runs plus the cursor for the next one. NextCursor is
// empty when the listing is exhausted.
type Page struct {
	Items      []model.Run `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// Get returns a single run by event_id.
func (e *Engine) Get(ctx context.Context, eventID string) (*model.Run, error) {
	return e.store.GetRun(ctx, eventID)
}

// List returns one page of runs. The filter's status may be any accepted
// alias; it is folded to canonical form before it reaches SQL.
func (e *Engine) List(ctx context.Context, f store.ListFilter, limit int, cursorToken string) (*Page, error) {
	if f.Status != "" {
		status, err := model.CanonicalStatus(f.Status)
		if err != nil {
			return nil, &model.ValidationError{Field: "status", Reason: err.Error()}
		}
		f.Status = status
	}

	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	page := store.ListPage{Limit: limit}
	if cursorToken != "" {
		c, err := decodeCursor(cursorToken)
		if err != nil {
			return nil, err
		}
		page.AfterStartTime = &c.StartTime
		page.AfterEventID = c.EventID
	}

	runs, err := e.store.ListRuns(ctx, f, page)
	if err != nil {
		return nil, err
	}

	out := &Page{Items: runs}
	if len(runs) == limit {
		last := runs[len(runs)-1]
		out.NextCursor = encodeCursor(cursor{
			StartTime: last.StartTime,
			EventID:   last.EventID,
		})
	}
	return out, nil
}

// Aggregate groups matching runs by the given key.
func (e *Engine) Aggregate(ctx context.Context, groupBy string, f store.ListFilter) ([]store.AggregateRow, error) {
	if f.Status != "" {
		status, err := model.CanonicalStatus(f.Status)
		if err != nil {
			return nil, &model.ValidationError{Field: "status", Reason: err.Error()}
		}
		f.Status = status
	}

	known := false
	for _, g := range store.AggregateGroupings() {
		if g == groupBy {
			known = true
			break
		}
	}
	if !known {
		return nil, &model.ValidationError{
			Field:  "group_by",
			Reason: fmt.Sprintf("must be one of %v", store.AggregateGroupings()),
		}
	}

	return e.store.Aggregate(ctx, groupBy, f)
}

// Metadata returns the distinct enumerations for dashboard pickers.
func (e *Engine) Metadata(ctx context.Context) (*store.Metadata, error) {
	return e.store.GetMetadata(ctx)
}

// Summary returns the process-level run summary for the JSON metrics
// endpoint.
func (e *Engine) Summary(ctx context.Context) (*store.Summary, error) {
	return e.store.GetSummary(ctx)
}

// Events lists a run's sub-events in append order.
func (e *Engine) Events(ctx context.Context, runID string) ([]model.RunEvent, error) {
	return e.store.ListRunEvents(ctx, runID)
}

// HasRun reports whether any stored run carries runID.
func (e *Engine) HasRun(ctx context.Context, runID string) (bool, error) {
	return e.store.HasRun(ctx, runID)
}
