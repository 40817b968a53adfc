package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/runlog/internal/model"
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("not found")

// ListFilter narrows run queries. Zero values mean "no constraint".
// Status must already be canonical; alias folding happens in the query
// engine before the filter reaches the store.
type ListFilter struct {
	AgentName      string
	JobType        string
	TriggerType    string
	RunID          string
	Status         string
	StartFrom      *time.Time
	StartTo        *time.Time
	EndFrom        *time.Time
	EndTo          *time.Time
	Product        string
	Platform       string
	ProductFamily  string
	Website        string
	WebsiteSection string
	ItemName       string
	InsightID      string
	// Search matches free text across the four summary fields.
	Search string
}

// ListPage is keyset pagination state. The (AfterStartTime, AfterEventID)
// pair is the last row of the previous page under the stable
// (start_time DESC, event_id DESC) ordering.
type ListPage struct {
	Limit          int
	AfterStartTime *time.Time
	AfterEventID   string
}

// where builds the filter's WHERE fragment and args.
func (f ListFilter) where() (string, []any) {
	var conds []string
	var args []any

	eq := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	eq("agent_name", f.AgentName)
	eq("job_type", f.JobType)
	eq("trigger_type", f.TriggerType)
	eq("run_id", f.RunID)
	eq("status", f.Status)
	eq("product", f.Product)
	eq("platform", f.Platform)
	eq("product_family", f.ProductFamily)
	eq("website", f.Website)
	eq("website_section", f.WebsiteSection)
	eq("item_name", f.ItemName)
	eq("insight_id", f.InsightID)

	ts := func(col, op string, t *time.Time) {
		if t != nil {
			conds = append(conds, col+" "+op+" ?")
			args = append(args, model.NormalizeTime(*t))
		}
	}
	ts("start_time", ">=", f.StartFrom)
	ts("start_time", "<=", f.StartTo)
	ts("end_time", ">=", f.EndFrom)
	ts("end_time", "<=", f.EndTo)

	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		conds = append(conds, `(input_summary LIKE ? ESCAPE '\'
			OR output_summary LIKE ? ESCAPE '\'
			OR error_summary LIKE ? ESCAPE '\'
			OR error_details LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GetRun retrieves a single run by event_id. Returns ErrNotFound if absent.
func (s *Store) GetRun(ctx context.Context, eventID string) (*model.Run, error) {
	var r model.Run
	err := s.reader.GetContext(ctx, &r,
		`SELECT `+runColumns+` FROM runs WHERE event_id = ?`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", eventID, err)
	}
	return &r, nil
}

// ListRuns returns one page of runs matching the filter, newest first with
// event_id as tiebreaker so pagination never skips or repeats rows.
func (s *Store) ListRuns(ctx context.Context, f ListFilter, page ListPage) ([]model.Run, error) {
	where, args := f.where()

	if page.AfterStartTime != nil {
		kw := " WHERE "
		if where != "" {
			kw = where + " AND "
			where = ""
		}
		where = kw + `(start_time < ? OR (start_time = ? AND event_id < ?))`
		after := model.NormalizeTime(*page.AfterStartTime)
		args = append(args, after, after, page.AfterEventID)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT ` + runColumns + ` FROM runs` + where +
		` ORDER BY start_time DESC, event_id DESC LIMIT ?`

	runs := []model.Run{}
	if err := s.reader.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// aggregateGroups maps the public grouping key to its SQL expression.
// Only these expressions ever reach the query; grouping input is a key
// lookup, never interpolated.
var aggregateGroups = map[string]string{
	"date":            `date(start_time)`,
	"agent_name":      `agent_name`,
	"website":         `COALESCE(website, '')`,
	"website_section": `COALESCE(website_section, '')`,
	"product_family":  `COALESCE(product_family, '')`,
}

// AggregateGroupings lists the accepted grouping keys.
func AggregateGroupings() []string {
	return []string{"date", "agent_name", "website", "website_section", "product_family"}
}

// AggregateRow is one group's rollup.
type AggregateRow struct {
	Group           string           `json:"group"`
	Runs            int64            `json:"runs"`
	ItemsDiscovered int64            `json:"items_discovered"`
	ItemsSucceeded  int64            `json:"items_succeeded"`
	ItemsFailed     int64            `json:"items_failed"`
	SuccessRatio    float64          `json:"success_ratio"`
	StatusCounts    map[string]int64 `json:"status_counts"`
}

// Aggregate groups matching runs by the given key and returns per-group
// counts, counter sums, success ratio, and a status histogram.
func (s *Store) Aggregate(ctx context.Context, groupBy string, f ListFilter) ([]AggregateRow, error) {
	expr, ok := aggregateGroups[groupBy]
	if !ok {
		return nil, fmt.Errorf("aggregate: unknown grouping %q", groupBy)
	}

	where, args := f.where()
	query := fmt.Sprintf(`
		SELECT
			%s AS grp,
			COUNT(*) AS runs,
			COALESCE(SUM(items_discovered), 0) AS discovered,
			COALESCE(SUM(items_succeeded), 0) AS succeeded,
			COALESCE(SUM(items_failed), 0) AS failed,
			SUM(CASE WHEN status = 'running'   THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'success'   THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failure'   THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'partial'   THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'timeout'   THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END)
		FROM runs%s
		GROUP BY grp
		ORDER BY grp
	`, expr, where)

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by %s: %w", groupBy, err)
	}
	defer rows.Close()

	out := []AggregateRow{}
	for rows.Next() {
		var row AggregateRow
		var running, success, failure, partial, timeout, cancelled int64
		if err := rows.Scan(
			&row.Group, &row.Runs,
			&row.ItemsDiscovered, &row.ItemsSucceeded, &row.ItemsFailed,
			&running, &success, &failure, &partial, &timeout, &cancelled,
		); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		row.StatusCounts = map[string]int64{
			model.StatusRunning:   running,
			model.StatusSuccess:   success,
			model.StatusFailure:   failure,
			model.StatusPartial:   partial,
			model.StatusTimeout:   timeout,
			model.StatusCancelled: cancelled,
		}
		if row.Runs > 0 {
			row.SuccessRatio = float64(success) / float64(row.Runs)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}
	return out, nil
}

// Metadata holds the distinct enumerations backing dashboard pickers.
type Metadata struct {
	Agents          []string `json:"agents"`
	JobTypes        []string `json:"job_types"`
	TriggerTypes    []string `json:"trigger_types"`
	Products        []string `json:"products"`
	Platforms       []string `json:"platforms"`
	ProductFamilies []string `json:"product_families"`
	Websites        []string `json:"websites"`
	WebsiteSections []string `json:"website_sections"`
	Statuses        []string `json:"statuses"`
}

// GetMetadata returns distinct values for the enumerable columns.
func (s *Store) GetMetadata(ctx context.Context) (*Metadata, error) {
	m := &Metadata{Statuses: model.CanonicalStatuses}

	for _, col := range []struct {
		name string
		dest *[]string
	}{
		{"agent_name", &m.Agents},
		{"job_type", &m.JobTypes},
		{"trigger_type", &m.TriggerTypes},
		{"product", &m.Products},
		{"platform", &m.Platforms},
		{"product_family", &m.ProductFamilies},
		{"website", &m.Websites},
		{"website_section", &m.WebsiteSections},
	} {
		vals, err := s.distinctColumn(ctx, col.name)
		if err != nil {
			return nil, err
		}
		*col.dest = vals
	}
	return m, nil
}

func (s *Store) distinctColumn(ctx context.Context, col string) ([]string, error) {
	// col comes from the fixed list in GetMetadata, never from input.
	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM runs
		WHERE %s IS NOT NULL AND %s != ''
		ORDER BY %s
	`, col, col, col, col)

	vals := []string{}
	if err := s.reader.SelectContext(ctx, &vals, query); err != nil {
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	return vals, nil
}

// Summary backs the JSON /metrics endpoint: total rows plus per-agent
// counts.
type Summary struct {
	TotalRuns int64            `json:"total_runs"`
	Agents    map[string]int64 `json:"agents"`
}

// GetSummary returns the process-level run summary.
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	sum := &Summary{Agents: map[string]int64{}}

	if err := s.reader.GetContext(ctx, &sum.TotalRuns, `SELECT COUNT(*) FROM runs`); err != nil {
		return nil, fmt.Errorf("summary total: %w", err)
	}

	rows, err := s.reader.QueryContext(ctx,
		`SELECT agent_name, COUNT(*) FROM runs GROUP BY agent_name`)
	if err != nil {
		return nil, fmt.Errorf("summary agents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan agent count: %w", err)
		}
		sum.Agents[name] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent counts: %w", err)
	}
	return sum, nil
}

// HasRun reports whether any run row carries the given run_id.
func (s *Store) HasRun(ctx context.Context, runID string) (bool, error) {
	var one int
	err := s.reader.GetContext(ctx, &one,
		`SELECT 1 FROM runs WHERE run_id = ? LIMIT 1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has run %s: %w", runID, err)
	}
	return true, nil
}

// ListRunEvents returns all events for a run in append order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	events := []model.RunEvent{}
	err := s.reader.SelectContext(ctx, &events, `
		SELECT id, run_id, event_type, timestamp, message, metadata_json
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events %s: %w", runID, err)
	}
	return events, nil
}

// CountRunsBefore counts rows the retention sweep would remove; used by
// dry-run reporting and progress estimates.
func (s *Store) CountRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.reader.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runs WHERE created_at < ?`, model.NormalizeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("count runs before %s: %w", cutoff, err)
	}
	return n, nil
}

// CountRunEventsBefore counts run events older than cutoff.
func (s *Store) CountRunEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.reader.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM run_events WHERE timestamp < ?`, model.NormalizeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("count run events before %s: %w", cutoff, err)
	}
	return n, nil
}
