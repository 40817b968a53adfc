package harness

// TraceEvent records one write's fate for trace assertions and golden
// comparison.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"` // "insert", "patch", or "event"
	EventID string `json:"event_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: every expect clause and
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every write in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
