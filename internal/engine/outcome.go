package engine

// Outcome classifies a single write.
type Outcome string

const (
	// OutcomeCreated: a new row was written.
	OutcomeCreated Outcome = "created"
	// OutcomeDuplicate: the event_id already existed; the stored row is
	// untouched. Duplicates are successes, not errors.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeUpdated: a PATCH found and rewrote its target row.
	OutcomeUpdated Outcome = "updated"
	// OutcomeInvalid: the record failed validation and was not written.
	// Only batch results carry this; single writes return the error.
	OutcomeInvalid Outcome = "invalid"
)

// BatchResult reports one record's fate within a batch, positionally
// aligned with the submitted slice.
type BatchResult struct {
	EventID string  `json:"event_id"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}
