package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/runlog/internal/engine"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

// MaxBatchSize caps records per batch request.
const MaxBatchSize = 1000

type writeResponse struct {
	Status  engine.Outcome `json:"status"`
	EventID string         `json:"event_id"`
	RunID   string         `json:"run_id"`
}

// handleInsertRun handles POST /api/v1/runs. Created and duplicate both
// answer 200: a duplicate is a successful idempotent submission.
func (s *Server) handleInsertRun(w http.ResponseWriter, r *http.Request) {
	var run model.Run
	if err := decodeJSON(r, &run); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid request body")
		return
	}

	outcome, err := s.engine.Insert(r.Context(), &run)
	if err != nil {
		if s.checkFatal(err) {
			writeError(w, http.StatusServiceUnavailable, errUnavailable, "storage failure")
			return
		}
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{
		Status:  outcome,
		EventID: run.EventID,
		RunID:   run.RunID,
	})
}

type batchError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

type batchResponse struct {
	Inserted   int          `json:"inserted"`
	Duplicates int          `json:"duplicates"`
	Errors     []batchError `json:"errors"`
	Total      int          `json:"total"`
}

// handleBatch handles POST /api/v1/runs/batch. The body is a bare array of
// run records; errors carry the index of the offending record, so
// inserted + duplicates + len(errors) always equals total.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var records []*model.Run
	if err := decodeJSON(r, &records); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid request body")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, errValidation, "batch must not be empty")
		return
	}
	if len(records) > MaxBatchSize {
		writeError(w, http.StatusBadRequest, errValidation,
			"batch exceeds "+strconv.Itoa(MaxBatchSize)+" records")
		return
	}

	results, err := s.engine.Batch(r.Context(), records)
	if err != nil {
		if s.checkFatal(err) {
			writeError(w, http.StatusServiceUnavailable, errUnavailable, "storage failure")
			return
		}
		s.respondError(w, err)
		return
	}

	out := batchResponse{Errors: []batchError{}, Total: len(results)}
	for i, res := range results {
		switch res.Outcome {
		case engine.OutcomeCreated:
			out.Inserted++
		case engine.OutcomeDuplicate:
			out.Duplicates++
		default:
			out.Errors = append(out.Errors, batchError{
				Index:   i,
				EventID: res.EventID,
				Reason:  res.Error,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetRun handles GET /api/v1/runs/{id}, where id is an event_id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.queries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type patchResponse struct {
	Status        engine.Outcome `json:"status"`
	FieldsUpdated []string       `json:"fields_updated"`
}

// handlePatchRun handles PATCH /api/v1/runs/{id}. The body is a partial
// document: absent fields stay, null clears, values replace.
func (s *Server) handlePatchRun(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid request body")
		return
	}

	eventID := chi.URLParam(r, "id")
	outcome, updated, err := s.engine.Patch(r.Context(), eventID, raw)
	if err != nil {
		if s.checkFatal(err) {
			writeError(w, http.StatusServiceUnavailable, errUnavailable, "storage failure")
			return
		}
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patchResponse{Status: outcome, FieldsUpdated: updated})
}

// handleListRuns handles GET /api/v1/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errValidation, "limit must be an integer")
			return
		}
	}

	page, err := s.queries.List(r.Context(), filter, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleAggregate handles GET /api/v1/runs/aggregate?group_by=...
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	rows, err := s.queries.Aggregate(r.Context(), r.URL.Query().Get("group_by"), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": rows})
}

// handleMetadata handles GET /api/v1/metadata.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.queries.Metadata(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleListEvents handles GET /api/v1/runs/{id}/events, where id is a
// run_id.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	events, err := s.queries.Events(r.Context(), runID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAppendEvent handles POST /api/v1/runs/{id}/events.
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.RunEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid request body")
		return
	}
	ev.RunID = chi.URLParam(r, "id")

	if err := s.engine.AppendEvent(r.Context(), &ev); err != nil {
		if s.checkFatal(err) {
			writeError(w, http.StatusServiceUnavailable, errUnavailable, "storage failure")
			return
		}
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// filterFromQuery builds a store filter from list query parameters.
func filterFromQuery(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	f := store.ListFilter{
		AgentName:      q.Get("agent_name"),
		JobType:        q.Get("job_type"),
		TriggerType:    q.Get("trigger_type"),
		RunID:          q.Get("run_id"),
		Status:         q.Get("status"),
		Product:        q.Get("product"),
		Platform:       q.Get("platform"),
		ProductFamily:  q.Get("product_family"),
		Website:        q.Get("website"),
		WebsiteSection: q.Get("website_section"),
		ItemName:       q.Get("item_name"),
		InsightID:      q.Get("insight_id"),
		Search:         q.Get("search"),
	}

	for _, p := range []struct {
		key  string
		dest **time.Time
	}{
		{"start_from", &f.StartFrom},
		{"start_to", &f.StartTo},
		{"end_from", &f.EndFrom},
		{"end_to", &f.EndTo},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &model.ValidationError{Field: p.key, Reason: "must be RFC 3339"}
		}
		*p.dest = &t
	}
	return f, nil
}
