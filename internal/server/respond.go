package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/runlog/internal/engine"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

// maxRequestBody bounds request bodies. Generous enough for a full batch of
// records at the JSON payload cap.
const maxRequestBody = 32 << 20

// Error kinds carried in the "error" field of error responses.
const (
	errValidation  = "validation"
	errNotFound    = "not_found"
	errOverloaded  = "overloaded"
	errInternal    = "internal"
	errUnavailable = "unavailable"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, errorBody{Error: kind, Detail: detail})
}

// decodeJSON reads one JSON document from the request, rejecting trailing
// garbage and unknown top-level shapes early.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode body: trailing data")
	}
	return nil
}

// respondError maps domain errors onto HTTP statuses. Corruption is handled
// by the caller before reaching here.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, errValidation, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errNotFound, "run not found")
	case errors.Is(err, engine.ErrOverloaded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, errOverloaded, "write gate full, retry shortly")
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, errInternal, "internal error")
	}
}
