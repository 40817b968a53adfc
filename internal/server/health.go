package server

import (
	"net/http"
	"time"

	"github.com/roach88/runlog/internal/metrics"
	"github.com/roach88/runlog/internal/model"
)

// Version identifies the running build; release builds stamp it via
// -ldflags "-X .../internal/server.Version=...".
var Version = "dev"

var startTime = time.Now()

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	DBPath        string `json:"db_path"`
	SchemaVersion int    `json:"schema_version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health. It exercises a real read so a wedged
// database turns the probe red instead of lying green.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	schema, err := s.store.SchemaVersion(r.Context())
	if err != nil {
		s.checkFatal(err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:        "unhealthy",
			Version:       Version,
			DBPath:        s.cfg.DBPath,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       Version,
		DBPath:        s.cfg.DBPath,
		SchemaVersion: schema,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	})
}

type metricsResponse struct {
	TotalRuns     int64            `json:"total_runs"`
	Agents        map[string]int64 `json:"agents"`
	SchemaVersion int              `json:"schema_version"`
}

// handleMetricsJSON handles GET /metrics: the lightweight JSON summary.
// Prometheus exposition lives at /metrics/prometheus.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	sum, err := s.queries.Summary(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	metrics.RunsTotal.Set(float64(sum.TotalRuns))
	writeJSON(w, http.StatusOK, metricsResponse{
		TotalRuns:     sum.TotalRuns,
		Agents:        sum.Agents,
		SchemaVersion: model.CurrentSchemaVersion,
	})
}
