package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_ingest_total",
			Help: "Total number of ingestion writes by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runlog_ingest_duration_seconds",
			Help:    "Ingestion write duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BusyRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runlog_busy_retries_total",
			Help: "Total number of write retries caused by a busy database",
		},
	)

	WriteGateRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runlog_write_gate_rejections_total",
			Help: "Total number of writes rejected because the write gate was full",
		},
	)

	WriteGateInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runlog_write_gate_in_flight",
			Help: "Number of writes currently holding a write gate slot",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_api_requests_total",
			Help: "Total number of API requests by route, method, and status",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runlog_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Store metrics
	RunsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runlog_runs_total",
			Help: "Total number of run rows in the store",
		},
	)

	RetentionDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_retention_deleted_total",
			Help: "Total number of rows removed by retention sweeps by table",
		},
		[]string{"table"},
	)

	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_backups_total",
			Help: "Total number of backup attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		IngestTotal,
		IngestDuration,
		BusyRetriesTotal,
		WriteGateRejections,
		WriteGateInFlight,
		APIRequestsTotal,
		APIRequestDuration,
		RunsTotal,
		RetentionDeletedTotal,
		BackupsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
