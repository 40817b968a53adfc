package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roach88/runlog/internal/metrics"
)

// requestLogger logs one line per request and feeds the API metrics. The
// route label is the chi pattern, not the raw path, so cardinality stays
// bounded.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)

			metrics.APIRequestsTotal.WithLabelValues(
				route, r.Method, strconv.Itoa(ww.Status())).Inc()
			metrics.APIRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			evt := log.Info()
			if ww.Status() >= 500 {
				evt = log.Error()
			}
			evt.Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", elapsed).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}
