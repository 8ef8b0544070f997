// Package server metrics: registers all Prometheus metrics for the
// HTTP server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests
// can inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queriesTotal counts completed /api/query requests, partitioned by
	// the answer provenance tag.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of each query
	// from receipt to response.
	queryDurationSeconds *prometheus.HistogramVec

	// uploadsTotal counts document uploads, partitioned by security tier.
	uploadsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns
// the populated serverMetrics. promauto.With(reg) registers into the
// provided registry rather than the global default, keeping unit tests
// hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of query requests completed, partitioned by answer provenance.",
		}, []string{"provenance"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "castellan",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of query requests from receipt to response.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"provenance"}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "documents",
			Name:      "uploads_total",
			Help:      "Total number of document uploads accepted, partitioned by security tier.",
		}, []string{"tier"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", "handler", "code"}),
	}
}
