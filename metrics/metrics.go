// Package metrics exposes Prometheus metrics of the artifact gateway on a
// dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer owns a Prometheus registry and the HTTP server publishing it
// on /metrics.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// New creates a metrics server listening on listenAddr. Metric names are
// prefixed with namespace.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()

	m := &MetricsServer{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Artifact gateway requests by operation and status code.",
		}, []string{"op", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Artifact gateway request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Artifact bytes uploaded and downloaded through the gateway.",
		}, []string{"direction"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.bytes,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", m.Handler())
	m.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one finished gateway request.
func (m *MetricsServer) ObserveRequest(op string, code int, d time.Duration) {
	m.requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// AddBytes counts artifact payload bytes; direction is "in" or "out".
func (m *MetricsServer) AddBytes(direction string, n int64) {
	if n > 0 {
		m.bytes.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
