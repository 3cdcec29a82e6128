// Package metrics owns the Prometheus collectors exported by the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciliation outcomes.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op sink.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	reconciliations *prometheus.CounterVec
	reconcileTime   prometheus.Histogram
	eventsDeleted   prometheus.Counter
	eventsCreated   prometheus.Counter
	rpcTotal        *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
}

// New registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yearview_reconciliations_total",
		Help: "External calendar reconciliations by outcome",
	}, []string{"result"})
	reconcileTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "yearview_reconcile_duration_seconds",
		Help:    "Time spent applying one reconciliation",
		Buckets: prometheus.DefBuckets,
	})
	eventsDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yearview_reconcile_events_deleted_total",
		Help: "Events removed by reconciliations",
	})
	eventsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yearview_reconcile_events_created_total",
		Help: "Events created by reconciliations",
	})
	rpcTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yearview_grpc_requests_total",
		Help: "gRPC requests by method and status code",
	}, []string{"method", "code"})
	rpcDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yearview_grpc_request_duration_seconds",
		Help:    "gRPC request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	reg.MustRegister(reconciliations, reconcileTime, eventsDeleted, eventsCreated, rpcTotal, rpcDuration,
		collectors.NewGoCollector())

	return &Metrics{
		registry:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		reconciliations: reconciliations,
		reconcileTime:   reconcileTime,
		eventsDeleted:   eventsDeleted,
		eventsCreated:   eventsCreated,
		rpcTotal:        rpcTotal,
		rpcDuration:     rpcDuration,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveReconcile records one reconciliation.
func (m *Metrics) ObserveReconcile(result string, deleted, created int, d time.Duration) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(result).Inc()
	m.reconcileTime.Observe(d.Seconds())
	m.eventsDeleted.Add(float64(deleted))
	m.eventsCreated.Add(float64(created))
}

// ObserveRPC records one unary call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(method, code).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}
