package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	reconcileInFlight prometheus.Gauge
	sweepDuration     *prometheus.HistogramVec
	sweepPruned       *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	reconcileTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notes",
			Subsystem: "worker",
			Name:      "reconcile_total",
			Help:      "Reconcile requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	reconcileDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notes",
			Subsystem: "worker",
			Name:      "reconcile_duration_seconds",
			Help:      "Reconcile duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	reconcileInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "notes",
			Subsystem: "worker",
			Name:      "reconcile_in_flight",
			Help:      "Number of in-flight reconcile requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sweepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notes",
			Subsystem: "worker",
			Name:      "sweep_duration_seconds",
			Help:      "Full vector index sweep duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	sweepPruned := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notes",
			Subsystem: "worker",
			Name:      "sweep_pruned_total",
			Help:      "Vector entries removed by sweeps.",
		},
		[]string{"service"},
	)

	registry.MustRegister(reconcileTotal, reconcileDuration, reconcileInFlight, sweepDuration, sweepPruned)

	return &WorkerMetrics{
		registry:          registry,
		reconcileTotal:    reconcileTotal,
		reconcileDuration: reconcileDuration,
		reconcileInFlight: reconcileInFlight,
		sweepDuration:     sweepDuration,
		sweepPruned:       sweepPruned,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartReconcile() {
	m.reconcileInFlight.Inc()
}

func (m *WorkerMetrics) FinishReconcile(service string, duration time.Duration, pruned bool, err error) {
	m.reconcileInFlight.Dec()

	outcome := "kept"
	switch {
	case err != nil:
		outcome = "error"
	case pruned:
		outcome = "pruned"
	}

	m.reconcileTotal.WithLabelValues(service, outcome).Inc()
	m.reconcileDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveSweep(service string, duration time.Duration, pruned int) {
	m.sweepDuration.WithLabelValues(service).Observe(duration.Seconds())
	if pruned > 0 {
		m.sweepPruned.WithLabelValues(service).Add(float64(pruned))
	}
}
