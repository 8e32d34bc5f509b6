// Package prometheus exports callback queue and lifecycle metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fluxorio/nodelet/pkg/callback"
)

// Metrics collects queue activity and nodelet lifecycle events. It
// implements callback.Observer and nodelet.LifecycleObserver.
type Metrics struct {
	registry *prometheus.Registry

	queueDepth *prometheus.GaugeVec
	enqueued   *prometheus.CounterVec
	callbacks  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inits      *prometheus.CounterVec
	mtWorkers  *prometheus.GaugeVec
	units      prometheus.Gauge
}

// NewMetrics registers all collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nodelet"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Callbacks waiting in the queue.",
		}, []string{"queue"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_enqueued_total",
			Help:      "Callbacks added to the queue.",
		}, []string{"queue"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Callbacks executed, by result.",
		}, []string{"queue", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_duration_seconds",
			Help:      "Callback execution time.",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"queue"}),
		inits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inits_total",
			Help:      "Accepted nodelet Init calls, by result.",
		}, []string{"result"}),
		mtWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mt_spinner_workers",
			Help:      "Workers of the multi-threaded spinner.",
		}, []string{"unit"}),
		units: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_loaded",
			Help:      "Units currently loaded.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queueDepth, m.enqueued, m.callbacks, m.duration, m.inits, m.mtWorkers, m.units,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Enqueued implements callback.Observer
func (m *Metrics) Enqueued(queue string, depth int) {
	m.enqueued.WithLabelValues(queue).Inc()
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Dequeued implements callback.Observer
func (m *Metrics) Dequeued(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Called implements callback.Observer
func (m *Metrics) Called(queue string, took time.Duration, result callback.Result) {
	m.callbacks.WithLabelValues(queue, result.String()).Inc()
	m.duration.WithLabelValues(queue).Observe(took.Seconds())
}

// InitDone implements nodelet.LifecycleObserver
func (m *Metrics) InitDone(name string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.inits.WithLabelValues(result).Inc()
}

// UnitLoaded records a loaded unit and the size of its multi-threaded spinner
func (m *Metrics) UnitLoaded(unit string, mtWorkers int) {
	m.units.Inc()
	m.mtWorkers.WithLabelValues(unit).Set(float64(mtWorkers))
}

// UnitUnloaded forgets a unit recorded by UnitLoaded
func (m *Metrics) UnitUnloaded(unit string) {
	m.units.Dec()
	m.mtWorkers.DeleteLabelValues(unit)
}
