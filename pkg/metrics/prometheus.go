// Package metrics provides Prometheus metrics for the detection loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Annotation stages reported by RecordAnnotationError.
const (
	StageTrigger = "trigger"
	StageNotes   = "notes"
)

// Manager owns the loop's Prometheus collectors. It is created once by the
// process and handed by reference to the loop (writer) and to the metrics
// responder (reader, through the registry).
type Manager struct {
	namespace        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Loop metrics
	inferenceDuration prometheus.Histogram
	inferences        prometheus.Counter
	frequency         prometheus.Gauge
	detections        prometheus.Counter

	// Annotation metrics
	triggers         prometheus.Counter
	eventUpdates     prometheus.Counter
	annotationErrors *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry the
// collectors land on a private registry, never on the process-wide default.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "aidect",
		histogramBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		customLabels:     make(map[string]string),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.inferenceDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Name:        "inference_duration_seconds",
		Help:        "Time spent running the detector on one frame",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.inferences = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "inferences_total",
		Help:        "Total number of frames run through the detector",
		ConstLabels: labels,
	})

	m.frequency = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "fps",
		Help:        "Achieved loop frequency in iterations per second",
		ConstLabels: labels,
	})

	m.detections = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "detections_total",
		Help:        "Detections that survived class and area filtering",
		ConstLabels: labels,
	})

	m.triggers = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "triggers_total",
		Help:        "Successful trigger calls to the host",
		ConstLabels: labels,
	})

	m.eventUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Name:        "event_updates_total",
		Help:        "Event notes written to the host",
		ConstLabels: labels,
	})

	m.annotationErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Name:        "annotation_errors_total",
			Help:        "Failed host calls by annotation stage",
			ConstLabels: labels,
		},
		[]string{"stage"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "system_memory_bytes",
		Help:        "Heap bytes allocated",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Name:        "system_goroutines",
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})
}

// ObserveInference records one detector run.
func (m *Manager) ObserveInference(d time.Duration) {
	m.inferenceDuration.Observe(d.Seconds())
	m.inferences.Inc()
}

// SetFrequency publishes the achieved loop frequency.
func (m *Manager) SetFrequency(hz float64) {
	m.frequency.Set(hz)
}

// RecordDetections adds n filtered detections.
func (m *Manager) RecordDetections(n int) {
	m.detections.Add(float64(n))
}

// RecordTrigger counts a successful trigger call.
func (m *Manager) RecordTrigger() {
	m.triggers.Inc()
}

// RecordEventUpdate counts a successful notes update.
func (m *Manager) RecordEventUpdate() {
	m.eventUpdates.Inc()
}

// RecordAnnotationError counts a failed host call for stage.
func (m *Manager) RecordAnnotationError(stage string) {
	m.annotationErrors.WithLabelValues(stage).Inc()
}

// UpdateSystemMemoryUsage updates the heap allocation gauge.
func (m *Manager) UpdateSystemMemoryUsage(bytes uint64) {
	m.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates the goroutine gauge.
func (m *Manager) UpdateSystemGoroutineCount(count int) {
	m.systemGoroutineCount.Set(float64(count))
}
