// Package metrics exposes Prometheus instrumentation for the
// personnel-localization service, grounded on the teacher's
// internal/platform/observability/metrics.go: a lazily-initialized global
// set of collectors plus the /metrics scrape handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this service reports.
type Metrics struct {
	TelemetryReceived  *prometheus.CounterVec
	TelemetryDropped   *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	FilterStepsTotal   *prometheus.CounterVec
	NumericalFailures  *prometheus.CounterVec
	PersistenceMisses  *prometheus.CounterVec
	PublishTotal       *prometheus.CounterVec
	TransportErrors    *prometheus.CounterVec
	TrackerReady       *prometheus.GaugeVec
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Get returns the process-wide Metrics instance, creating it on first call.
func Get() *Metrics {
	globalOnce.Do(func() {
		global = newMetrics()
	})
	return global
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.TelemetryReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "ingest",
		Name:      "telemetry_received_total",
		Help:      "Total telemetry messages received from subscribed exchanges.",
	}, []string{"exchange"})

	m.TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "ingest",
		Name:      "telemetry_dropped_total",
		Help:      "Total telemetry messages dropped during decode/validation.",
	}, []string{"exchange", "reason"})

	m.QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "personnel_localization",
		Subsystem: "ingest",
		Name:      "queue_depth",
		Help:      "Number of telemetry records currently queued for a tracker.",
	}, []string{"tracker"})

	m.FilterStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "rakf",
		Name:      "filter_steps_total",
		Help:      "Total scalar RAKF steps run, by axis.",
	}, []string{"tracker", "axis"})

	m.NumericalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "rakf",
		Name:      "numerical_failures_total",
		Help:      "Total NumericalFailure fallbacks to kinematic prediction, by axis.",
	}, []string{"tracker", "axis"})

	m.PersistenceMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "persistence",
		Name:      "misses_total",
		Help:      "Total messages skipped because no persisted state existed for the tag.",
	}, []string{"tracker"})

	m.PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "publish",
		Name:      "messages_total",
		Help:      "Total estimate messages published, by exchange and result.",
	}, []string{"exchange", "result"})

	m.TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personnel_localization",
		Subsystem: "transport",
		Name:      "errors_total",
		Help:      "Total transport (publish/subscribe) I/O failures.",
	}, []string{"direction"})

	m.TrackerReady = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "personnel_localization",
		Subsystem: "service",
		Name:      "tracker_ready",
		Help:      "1 if a tracker's transports are connected and serving, 0 otherwise.",
	}, []string{"tracker"})

	return m
}

// Handler returns the Prometheus scrape handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
