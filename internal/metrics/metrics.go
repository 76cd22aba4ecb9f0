// Package metrics exposes pipeline counters for Prometheus.
//
// Each Metrics value owns its own registry, so several applications (tests,
// scenario runs) can coexist in one process without duplicate registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements engine.Recorder and the gateway's rejection hooks.
type Metrics struct {
	registry *prometheus.Registry

	received     prometheus.Counter
	unique       prometheus.Counter
	duplicates   *prometheus.CounterVec
	deadLettered prometheus.Counter
	storageErrs  *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	queueDepth   prometheus.GaugeFunc
	processTime  prometheus.Histogram
}

// New builds and registers the metric set. depth is sampled on every scrape;
// a nil depth reports 0.
func New(depth func() int) *Metrics {
	if depth == nil {
		depth = func() int { return 0 }
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logagg_events_received_total",
			Help: "Events accepted into the queue",
		}),
		unique: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logagg_events_unique_total",
			Help: "Events committed to the ledger for the first time",
		}),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logagg_events_duplicate_total",
				Help: "Events dropped as duplicates, by detection path",
			},
			[]string{"reason"},
		),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logagg_events_dead_lettered_total",
			Help: "Events moved to the dead-letter table after exhausting retries",
		}),
		storageErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logagg_storage_errors_total",
				Help: "Failed storage attempts, by operation",
			},
			[]string{"op"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logagg_publish_rejected_total",
				Help: "Publish requests rejected before enqueue, by reason",
			},
			[]string{"reason"},
		),
		queueDepth: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "logagg_queue_depth",
				Help: "Events currently buffered",
			},
			func() float64 { return float64(depth()) },
		),
		processTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logagg_event_processing_seconds",
			Help:    "Time from dequeue to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.received,
		m.unique,
		m.duplicates,
		m.deadLettered,
		m.storageErrs,
		m.rejected,
		m.queueDepth,
		m.processTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing this metric set.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Accepted counts n events entering the queue.
func (m *Metrics) Accepted(n int) {
	m.received.Add(float64(n))
}

// Reject counts a publish rejection ("validation", "empty", "backpressure", ...).
func (m *Metrics) Reject(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// Unique implements engine.Recorder.
func (m *Metrics) Unique() {
	m.unique.Inc()
}

// Duplicate implements engine.Recorder.
func (m *Metrics) Duplicate(reason string) {
	m.duplicates.WithLabelValues(reason).Inc()
}

// DeadLettered implements engine.Recorder.
func (m *Metrics) DeadLettered() {
	m.deadLettered.Inc()
}

// StorageError implements engine.Recorder.
func (m *Metrics) StorageError(op string) {
	m.storageErrs.WithLabelValues(op).Inc()
}

// Processed implements engine.Recorder.
func (m *Metrics) Processed(d time.Duration) {
	m.processTime.Observe(d.Seconds())
}
