// Package telemetry exposes the service's own Prometheus instrumentation.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddndrk/disthene/internal/events"
	"github.com/ddndrk/disthene/internal/stats"
)

const namespace = "disthene"

// Metrics holds the self-telemetry instruments. It implements bus.Observer,
// stats.Observer and sink.Observer.
type Metrics struct {
	busPublished *prometheus.CounterVec
	busDelivered *prometheus.CounterVec
	busDropped   *prometheus.CounterVec
	busPanics    *prometheus.CounterVec

	flushCycles    prometheus.Counter
	flushDuration  prometheus.Histogram
	flushTenants   prometheus.Gauge
	flushEmitted   prometheus.Counter
	flushFailures  prometheus.Counter
	metricsByKind  *prometheus.CounterVec
	storeOutcomes  *prometheus.CounterVec
	lastFlushEpoch prometheus.Gauge

	sinkBatches *prometheus.CounterVec
	sinkMetrics prometheus.Counter
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events accepted by the bus by kind.",
		}, []string{"kind"}),
		busDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_delivered_total",
			Help:      "Events handed to every subscriber by kind.",
		}, []string{"kind"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Events rejected because the bus queue was full.",
		}, []string{"kind"}),
		busPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_panics_total",
			Help:      "Subscriber panics recovered by the bus.",
		}, []string{"kind"}),
		flushCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "flush_cycles_total",
			Help:      "Completed stats flush cycles.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "flush_duration_seconds",
			Help:      "Wall time of a stats flush cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		flushTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "tenants",
			Help:      "Tenants reported by the last flush.",
		}),
		flushEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "metrics_emitted_total",
			Help:      "Derived metrics posted by flush cycles.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "emit_failures_total",
			Help:      "Derived metrics that could not be posted.",
		}),
		metricsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "metrics_counted_total",
			Help:      "Metrics counted by flush cycles, split into received and written.",
		}, []string{"kind"}),
		storeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "store_outcomes_total",
			Help:      "Storage batch outcomes drained by flush cycles.",
		}, []string{"outcome"}),
		lastFlushEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "last_flush_timestamp_seconds",
			Help:      "Minute-aligned timestamp of the last flush.",
		}),
		sinkBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "batches_total",
			Help:      "Sink batch writes by result.",
		}, []string{"result"}),
		sinkMetrics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "metrics_written_total",
			Help:      "Metrics successfully written by the sink.",
		}),
	}

	reg.MustRegister(
		m.busPublished, m.busDelivered, m.busDropped, m.busPanics,
		m.flushCycles, m.flushDuration, m.flushTenants, m.flushEmitted, m.flushFailures,
		m.metricsByKind, m.storeOutcomes, m.lastFlushEpoch,
		m.sinkBatches, m.sinkMetrics,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Published(kind events.Kind) { m.busPublished.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) Delivered(kind events.Kind) { m.busDelivered.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) Dropped(kind events.Kind)   { m.busDropped.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) Panicked(kind events.Kind)  { m.busPanics.WithLabelValues(kind.String()).Inc() }

// ObserveFlush records one completed flush cycle.
func (m *Metrics) ObserveFlush(r stats.FlushReport) {
	m.flushCycles.Inc()
	m.flushDuration.Observe(r.Duration.Seconds())
	m.flushTenants.Set(float64(len(r.Tenants)))
	m.flushEmitted.Add(float64(r.Emitted))
	m.flushFailures.Add(float64(r.Failures))
	m.metricsByKind.WithLabelValues("received").Add(float64(r.TotalReceived))
	m.metricsByKind.WithLabelValues("written").Add(float64(r.TotalWritten))
	m.storeOutcomes.WithLabelValues("success").Add(float64(r.StoreSuccess))
	m.storeOutcomes.WithLabelValues("error").Add(float64(r.StoreError))
	m.lastFlushEpoch.Set(float64(r.Timestamp.Unix()))
}

// ObserveBatch records one sink write of n metrics.
func (m *Metrics) ObserveBatch(n int, err error) {
	if err != nil {
		m.sinkBatches.WithLabelValues("error").Inc()
		return
	}
	m.sinkBatches.WithLabelValues("ok").Inc()
	m.sinkMetrics.Add(float64(n))
}
