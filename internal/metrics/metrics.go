// Package metrics exposes tracer and view statistics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scopetrace/internal/trace"
	"scopetrace/internal/viewswap"
)

const namespace = "scopetrace"

// Metrics holds the collectors of one process. They are registered on a
// private registry, so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ReportsWritten  prometheus.Counter
}

// New creates the collectors. Registry statistics are read from reg on
// every scrape; view statistics from sw when it is not nil.
func New(reg *trace.Registry, sw *viewswap.Swapper) *Metrics {
	pr := prometheus.NewRegistry()
	pr.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(pr)

	m := &Metrics{
		registry: pr,
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		ReportsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_written_total",
			Help:      "Number of Chrome trace reports exported",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffers",
		Help:      "Number of live capture buffers",
	}, func() float64 { return float64(reg.Stats().Buffers) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spans_recorded_total",
		Help:      "Spans flushed by every registered capture buffer, released ones included",
	}, func() float64 { return float64(reg.Stats().SpansRecorded) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spans_drained_total",
		Help:      "Spans drained for export",
	}, func() float64 { return float64(reg.Stats().SpansDrained) })

	if sw != nil {
		registerSwapper(f, sw)
	}
	return m
}

func registerSwapper(f promauto.Factory, sw *viewswap.Swapper) {
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "swaps_total",
		Help:      "Number of collecting/displaying view swaps",
	}, func() float64 { return float64(sw.Stats().Swaps) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "batches_applied_total",
		Help:      "Span batches folded into a call tree",
	}, func() float64 {
		s := sw.Stats()
		return float64(s.Collecting.BatchesApplied + s.Displaying.BatchesApplied)
	})
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "batches_dropped_total",
		Help:      "Span batches dropped as stale",
	}, func() float64 {
		s := sw.Stats()
		return float64(s.Collecting.BatchesDropped + s.Displaying.BatchesDropped)
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "nodes_live",
		Help:      "Call tree nodes in use by both views",
	}, func() float64 {
		s := sw.Stats()
		return float64(s.Collecting.NodesLive + s.Displaying.NodesLive)
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "nodes_pooled",
		Help:      "Released call tree nodes kept for reuse",
	}, func() float64 {
		s := sw.Stats()
		return float64(s.Collecting.NodesPooled + s.Displaying.NodesPooled)
	})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
