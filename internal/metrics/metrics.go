// Package metrics wraps the Prometheus collectors the dispatcher exposes:
// per-credential in-flight gauges, batch-size and dispatch-latency
// histograms, queue depth, and error counts broken down by kind.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultLatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Collector holds every metric the dispatcher updates. A nil *Collector is
// valid and every method on it is a no-op, so instrumentation can be
// wired in unconditionally without littering the hot path with nil
// checks at every call site.
type Collector struct {
	registry *prometheus.Registry

	groupSize       prometheus.Histogram
	dispatchLatency prometheus.Histogram
	inFlight        *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
	errorsTotal     *prometheus.CounterVec
	dispatchesTotal *prometheus.CounterVec
}

// NewCollector builds a Collector registered under namespace, along with
// the standard Go and process collectors.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,
		groupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_group_size",
			Help:      "Number of method calls folded into each dispatched execute batch (1 for a plain call).",
			Buckets:   []float64{1, 2, 4, 8, 12, 16, 20, 25},
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time from issuing an HTTP request to VK to having parsed its response.",
			Buckets:   defaultLatencyBuckets,
		}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_in_flight",
			Help:      "Number of dispatches currently awaiting an HTTP response, per credential.",
		}, []string{"credential"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of method calls waiting in the shared queue.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Dispatch outcomes that ended in an error, by kind.",
		}, []string{"kind"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Execute batches and plain calls dispatched, by credential.",
		}, []string{"credential"}),
	}

	registry.MustRegister(c.groupSize, c.dispatchLatency, c.inFlight, c.queueDepth, c.errorsTotal, c.dispatchesTotal)
	return c
}

// Registry returns the Prometheus registry to expose via promhttp.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveDispatch(credential string, groupSize int, latency time.Duration) {
	if c == nil {
		return
	}
	c.groupSize.Observe(float64(groupSize))
	c.dispatchLatency.Observe(latency.Seconds())
	c.dispatchesTotal.WithLabelValues(credential).Inc()
}

func (c *Collector) IncInFlight(credential string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(credential).Inc()
}

func (c *Collector) DecInFlight(credential string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(credential).Dec()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collector) IncError(kind string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(kind).Inc()
}
