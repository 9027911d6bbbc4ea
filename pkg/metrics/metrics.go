/*
Package metrics instruments the storage engine with Prometheus
counters/gauges/histograms, following the teacher's convention of
package-level prometheus.Collector variables and an explicit Registry
(rather than the global DefaultRegisterer) so library consumers who embed
pkg/mtdb without a Prometheus registry incur no global-registry side
effects.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpsTotal counts Worker operations by kind and outcome.
	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtdb_ops_total",
			Help: "Total number of store operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// FlushTotal counts durability-barrier flushes by trigger.
	FlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtdb_flush_total",
			Help: "Total number of flush barriers issued, by trigger",
		},
		[]string{"trigger"},
	)

	// FlushDuration observes flush latency.
	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mtdb_flush_duration_seconds",
			Help:    "Time taken to flush the btree layer to the block backing",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDepth reports the current Worker operation queue depth.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtdb_queue_depth",
			Help: "Current depth of the worker operation queue",
		},
	)

	// TTLSweepTotal counts TTL sweep cycles (expired keys are counted by
	// TTLExpiredTotal).
	TTLSweepTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mtdb_ttl_sweep_total",
			Help: "Total number of TTL sweep cycles run",
		},
	)

	// TTLExpiredTotal counts keys removed by TTL sweeps.
	TTLExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mtdb_ttl_expired_total",
			Help: "Total number of records removed by TTL sweeps",
		},
	)

	// RecordsTotal reports the current live record count.
	RecordsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtdb_records_total",
			Help: "Current number of live records in the store",
		},
	)

	// QueryDuration observes query evaluation latency.
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mtdb_query_duration_seconds",
			Help:    "Time taken to evaluate a query predicate over the store",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Registry bundles the collectors above behind an injectable
// *prometheus.Registry, so embedding the store never touches the global
// default registerer.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a Registry and registers all store collectors into it.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		OpsTotal,
		FlushTotal,
		FlushDuration,
		QueueDepth,
		TTLSweepTotal,
		TTLExpiredTotal,
		RecordsTotal,
		QueryDuration,
	)
	return &Registry{reg: reg}
}

// Handler returns the Prometheus HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
