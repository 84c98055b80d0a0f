package engine

import (
	"time"

	"github.com/coffersTech/nanosearch/internal/pkg/optimizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's Prometheus collectors. Each Metrics owns its
// registry so several engines can live in one process. A nil *Metrics
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	optimizeIterations prometheus.Histogram
	optimizeInterrupts prometheus.Counter
	optimizeChanges    prometheus.Histogram
	searchLatency      *prometheus.HistogramVec
	ingested           prometheus.Counter
	flushes            *prometheus.CounterVec
	memTableBytes      prometheus.Gauge
	explainCache       *prometheus.CounterVec
}

// NewMetrics creates and registers the engine collectors together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		optimizeIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nanosearch_optimizer_iterations",
			Help:    "Fixpoint iterations per optimized query",
			Buckets: []float64{1, 2, 3, 4, 6, 10, 20, 50, 100},
		}),
		optimizeInterrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanosearch_optimizer_interrupted_total",
			Help: "Optimizations stopped by the iteration cap",
		}),
		optimizeChanges: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nanosearch_optimizer_changes",
			Help:    "Rewrites applied per optimized query",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nanosearch_search_latency_seconds",
			Help:    "Latency of search operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nanosearch_ingested_entries_total",
			Help: "Total entries ingested",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nanosearch_flushes_total",
			Help: "Total memtable flushes",
		}, []string{"status"}),
		memTableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nanosearch_memtable_size_bytes",
			Help: "Current size of the memtable in bytes",
		}),
		explainCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nanosearch_explain_cache_requests_total",
			Help: "Explain cache lookups",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.optimizeIterations,
		m.optimizeInterrupts,
		m.optimizeChanges,
		m.searchLatency,
		m.ingested,
		m.flushes,
		m.memTableBytes,
		m.explainCache,
	)
	return m
}

func (m *Metrics) observeOptimize(d optimizer.Diagnostics) {
	if m == nil {
		return
	}
	m.optimizeIterations.Observe(float64(d.Iterations))
	m.optimizeChanges.Observe(float64(len(d.ChangeLog)))
	if d.Interrupted {
		m.optimizeInterrupts.Inc()
	}
}

func (m *Metrics) observeSearch(start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.searchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeIngest(memTableBytes int64) {
	if m == nil {
		return
	}
	m.ingested.Inc()
	m.memTableBytes.Set(float64(memTableBytes))
}

func (m *Metrics) observeFlush(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.flushes.WithLabelValues(status).Inc()
}

func (m *Metrics) observeExplainCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.explainCache.WithLabelValues(result).Inc()
}
