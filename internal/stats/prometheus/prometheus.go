// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/discochess/chessbook/internal/stats"
)

// DefaultBuckets holds histogram buckets for the metrics the pipeline
// records. Histograms not listed use prometheus.DefBuckets.
var DefaultBuckets = map[string][]float64{
	stats.MetricEvalSeconds:  {0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	stats.MetricGameSeconds:  prometheus.ExponentialBuckets(0.1, 2, 12),
	stats.MetricQualityScore: prometheus.LinearBuckets(-100, 20, 16),
}

var help = map[string]string{
	stats.MetricGamesParsed:    "Games read from the input archives.",
	stats.MetricParseErrors:    "Game blocks that could not be parsed.",
	stats.MetricGamesAnalyzed:  "Games evaluated by the engine and stored.",
	stats.MetricGamesRescored:  "Games rescored from stored evaluations.",
	stats.MetricGamesSkipped:   "Games already stored with current versions.",
	stats.MetricGamesFailed:    "Games abandoned after engine failures.",
	stats.MetricStoreErrors:    "Failed store writes.",
	stats.MetricGameSeconds:    "Wall-clock time spent analyzing one game.",
	stats.MetricWorkersActive:  "Workers currently analyzing a game.",
	stats.MetricGamesExported:  "Games written by exports.",
	stats.MetricQualityScore:   "Quality scores of analyzed games.",
	stats.MetricStoredGames:    "Rows in the analysis store.",
	stats.MetricEngineCalls:    "Engine evaluation requests.",
	stats.MetricEngineRetries:  "Engine evaluation retries.",
	stats.MetricEngineRestarts: "Engine process restarts.",
	stats.MetricEvalSeconds:    "Latency of a single position evaluation.",
	stats.MetricCacheHits:      "Evaluation cache hits.",
	stats.MetricCacheMisses:    "Evaluation cache misses.",
	stats.MetricCacheSize:      "Entries in the evaluation cache.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry prometheus.Registerer
	buckets  map[string][]float64

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithBuckets overrides the histogram buckets of one metric.
func WithBuckets(name string, buckets []float64) Option {
	return func(c *Collector) { c.buckets[name] = buckets }
}

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer, opts ...Option) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry:   registry,
		buckets:    make(map[string][]float64, len(DefaultBuckets)),
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
	for name, b := range DefaultBuckets {
		c.buckets[name] = b
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		buckets, ok := c.buckets[name]
		if !ok {
			buckets = prometheus.DefBuckets
		}
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: buckets,
		})
	})
	histogram.Observe(value)
}

// getOrCreate returns the metric registered under name, creating and
// registering it on first use. A metric already registered elsewhere under
// the same name is reused.
func getOrCreate[M prometheus.Collector](c *Collector, metrics map[string]M, name string, create func() M) M {
	c.mu.RLock()
	m, ok := metrics[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if m, ok = metrics[name]; ok {
		return m
	}

	m = create()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				metrics[name] = existing
				return existing
			}
		}
		// Registration failed; the unregistered metric still works.
	}
	metrics[name] = m
	return m
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}
