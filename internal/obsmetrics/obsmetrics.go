// Package obsmetrics registers the kernel's Prometheus collectors
// (grounded on NayanaChandrika99-DocReasoner's use of
// github.com/prometheus/client_golang). The core never starts an HTTP
// server itself; Handler() returns an http.Handler for the host
// application to mount wherever it already exposes metrics.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Collectors groups every metric the engine updates.
type Collectors struct {
	registry *prometheus.Registry

	CommitCount     prometheus.Counter
	CheckpointCount prometheus.Counter
	CompactionCount prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	ActiveReaders   prometheus.Gauge
}

// New registers a fresh, isolated set of collectors. Isolated
// (non-default) registries let multiple engines coexist in one process
// (e.g. in tests) without colliding metric names.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		CommitCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphkernel_commit_total",
			Help: "Number of batch commits applied.",
		}),
		CheckpointCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphkernel_checkpoint_total",
			Help: "Number of checkpoints written.",
		}),
		CompactionCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphkernel_compaction_total",
			Help: "Number of compaction runs completed.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphkernel_page_cache_hits_total",
			Help: "Pager LRU cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphkernel_page_cache_misses_total",
			Help: "Pager LRU cache misses.",
		}),
		ActiveReaders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "graphkernel_active_readers",
			Help: "Current size of the reader registry.",
		}),
	}
}

// Handler exposes the collectors over HTTP in the Prometheus exposition
// format, for the host application to mount.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
