package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram a wrapper.Wrapper updates as it
// serves build/insert/delete/search/flush calls. One instance is shared
// across every handle a registry.Registry manages, mirroring the teacher's
// one-Metrics-per-Database, many-Collections-share-it wiring
// (libravdb/database.go's Database.metrics passed into newCollection).
type Metrics struct {
	InsertsTotal  prometheus.Counter
	DeletesTotal  prometheus.Counter
	SearchesTotal prometheus.Counter
	SearchErrors  prometheus.Counter
	SearchLatency prometheus.Histogram
	FlushesTotal  prometheus.Counter
	FlushErrors   prometheus.Counter
}

// NewMetrics registers a fresh metric set against the default Prometheus
// registry. Callers must construct at most one Metrics per process (the
// underlying promauto calls panic on a duplicate name); registry.Registry
// does this once and hands the pointer to every wrapper.Wrapper it builds
// or loads.
func NewMetrics() *Metrics {
	return &Metrics{
		InsertsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vectord_inserts_total",
			Help: "Total vectors inserted across all handles",
		}),
		DeletesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vectord_deletes_total",
			Help: "Total logical deletes across all handles",
		}),
		SearchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vectord_searches_total",
			Help: "Total search queries served",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vectord_search_errors_total",
			Help: "Total search queries that returned an error",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "vectord_search_latency_seconds",
			Help: "Search latency in seconds",
		}),
		FlushesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vectord_flushes_total",
			Help: "Total Flush calls that reached the WAL and index persistence path",
		}),
		FlushErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vectord_flush_errors_total",
			Help: "Total Flush calls that failed, including circuit-breaker rejections",
		}),
	}
}
