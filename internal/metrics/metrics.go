// Package metrics exposes initial-sync progress as Prometheus metrics. The
// collector is fed from stats-aggregator snapshots, which is exactly the
// concurrent read path the aggregator is built for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vbp1/mongoclone/internal/repl"
)

type Collector struct {
	databasesTotal    prometheus.Gauge
	databasesCloned   prometheus.Gauge
	collectionsCloned prometheus.Gauge
	documentsCopied   prometheus.Gauge
	bytesCopied       prometheus.Gauge
	sourceSizeOnDisk  prometheus.Gauge
}

// New creates the collector and registers its metrics on reg (the default
// registerer when nil).
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		databasesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongoclone_databases_total",
			Help: "Number of databases enumerated for the clone",
		}),
		databasesCloned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongoclone_databases_cloned",
			Help: "Number of databases cloned to completion",
		}),
		collectionsCloned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongoclone_collections_cloned",
			Help: "Number of collections cloned to completion",
		}),
		documentsCopied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongoclone_documents_copied",
			Help: "Documents copied so far, including the in-flight database",
		}),
		bytesCopied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongoclone_bytes_copied",
			Help: "Raw BSON bytes copied so far",
		}),
		sourceSizeOnDisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongoclone_source_size_on_disk_bytes",
			Help: "Total database size the sync source reported",
		}),
	}
	reg.MustRegister(c.databasesTotal, c.databasesCloned, c.collectionsCloned,
		c.documentsCopied, c.bytesCopied, c.sourceSizeOnDisk)
	return c
}

// Observe updates all gauges from one stats snapshot.
func (c *Collector) Observe(stats repl.Stats) {
	var collections int
	var documents, bytes int64
	for _, db := range stats.Databases {
		collections += db.ClonedCollections
		for _, coll := range db.CollectionStats {
			documents += coll.DocumentsCopied
			bytes += coll.BytesCopied
		}
	}
	c.databasesTotal.Set(float64(len(stats.Databases)))
	c.databasesCloned.Set(float64(stats.DatabasesCloned))
	c.collectionsCloned.Set(float64(collections))
	c.documentsCopied.Set(float64(documents))
	c.bytesCopied.Set(float64(bytes))
}

// SetSourceSize records the size the source reported during enumeration.
func (c *Collector) SetSourceSize(bytes int64) {
	c.sourceSizeOnDisk.Set(float64(bytes))
}

// Serve starts the metrics HTTP endpoint. It blocks, so run it on its own
// goroutine; errors other than server shutdown are returned.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
