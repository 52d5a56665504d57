package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	savedRows    prometheus.Counter
	savedBytes   prometheus.Counter
	loadedChunks prometheus.Counter
	clonedRows   prometheus.Counter
	pulledRows   prometheus.Counter
	pullErrors   prometheus.Counter
	pullerState  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	var (
		f      = promauto.With(reg)
		labels = prometheus.Labels{"node": name}
	)
	counter := func(n, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   "hbs",
			Subsystem:   "node",
			Name:        n,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &metrics{
		savedRows:    counter("saved_rows_total", "Rows committed by Save calls"),
		savedBytes:   counter("saved_bytes_total", "Chunk bytes committed by Save calls"),
		loadedChunks: counter("loaded_chunks_total", "Chunks streamed by Load calls"),
		clonedRows:   counter("cloned_rows_total", "Clone-log rows served to pullers"),
		pulledRows:   counter("pulled_rows_total", "Clone-log rows applied from upstream"),
		pullErrors:   counter("pull_errors_total", "Failed upstream pulls"),
		pullerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hbs",
			Subsystem:   "node",
			Name:        "puller_state",
			Help:        "State of the replication puller (0 connecting, 1 pulling, 2 idle, 3 stopped)",
			ConstLabels: labels,
		}),
	}
}
