package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	storedBlobs  prometheus.Counter
	storedBytes  prometheus.Counter
	dedupHits    prometheus.Counter
	fetches      *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	uploadBytes  prometheus.Counter
	saveDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		storedBlobs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "stored_blobs_total",
			Help:      "Blobs newly stored by Save and Upload",
		}),
		storedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "stored_bytes_total",
			Help:      "Bytes newly stored by Save and Upload",
		}),
		dedupHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "dedup_hits_total",
			Help:      "Blobs not stored because the index already had them",
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "fetches_total",
			Help:      "Fetch calls by outcome",
		}, []string{"outcome"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "uploads_total",
			Help:      "Upload calls by outcome",
		}, []string{"outcome"}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "upload_bytes_total",
			Help:      "Bytes received by Upload calls",
		}),
		saveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hbs",
			Subsystem: "router",
			Name:      "save_duration_seconds",
			Help:      "Duration of Save calls that reached a storage node",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
