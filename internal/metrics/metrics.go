// Package metrics exposes Prometheus counters for import outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinsync_imports_total",
		Help: "Number of import runs, labeled by format and outcome.",
	}, []string{"format", "outcome"})

	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinsync_records_total",
		Help: "Number of records processed by the persister, labeled by entity and outcome.",
	}, []string{"entity", "outcome"})

	ImportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinsync_import_duration_seconds",
		Help:    "Wall-clock duration of import runs by format.",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})
)
