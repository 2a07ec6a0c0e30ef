package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlog_cycles_total",
			Help: "Collection cycles by outcome (written, duplicate, no_count, storage_error)",
		},
		[]string{"outcome"},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitorlog_fetches_total",
			Help: "Upstream fetches by source and status",
		},
		[]string{"source", "status"},
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitorlog_fetch_latency_seconds",
			Help:    "Upstream fetch latency in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	VisitorCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visitorlog_visitor_count",
			Help: "Most recently scraped visitor count",
		},
	)

	LastWriteTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visitorlog_last_write_timestamp_seconds",
			Help: "Unix time of the bucket most recently written to the CSV store",
		},
	)
)

// Cycle outcomes.
const (
	OutcomeWritten      = "written"
	OutcomeDuplicate    = "duplicate"
	OutcomeNoCount      = "no_count"
	OutcomeStorageError = "storage_error"
)
