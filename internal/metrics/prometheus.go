package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_documents_ingested_total",
			Help: "Documents that finished ingestion, by final status",
		},
		[]string{"status"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_ingestion_duration_seconds",
			Help:    "Wall time of one document ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	PagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_pages_processed_total",
			Help: "Rasterized pages by outcome",
		},
		[]string{"outcome"},
	)

	IngestionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_ingestion_queue_depth",
			Help: "Documents waiting for an ingestion worker",
		},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_retrieval_duration_seconds",
			Help:    "Question embedding, search and provenance lookup duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)

	RetrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_retrieval_matches",
			Help:    "Matches surviving the distance threshold per question",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	IndexDrift = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_index_drift_total",
			Help: "Vector hits without a chunk row",
		},
	)

	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_stream_events_total",
			Help: "Answer stream events sent, by type",
		},
		[]string{"type"},
	)

	StreamsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_streams_aborted_total",
			Help: "Answer streams terminated without a done event",
		},
	)

	CleanupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cleanup_failures_total",
			Help: "Failed steps of best-effort deletion, by step",
		},
		[]string{"step"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DocumentsIngested,
			IngestionDuration,
			PagesProcessed,
			IngestionQueueDepth,
			RetrievalDuration,
			RetrievalMatches,
			IndexDrift,
			StreamEvents,
			StreamsAborted,
			CleanupFailures,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
