package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Page store metrics
	RegionBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "artgate_region_bytes",
		Help: "Logical length of each region",
	}, []string{"region"})

	RegionPages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "artgate_region_pages",
		Help: "Pages allocated to each region",
	}, []string{"region"})

	RegionGrowths = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_region_growths_total",
		Help: "Successful region growth operations",
	}, []string{"region"})

	Traps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_region_traps_total",
		Help: "Calls aborted because a region could not grow",
	}, []string{"region"})

	// Submission metrics
	SubmissionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artgate_submissions_started_total",
		Help: "Submissions opened",
	})

	SubmissionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artgate_submissions_open",
		Help: "Submissions currently held in the registry",
	})

	SubmissionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artgate_submissions_reaped_total",
		Help: "Submissions dropped by the idle reaper",
	})

	ChunksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_chunks_received_total",
		Help: "Chunks stored, by transport",
	}, []string{"source"})

	ChunkBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_chunk_bytes_total",
		Help: "Chunk payload bytes stored, by transport",
	}, []string{"source"})

	// Verification metrics
	VerificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_verification_outcomes_total",
		Help: "Verification results by outcome",
	}, []string{"outcome"})

	VerificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artgate_verification_duration_seconds",
		Help:    "Time spent in each verification stage",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"stage"})

	// Inference metrics
	InferenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_inference_requests_total",
		Help: "Requests sent to the inference workers",
	}, []string{"op", "status"})

	InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artgate_inference_latency_seconds",
		Help:    "Inference request round-trip latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"op"})

	// Store sizes
	RecordsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artgate_records_total",
		Help: "Approved records stored",
	})

	EmbeddingsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artgate_embeddings_total",
		Help: "Live entries in the embedding table",
	})

	EmbeddingCompactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artgate_embedding_compactions_total",
		Help: "Embedding log compactions",
	})

	// Snapshot metrics
	SnapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artgate_snapshot_duration_seconds",
		Help:    "Region snapshot upload or restore latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"op"})

	SnapshotErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_snapshot_errors_total",
		Help: "Region snapshot failures",
	}, []string{"op", "region"})

	SnapshotBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_snapshot_bytes_total",
		Help: "Compressed bytes written to or read from object storage",
	}, []string{"op", "region"})

	// Ingest metrics
	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_ingest_messages_total",
		Help: "Chunk messages consumed from JetStream",
	}, []string{"status"})

	ConsumerLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artgate_ingest_consumer_lag_messages",
		Help: "Chunk messages pending in JetStream not yet applied",
	})

	// API metrics
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artgate_api_requests_total",
		Help: "API requests by transport, operation and status",
	}, []string{"transport", "op", "status"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
