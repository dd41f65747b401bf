package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsServer_MetricsEndpoint(t *testing.T) {
	// Vec metrics only show up after WithLabelValues() is called.
	RegionBytes.WithLabelValues("records").Set(0)
	RegionPages.WithLabelValues("records").Set(0)
	RegionGrowths.WithLabelValues("records").Add(0)
	Traps.WithLabelValues("records").Add(0)
	ChunksReceived.WithLabelValues("http").Add(0)
	ChunkBytes.WithLabelValues("http").Add(0)
	VerificationOutcomes.WithLabelValues("approved").Add(0)
	VerificationDuration.WithLabelValues("detect").Observe(0)
	InferenceRequests.WithLabelValues("detect", "ok").Add(0)
	InferenceLatency.WithLabelValues("detect").Observe(0)
	SnapshotDuration.WithLabelValues("upload").Observe(0)
	SnapshotErrors.WithLabelValues("upload", "records").Add(0)
	SnapshotBytes.WithLabelValues("upload", "records").Add(0)
	IngestMessages.WithLabelValues("ok").Add(0)
	APIRequests.WithLabelValues("http", "start", "ok").Add(0)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"artgate_region_bytes",
		"artgate_region_pages",
		"artgate_region_growths_total",
		"artgate_region_traps_total",
		"artgate_submissions_started_total",
		"artgate_submissions_open",
		"artgate_submissions_reaped_total",
		"artgate_chunks_received_total",
		"artgate_chunk_bytes_total",
		"artgate_verification_outcomes_total",
		"artgate_verification_duration_seconds",
		"artgate_inference_requests_total",
		"artgate_inference_latency_seconds",
		"artgate_records_total",
		"artgate_embeddings_total",
		"artgate_embedding_compactions_total",
		"artgate_snapshot_duration_seconds",
		"artgate_snapshot_errors_total",
		"artgate_snapshot_bytes_total",
		"artgate_ingest_messages_total",
		"artgate_ingest_consumer_lag_messages",
		"artgate_api_requests_total",
	}

	for _, name := range expectedMetrics {
		if !strings.Contains(body, name) {
			t.Errorf("expected /metrics to contain %q", name)
		}
	}

	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "text/openmetrics") {
		t.Errorf("expected text/plain or openmetrics content type, got %s", ct)
	}
}
