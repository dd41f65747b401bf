package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	yaml := `
store:
  backend: "file"
  data_dir: "/tmp/artgate/test/regions"
  max_pages: 512

metadata:
  path: "/tmp/artgate/test-meta.db"

submissions:
  max_chunks: 1024
  max_age: "1h"
  sweep_interval: "30s"

verification:
  target_label: "Lain"

inference:
  subject_prefix: "gpu.inference"
  timeout: "10s"
  recognizer: "embedding"

nats:
  url: "nats://localhost:4222"

api:
  listen: ":9000"
  max_body_bytes: "16MB"
`
	tmpFile, err := os.CreateTemp("", "artgate-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.WriteString(yaml)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Store.MaxPages != 512 {
		t.Errorf("unexpected max_pages: %d", cfg.Store.MaxPages)
	}
	if cfg.Submissions.MaxChunks != 1024 {
		t.Errorf("unexpected max_chunks: %d", cfg.Submissions.MaxChunks)
	}
	if cfg.Submissions.MaxAge.Duration() != time.Hour {
		t.Errorf("unexpected max_age: %v", cfg.Submissions.MaxAge.Duration())
	}
	if cfg.Verification.TargetLabel != "Lain" {
		t.Errorf("unexpected target label: %s", cfg.Verification.TargetLabel)
	}
	// Unset fields keep their defaults.
	if cfg.Verification.DefaultMIME != "image/jpeg" {
		t.Errorf("unexpected default mime: %s", cfg.Verification.DefaultMIME)
	}
	if cfg.Inference.Recognizer != "embedding" {
		t.Errorf("unexpected recognizer: %s", cfg.Inference.Recognizer)
	}
	if int64(cfg.API.MaxBodyBytes) != 16*1024*1024 {
		t.Errorf("unexpected max_body_bytes: %d", cfg.API.MaxBodyBytes)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateStoreBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "tape"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}

	cfg = DefaultConfig()
	cfg.Store.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for file backend without data_dir")
	}

	cfg.Store.Backend = "memory"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory backend needs no data_dir: %v", err)
	}
}

func TestValidateRecognizer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inference.Recognizer = "psychic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown recognizer")
	}
}

func TestValidateSnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Snapshot.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for snapshots without bucket")
	}

	cfg.Snapshot.Bucket = "artgate"
	cfg.Snapshot.Compression = "lz4"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown compression")
	}
}

func TestValidateIngest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.Enabled = true
	cfg.Ingest.Stream = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for ingest without stream")
	}
}

func TestParseByteSizes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1KB", 1024},
		{"256MB", 256 * 1024 * 1024},
		{"10GB", 10 * 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
		{"100B", 100},
	}
	for _, tt := range tests {
		result, err := parseByteSize(tt.input)
		if err != nil {
			t.Errorf("parseByteSize(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("parseByteSize(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestValidateChunkBound(t *testing.T) {
	if DefaultConfig().Submissions.MaxChunks <= 0 {
		t.Fatal("default max_chunks must be bounded")
	}

	cfg := DefaultConfig()
	cfg.Submissions.MaxChunks = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unbounded max_chunks with the API enabled")
	}

	cfg.API.Enabled = false
	cfg.API.NATSResponder.Enabled = false
	cfg.Ingest.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unbounded max_chunks without network intake should validate: %v", err)
	}
}
