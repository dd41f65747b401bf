package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "file",
			DataDir: "/var/lib/artgate/regions",
		},
		Metadata: MetadataConfig{
			Path: "/var/lib/artgate/meta.db",
		},
		Submissions: SubmissionsConfig{
			MaxChunks:     4096,
			MaxAge:        Duration(24 * time.Hour),
			SweepInterval: Duration(5 * time.Minute),
		},
		Verification: VerificationConfig{
			TargetLabel: "lain",
			DefaultMIME: "image/jpeg",
		},
		Inference: InferenceConfig{
			SubjectPrefix: "inference",
			Timeout:       Duration(30 * time.Second),
			Recognizer:    "remote",
			ModelsBucket:  "artgate-models",
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			ConnectionName:  "artgate",
			MaxReconnects:   -1,
			ReconnectWait:   Duration(2 * time.Second),
			ReconnectBuffer: ByteSize(16 * 1024 * 1024),
		},
		Ingest: IngestConfig{
			Stream:       "ARTGATE_CHUNKS",
			Subjects:     []string{"artgate.chunks.>"},
			ConsumerName: "artgate-ingest",
			FetchBatch:   64,
			FetchTimeout: Duration(5 * time.Second),
			AutoMirror:   true,
			MirrorMaxAge: Duration(72 * time.Hour),
		},
		Snapshot: SnapshotConfig{
			Region:      "us-east-1",
			Prefix:      "artgate",
			Compression: "zstd",
		},
		API: APIConfig{
			Enabled:      true,
			Listen:       ":8080",
			MaxBodyBytes: ByteSize(64 * 1024 * 1024), // 64MB
			NATSResponder: NATSResponderConfig{
				Enabled:       false,
				SubjectPrefix: "artgate.api",
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
