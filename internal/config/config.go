package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Submissions   SubmissionsConfig   `yaml:"submissions"`
	Verification  VerificationConfig  `yaml:"verification"`
	Inference     InferenceConfig     `yaml:"inference"`
	NATS          NATSConfig          `yaml:"nats"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StoreConfig selects the physical backend of the page store.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // "file" or "memory"
	DataDir    string `yaml:"data_dir"`
	MaxPages   int    `yaml:"max_pages"` // per region, 0 = unlimited
	SyncWrites bool   `yaml:"sync_writes"`
}

type MetadataConfig struct {
	Path   string `yaml:"path"`
	NoSync bool   `yaml:"no_sync"`
}

type SubmissionsConfig struct {
	MaxChunks     int      `yaml:"max_chunks"` // highest accepted chunk index + 1, 0 = unlimited, rejected when the API or ingest is on
	MaxAge        Duration `yaml:"max_age"`    // reap untouched submissions, 0 = never
	SweepInterval Duration `yaml:"sweep_interval"`
}

type VerificationConfig struct {
	TargetLabel string `yaml:"target_label"`
	DefaultMIME string `yaml:"default_mime"`
}

type InferenceConfig struct {
	SubjectPrefix string   `yaml:"subject_prefix"`
	Timeout       Duration `yaml:"timeout"`
	Recognizer    string   `yaml:"recognizer"` // "remote" or "embedding"
	ModelsBucket  string   `yaml:"models_bucket"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
	ReconnectBuffer ByteSize  `yaml:"reconnect_buffer"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// IngestConfig enables the durable JetStream chunk consumer.
type IngestConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Stream       string   `yaml:"stream"`
	Subjects     []string `yaml:"subjects"`
	ConsumerName string   `yaml:"consumer_name"`
	FetchBatch   int      `yaml:"fetch_batch"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	// AutoMirror consumes from a Limits mirror when the stream is a
	// WorkQueue that already has another consumer.
	AutoMirror   bool     `yaml:"auto_mirror"`
	MirrorMaxAge Duration `yaml:"mirror_max_age"`
}

// SnapshotConfig points region snapshots at an S3-compatible bucket.
type SnapshotConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	Compression     string `yaml:"compression"` // "zstd" or "none"
	// Interval schedules periodic snapshots. Zero disables the schedule.
	Interval Duration `yaml:"interval"`
	// Retain keeps the newest N snapshots per region. Zero keeps all.
	Retain int `yaml:"retain"`
}

type APIConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Listen        string              `yaml:"listen"`
	MaxBodyBytes  ByteSize            `yaml:"max_body_bytes"`
	NATSResponder NATSResponderConfig `yaml:"nats_responder"`
}

type NATSResponderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// NeedsNATS reports whether any enabled subsystem talks to NATS.
func (c *Config) NeedsNATS() bool {
	return c.Inference.SubjectPrefix != "" || c.Ingest.Enabled || c.API.NATSResponder.Enabled
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the file backend")
		}
	default:
		return fmt.Errorf("store.backend must be \"file\" or \"memory\", got %q", c.Store.Backend)
	}
	if c.Store.MaxPages < 0 {
		return fmt.Errorf("store.max_pages must be >= 0")
	}

	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}

	if c.Submissions.MaxChunks < 0 {
		return fmt.Errorf("submissions.max_chunks must be >= 0")
	}
	if c.Submissions.MaxChunks == 0 && (c.API.Enabled || c.API.NATSResponder.Enabled || c.Ingest.Enabled) {
		return fmt.Errorf("submissions.max_chunks must be > 0 when chunks are accepted from the network")
	}
	if c.Submissions.MaxAge > 0 && c.Submissions.SweepInterval <= 0 {
		return fmt.Errorf("submissions.sweep_interval must be > 0 when max_age is set")
	}

	if c.Verification.TargetLabel == "" {
		return fmt.Errorf("verification.target_label is required")
	}

	switch c.Inference.Recognizer {
	case "remote", "embedding":
	default:
		return fmt.Errorf("inference.recognizer must be \"remote\" or \"embedding\", got %q", c.Inference.Recognizer)
	}
	if c.Inference.SubjectPrefix == "" {
		return fmt.Errorf("inference.subject_prefix is required")
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be > 0")
	}

	if c.NeedsNATS() && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	if c.Ingest.Enabled {
		if c.Ingest.Stream == "" {
			return fmt.Errorf("ingest.stream is required when ingest is enabled")
		}
		if c.Ingest.ConsumerName == "" {
			return fmt.Errorf("ingest.consumer_name is required when ingest is enabled")
		}
	}

	if c.Snapshot.Enabled {
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket is required when snapshots are enabled")
		}
		switch c.Snapshot.Compression {
		case "", "none", "zstd":
		default:
			return fmt.Errorf("snapshot.compression must be \"zstd\" or \"none\", got %q", c.Snapshot.Compression)
		}
		if c.Snapshot.Retain < 0 {
			return fmt.Errorf("snapshot.retain must not be negative")
		}
	}

	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "256MB", "10GB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		// Try as integer
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func parseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "GB":
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
