// Package config defines the knobs listed in spec.md §6 ("Env/config
// knobs"). Loading these from a file, flags, or the environment is the
// CLI driver's job and is explicitly out of scope (spec.md §1); this
// package only defines the shape and sane defaults, the way the teacher's
// internal/config defines DBConfig/ObsConfig for its own out-of-core
// loader to populate.
package config

import "time"

// Config is the root configuration consumed by the memory engine and the
// coordination server. Every field has a spec-mandated default via Default.
type Config struct {
	DataDir           string
	VectorStoreURI    string
	VectorStoreToken  string
	CollectionName    string
	SurpriseThreshold float64
	DecayHalfLife     time.Duration
	HashTableSize     int
	OfflineMode       bool

	Vector    VectorConfig
	Embedding EmbeddingConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	S3        S3Config
	Obs       ObsConfig
	Coord     CoordinationConfig
	Highlight HighlightConfig
}

// EmbeddingConfig selects the embedding generator. When OfflineMode is set
// (or Backend is left "" / "pseudo"), the deterministic hash-based generator
// is used and no network calls are ever made.
type EmbeddingConfig struct {
	// Backend is one of "pseudo" (default, offline-safe) or "openai".
	Backend    string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// VectorConfig selects and tunes the pluggable vector store backend.
type VectorConfig struct {
	// Backend is one of "memory" (default, offline-safe), "qdrant", "postgres".
	Backend    string
	DSN        string
	Dimensions int
	Metric     string // cosine|l2|euclidean|ip|dot|manhattan
}

// RedisConfig configures the optional resume-token store (see DESIGN.md,
// "Redis-backed resume tokens").
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig configures the optional event-bus mirror.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// S3Config configures the optional object-store backend that /export
// uploads C10 snapshots to (see SPEC_FULL.md §4.x). There is no import path.
type S3Config struct {
	Enabled               bool
	Bucket                string
	Prefix                string
	Region                string
	AccessKey             string
	SecretKey             string
	Endpoint              string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// S3SSEConfig configures server-side encryption applied to exported snapshots.
type S3SSEConfig struct {
	// Mode is one of "" (none), "sse-s3", "sse-kms".
	Mode     string
	KMSKeyID string
}

// ObsConfig configures OpenTelemetry export.
type ObsConfig struct {
	Enabled        bool
	OTLP           string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// HighlightConfig configures the optional remote highlighting sidecar.
type HighlightConfig struct {
	Enabled        bool
	BaseURL        string
	CallTimeout    time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	Threshold      float64
}

// CoordinationConfig holds the §6 coordination defaults.
type CoordinationConfig struct {
	Port                int
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	LockExpiry          time.Duration
	MaxAgents           int
	MaxWaitQueue        int
	ConflictWindow      time.Duration
	DefaultConflictMode string
}

// Default returns the spec-mandated defaults (spec.md §6).
func Default() Config {
	return Config{
		DataDir:           "./data",
		SurpriseThreshold: 0.3,
		DecayHalfLife:     180 * 24 * time.Hour,
		HashTableSize:     1_000_000,
		OfflineMode:       true,
		Vector: VectorConfig{
			Backend:    "memory",
			Dimensions: 1024,
			Metric:     "cosine",
		},
		Embedding: EmbeddingConfig{
			Backend:    "pseudo",
			Model:      "text-embedding-3-small",
			Dimensions: 1024,
			Timeout:    30 * time.Second,
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Kafka: KafkaConfig{Topic: "cogmem.events"},
		Obs: ObsConfig{
			ServiceName:    "cogmem",
			ServiceVersion: "dev",
		},
		Highlight: HighlightConfig{
			CallTimeout:    10 * time.Second,
			HealthTimeout:  2 * time.Second,
			HealthInterval: 30 * time.Second,
			Threshold:      0.5,
		},
		Coord: CoordinationConfig{
			Port:                9876,
			HeartbeatInterval:   30 * time.Second,
			HeartbeatTimeout:    90 * time.Second,
			LockExpiry:          60 * time.Second,
			MaxAgents:           100,
			MaxWaitQueue:        50,
			ConflictWindow:      5 * time.Second,
			DefaultConflictMode: "last_write_wins",
		},
	}
}
