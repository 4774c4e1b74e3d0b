package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Valkey   ValkeyConfig
	Storage  StorageConfig
	MinIO    MinIOConfig
	S3       S3Config
	Bedrock  BedrockConfig
	Stages   StagesConfig
	Pipeline PipelineConfig
	Queue    QueueConfig
	Sync     SyncConfig
	LogLevel slog.Level
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ValkeyConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig selects the object storage backend.
type StorageConfig struct {
	Backend string // "minio" or "s3"
}

type MinIOConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string // optional: restricts sync and listening to one bucket
	UseSSL       bool
	ListenEvents bool
}

type S3Config struct {
	Region   string // S3_REGION
	Bucket   string // S3_BUCKET
	Endpoint string // S3_ENDPOINT (for MinIO/LocalStack compatibility)
}

type BedrockConfig struct {
	Region  string
	ModelID string
}

// StagesConfig holds the endpoints of the downstream processing services.
// An empty optional endpoint disables its stage.
type StagesConfig struct {
	Extractor             string // TEXT_EXTRACTOR_ENDPOINT
	HierarchicalExtractor string // HIERARCHICAL_DATAPREP_ENDPOINT
	Compressor            string // TEXT_COMPRESSION_ENDPOINT
	Splitter              string // TEXT_SPLITTER_ENDPOINT
	Guard                 string // DPGUARD_ENDPOINT
	Fingerprint           string // FINGERPRINT_ENDPOINT
	Embedding             string // EMBEDDING_ENDPOINT
	LateChunking          string // LATE_CHUNKING_ENDPOINT
	Ingestion             string // INGESTION_ENDPOINT

	GuardEnabled        bool
	LateChunkingEnabled bool
	EmbeddingProvider   string // "http" or "bedrock"
	IngestionBackend    string // "http" or "pgvector"
	Timeout             time.Duration
	BreakerFailures     int
	BreakerCooldown     time.Duration
}

type PipelineConfig struct {
	BatchSize        int
	MaxWorkers       int
	EagerErrorStatus bool
}

type QueueConfig struct {
	Concurrency    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ClaimTimeout   time.Duration
	ConsumerID     string
	MetricsAddr    string // worker metrics listener; empty disables it
}

type SyncConfig struct {
	Interval time.Duration
	Enabled  bool
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 5000),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SECS", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SECS", 60)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docflow"),
			Password: getEnv("DB_PASSWORD", "docflow"),
			Name:     getEnv("DB_NAME", "docflow"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Valkey: ValkeyConfig{
			Addr:     getEnv("VALKEY_ADDR", "localhost:6379"),
			Password: getEnv("VALKEY_PASSWORD", ""),
			DB:       getEnvInt("VALKEY_DB", 0),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "minio")),
		},
		MinIO: MinIOConfig{
			Endpoint:     getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:    getEnv("MINIO_ACCESS_KEY", "docflow"),
			SecretKey:    getEnv("MINIO_SECRET_KEY", "docflow123"),
			Bucket:       getEnv("MINIO_BUCKET", ""),
			UseSSL:       getEnvBool("MINIO_USE_SSL", false),
			ListenEvents: getEnvBool("MINIO_LISTEN_EVENTS", false),
		},
		S3: S3Config{
			Region:   getEnv("S3_REGION", ""),
			Bucket:   getEnv("S3_BUCKET", ""),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Bedrock: BedrockConfig{
			Region:  getEnv("BEDROCK_REGION", "us-east-1"),
			ModelID: getEnv("BEDROCK_MODEL_ID", "cohere.embed-english-v3"),
		},
		Stages: StagesConfig{
			Extractor:             getEnv("TEXT_EXTRACTOR_ENDPOINT", "http://localhost:9398/v1/text_extractor"),
			HierarchicalExtractor: getEnv("HIERARCHICAL_DATAPREP_ENDPOINT", ""),
			Compressor:            getEnv("TEXT_COMPRESSION_ENDPOINT", "http://localhost:9397/v1/text_compression"),
			Splitter:              getEnv("TEXT_SPLITTER_ENDPOINT", "http://localhost:9399/v1/text_splitter"),
			Guard:                 getEnv("DPGUARD_ENDPOINT", ""),
			Fingerprint:           getEnv("FINGERPRINT_ENDPOINT", ""),
			Embedding:             getEnv("EMBEDDING_ENDPOINT", "http://localhost:6000/v1/embeddings"),
			LateChunking:          getEnv("LATE_CHUNKING_ENDPOINT", ""),
			Ingestion:             getEnv("INGESTION_ENDPOINT", "http://localhost:6120/v1/ingestion"),
			GuardEnabled:          getEnvBool("DPGUARD_ENABLED", false),
			LateChunkingEnabled:   getEnvBool("USE_LATE_CHUNKING", false),
			EmbeddingProvider:     strings.ToLower(getEnv("EMBEDDING_PROVIDER", "http")),
			IngestionBackend:      strings.ToLower(getEnv("INGESTION_BACKEND", "http")),
			Timeout:               time.Duration(getEnvInt("STAGE_TIMEOUT_SECS", 300)) * time.Second,
			BreakerFailures:       getEnvInt("STAGE_BREAKER_FAILURES", 5),
			BreakerCooldown:       time.Duration(getEnvInt("STAGE_BREAKER_COOLDOWN_SECS", 30)) * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:        getEnvInt("BATCH_SIZE", 32),
			MaxWorkers:       getEnvInt("MAX_NEW_WORKERS", 8),
			EagerErrorStatus: getEnvBool("EAGER_ERROR_STATUS", true),
		},
		Queue: QueueConfig{
			Concurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
			MaxRetries:     getEnvInt("TASK_MAX_RETRIES", 3),
			RetryBaseDelay: time.Duration(getEnvInt("TASK_RETRY_BASE_DELAY_SECS", 2)) * time.Second,
			RetryMaxDelay:  time.Duration(getEnvInt("TASK_RETRY_MAX_DELAY_SECS", 120)) * time.Second,
			ClaimTimeout:   time.Duration(getEnvInt("TASK_CLAIM_TIMEOUT_SECS", 1800)) * time.Second,
			ConsumerID:     getEnv("WORKER_CONSUMER_ID", "worker-"+hostname),
			MetricsAddr:    getEnv("WORKER_METRICS_ADDR", ":9102"),
		},
		Sync: SyncConfig{
			Interval: time.Duration(getEnvInt("EDP_SYNC_TASK_TIME_SECONDS", 300)) * time.Second,
			Enabled:  getEnvBool("EDP_SYNC_ENABLED", true),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if cfg.Pipeline.BatchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_NEW_WORKERS must be positive, got %d", cfg.Pipeline.MaxWorkers)
	}
	switch cfg.Storage.Backend {
	case "minio", "s3":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be minio or s3, got %q", cfg.Storage.Backend)
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
