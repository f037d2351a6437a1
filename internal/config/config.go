package config

import (
	"fmt"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	VectorBackendPostgres = "postgres"
	VectorBackendMemory   = "memory"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	// APIToken is the shared service token expected on /v1 requests.
	APIToken string `envconfig:"API_TOKEN"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	MigrationsDir    string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	// VectorBackend selects where chunk vectors live: "postgres" or "memory".
	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"postgres"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"briefly-files"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	BlobDir     string `envconfig:"BLOB_DIR" default:"./data/blobs"`

	OpenAIAPIKey         string        `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel       string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingBatchSize   int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	EmbeddingParallelism int           `envconfig:"EMBEDDING_PARALLELISM" default:"4"`
	EmbeddingTimeout     time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`

	ChunkStrategy string `envconfig:"CHUNK_STRATEGY" default:"paragraph"`
	ChunkMax      int    `envconfig:"CHUNK_MAX" default:"1000"`
	ChunkMin      int    `envconfig:"CHUNK_MIN" default:"100"`
	ChunkOverlap  int    `envconfig:"CHUNK_OVERLAP" default:"200"`

	// DedupFailOpen treats a failed checksum lookup as "not a duplicate".
	DedupFailOpen bool `envconfig:"DEDUP_FAIL_OPEN" default:"true"`

	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`
	JobMaxRetries      int           `envconfig:"JOB_MAX_RETRIES" default:"3"`
	JobClaimLimit      int           `envconfig:"JOB_CLAIM_LIMIT" default:"20"`
	JobStaleAfter      time.Duration `envconfig:"JOB_STALE_AFTER" default:"15m"`
	StaleSchedule      string        `envconfig:"STALE_SCHEDULE" default:"*/5 * * * *"`
	MaxUploadBytes     int64         `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`

	SyncSchedule string        `envconfig:"SYNC_SCHEDULE" default:"*/15 * * * *"`
	SyncPageSize int           `envconfig:"SYNC_PAGE_SIZE" default:"100"`
	SyncMaxPages int           `envconfig:"SYNC_MAX_PAGES" default:"20"`
	SyncTimeout  time.Duration `envconfig:"SYNC_TIMEOUT" default:"20s"`

	SearchCacheSize int           `envconfig:"SEARCH_CACHE_SIZE" default:"512"`
	SearchCacheTTL  time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"10m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("BRIEFLY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	switch cfg.VectorBackend {
	case VectorBackendPostgres, VectorBackendMemory:
	default:
		return nil, fmt.Errorf("invalid VECTOR_BACKEND %q", cfg.VectorBackend)
	}

	if _, err := domain.ParseChunkStrategy(cfg.ChunkStrategy); err != nil {
		return nil, fmt.Errorf("invalid CHUNK_STRATEGY %q: %w", cfg.ChunkStrategy, err)
	}
	if err := cfg.ChunkParams().Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk settings: %w", err)
	}

	return &cfg, nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// ChunkParams builds the default chunking parameters from the environment.
func (c *Config) ChunkParams() domain.ChunkParams {
	p := domain.DefaultChunkParams()
	p.MaxChunkSize = c.ChunkMax
	p.MinChunkSize = c.ChunkMin
	p.Overlap = c.ChunkOverlap
	return p
}

// DefaultStrategy returns the configured chunking strategy. Load has already
// validated it.
func (c *Config) DefaultStrategy() domain.ChunkStrategy {
	return domain.ChunkStrategy(c.ChunkStrategy)
}
