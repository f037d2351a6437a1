package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloo-solutions/briefly/internal/config"
	"github.com/cloo-solutions/briefly/internal/database"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/extract"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/openai"
	"github.com/cloo-solutions/briefly/internal/provider"
	"github.com/cloo-solutions/briefly/internal/repository"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/cloo-solutions/briefly/internal/storage"
	"github.com/cloo-solutions/briefly/internal/vectorstore/memory"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// app holds the wired services shared by the daemon and the one-shot
// admin commands.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	files   *repository.FileRecordRepository
	jobs    *repository.IngestionJobRepository
	conns   *repository.SyncConnectionRepository
	creds   *repository.CredentialRepository
	ingest  *service.IngestionService
	dedup   *service.DedupService
	search  *service.SearchService
	sync    *service.SyncService
	vectors *service.VectorStore
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// newApp connects to the database and wires every service from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.FromContext(ctx)

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("connected to database")

	a := &app{
		cfg:   cfg,
		pool:  pool,
		files: repository.NewFileRecordRepository(pool),
		jobs:  repository.NewIngestionJobRepository(pool),
		conns: repository.NewSyncConnectionRepository(pool),
		creds: repository.NewCredentialRepository(pool),
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	var index service.VectorIndex = repository.NewChunkRepository(pool)
	if cfg.VectorBackend == config.VectorBackendMemory {
		index = memory.NewStorage()
		log.Warn("using in-memory vector index; vectors are lost on restart")
	}
	a.vectors = service.NewVectorStore(index)

	var embedClient service.EmbeddingClient
	if cfg.HasOpenAI() {
		embedClient = openai.NewClientWithConfig(openai.Config{APIKey: cfg.OpenAIAPIKey, Timeout: cfg.EmbeddingTimeout})
	} else {
		log.Warn("no platform embedding key configured; only owners with their own key can be indexed")
	}
	embedder := service.NewEmbeddingService(embedClient, index, service.EmbeddingConfig{
		Model:       cfg.EmbeddingModel,
		BatchSize:   cfg.EmbeddingBatchSize,
		Parallelism: cfg.EmbeddingParallelism,
	}).WithOwnerKeys(a.creds, func(apiKey string) service.EmbeddingClient {
		return openai.NewClientWithConfig(openai.Config{APIKey: apiKey, Timeout: cfg.EmbeddingTimeout})
	})

	a.dedup = service.NewDedupService(a.files, cfg.DedupFailOpen)

	httpClient := &http.Client{Timeout: cfg.SyncTimeout}
	a.ingest = service.NewIngestionService(service.IngestionDeps{
		Files:      a.files,
		Jobs:       a.jobs,
		TxRunner:   repository.NewTxRunner(pool),
		Blobs:      blobs,
		Downloader: provider.NewHTTPDownloader(nil, provider.DownloaderConfig{MaxBytes: cfg.MaxUploadBytes}),
		Tokens:     a.creds,
		Extractor:  extract.New(),
		Dedup:      a.dedup,
		Chunker:    service.NewChunker(cfg.DefaultStrategy(), cfg.ChunkParams()),
		Embedder:   embedder,
		Vectors:    a.vectors,
	}, cfg.MaxUploadBytes)

	listers := map[domain.Provider]service.FileLister{
		domain.ProviderGoogle:    provider.NewGoogleDrive(httpClient, ""),
		domain.ProviderMicrosoft: provider.NewOneDrive(httpClient, ""),
	}
	a.sync = service.NewSyncService(a.conns, a.files, a.creds, listers, a.ingest, service.SyncConfig{
		PageSize:     cfg.SyncPageSize,
		MaxPages:     cfg.SyncMaxPages,
		FetchTimeout: cfg.SyncTimeout,
	})

	a.search = service.NewSearchService(embedder, a.vectors, a.files, cfg.SearchCacheSize, cfg.SearchCacheTTL)

	return a, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (service.BlobStore, error) {
	log := logging.FromContext(ctx)

	if !cfg.HasS3() {
		local, err := storage.NewLocalStore(cfg.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open blob directory: %w", err)
		}
		log.Info("using local blob store", zap.String("dir", cfg.BlobDir))
		return local, nil
	}

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Info("S3 bucket ready", zap.String("bucket", cfg.S3Bucket))
	return s3Client, nil
}

// setupLogging installs the process logger and returns a context carrying it.
func setupLogging(ctx context.Context, cfg *config.Config) (context.Context, func(), error) {
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("failed to build logger: %w", err)
	}
	logging.SetBase(logger)
	return logging.WithLogger(ctx, logger), func() { _ = logger.Sync() }, nil
}
