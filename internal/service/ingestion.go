package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/pagination"
	"github.com/cloo-solutions/briefly/internal/telemetry"
	"go.uber.org/zap"
)

// IngestionDeps are the collaborators of IngestionService. Downloader and
// Tokens may be nil when only direct uploads are accepted.
type IngestionDeps struct {
	Files      FileRepository
	Jobs       IngestionJobRepository
	TxRunner   TxRunner
	Blobs      BlobStore
	Downloader Downloader
	Tokens     TokenSource
	Extractor  TextExtractor
	Dedup      *DedupService
	Chunker    *Chunker
	Embedder   *EmbeddingService
	Vectors    *VectorStore
}

// IngestionService accepts file references and runs them through
// dedup, extraction, chunking, embedding and vector storage.
type IngestionService struct {
	deps           IngestionDeps
	maxUploadBytes int64
	uuidGen        UUIDGenerator
}

// NewIngestionService creates an IngestionService. maxUploadBytes <= 0
// disables the size check.
func NewIngestionService(deps IngestionDeps, maxUploadBytes int64) *IngestionService {
	return NewIngestionServiceWithUUIDGen(deps, maxUploadBytes, &DefaultUUIDGenerator{})
}

// NewIngestionServiceWithUUIDGen creates an IngestionService with custom UUID generator (for testing)
func NewIngestionServiceWithUUIDGen(deps IngestionDeps, maxUploadBytes int64, uuidGen UUIDGenerator) *IngestionService {
	return &IngestionService{deps: deps, maxUploadBytes: maxUploadBytes, uuidGen: uuidGen}
}

// AcceptOptions tune how an accepted file is processed.
type AcceptOptions struct {
	ForceRegenerate bool
}

// AcceptResult is returned once a file is registered and queued. Indexing
// outcome is observed separately through the record's status.
type AcceptResult struct {
	File *domain.FileRecord
	Job  *domain.IngestionJob
	// Requeued is set when the reference matched an existing cloud file.
	Requeued bool
}

// Accept registers ref and queues it for processing. A cloud reference that
// matches an existing record by external id refreshes that record instead of
// creating a second one.
func (s *IngestionService) Accept(ctx context.Context, ref domain.FileReference, opts AcceptOptions) (*AcceptResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Accept", telemetry.SpanAttributes{
		OwnerID:   ref.OwnerID,
		FileID:    ref.FileID,
		Operation: "accept",
	})
	defer span.End()

	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if ref.Content != nil {
		if s.maxUploadBytes > 0 && int64(len(ref.Content)) > s.maxUploadBytes {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("file exceeds maximum size of %d bytes", s.maxUploadBytes))
		}
		ref.Size = int64(len(ref.Content))
	}

	if ref.Source.IsCloud() {
		existing, err := s.deps.Files.GetByExternalID(ctx, ref.OwnerID, ref.Source, ref.ExternalID)
		switch {
		case err == nil:
			return s.requeue(ctx, existing, ref, opts)
		case !errors.Is(err, domain.ErrFileNotFound):
			return nil, fmt.Errorf("failed to look up external file: %w", err)
		}
	}

	now := time.Now().UTC()
	fileID := ref.FileID
	if fileID == "" {
		fileID = s.uuidGen.NewString()
	}

	record := &domain.FileRecord{
		ID:           fileID,
		OwnerID:      ref.OwnerID,
		Filename:     ref.Filename,
		MimeType:     ref.MimeType,
		Size:         ref.Size,
		Source:       ref.Source,
		ExternalID:   ref.ExternalID,
		Revision:     ref.Revision,
		LastModified: ref.LastModified,
		DownloadURL:  ref.DownloadURL,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if ref.Content != nil {
		record.Checksum = Checksum(ref.Content)
		record.StorageKey = blobKey(ref.OwnerID, fileID)
		if err := s.deps.Blobs.Put(ctx, record.StorageKey, ref.Content, ref.MimeType); err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("failed to store file content: %w", err)
		}
	}

	job := domain.NewIngestionJob(s.uuidGen.NewString(), fileID, ref.OwnerID, opts.ForceRegenerate, now)

	err := s.deps.TxRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Files().Create(ctx, record); err != nil {
			return err
		}
		return repos.IngestionJobs().Create(ctx, job)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	logging.FromContext(ctx).Info("file accepted",
		zap.String("owner_id", record.OwnerID),
		zap.String("file_id", record.ID),
		zap.String("source", string(record.Source)),
		zap.String("job_id", job.ID),
	)
	return &AcceptResult{File: record, Job: job}, nil
}

func (s *IngestionService) requeue(ctx context.Context, existing *domain.FileRecord, ref domain.FileReference, opts AcceptOptions) (*AcceptResult, error) {
	existing.Filename = ref.Filename
	existing.MimeType = ref.MimeType
	existing.Size = ref.Size
	existing.Revision = ref.Revision
	existing.LastModified = ref.LastModified
	existing.DownloadURL = ref.DownloadURL
	existing.Status = domain.StatusPending
	existing.DuplicateOf = ""
	existing.ErrorKind = ""
	existing.Error = ""

	job := domain.NewIngestionJob(s.uuidGen.NewString(), existing.ID, existing.OwnerID, opts.ForceRegenerate, time.Now().UTC())

	err := s.deps.TxRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Files().UpdateRemoteMetadata(ctx, existing); err != nil {
			return err
		}
		return repos.IngestionJobs().Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return &AcceptResult{File: existing, Job: job, Requeued: true}, nil
}

// Retry queues fileID again. Failed files may always be retried; completed
// files only with force, which re-embeds them.
func (s *IngestionService) Retry(ctx context.Context, ownerID, fileID string, force bool) (*domain.IngestionJob, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	file, err := s.deps.Files.GetByID(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	switch file.Status {
	case domain.StatusFailed:
	case domain.StatusCompleted:
		if !force {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidOperation,
				"file is already completed; use force to regenerate embeddings", domain.ErrInvalidStatusTransition)
		}
	default:
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidOperation,
			fmt.Sprintf("file is %s", file.Status), domain.ErrInvalidStatusTransition)
	}

	job := domain.NewIngestionJob(s.uuidGen.NewString(), fileID, ownerID, force, time.Now().UTC())
	err = s.deps.TxRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Files().UpdateStatus(ctx, ownerID, fileID, domain.StatusPending, "", ""); err != nil {
			return err
		}
		return repos.IngestionJobs().Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FileStatus is a file record with its most recent job, if any.
type FileStatus struct {
	File *domain.FileRecord
	Job  *domain.IngestionJob
}

// Get returns an owner's file and the latest job queued for it.
func (s *IngestionService) Get(ctx context.Context, ownerID, fileID string) (*FileStatus, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	file, err := s.deps.Files.GetByID(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	status := &FileStatus{File: file}
	if s.deps.Jobs == nil {
		return status, nil
	}
	job, err := s.deps.Jobs.LatestForFile(ctx, ownerID, fileID)
	if err != nil && !errors.Is(err, domain.ErrIngestionJobNotFound) {
		return nil, err
	}
	status.Job = job
	return status, nil
}

// Chunks returns the stored chunks of an owner's file in index order.
func (s *IngestionService) Chunks(ctx context.Context, ownerID, fileID string) ([]domain.Chunk, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	file, err := s.deps.Files.GetByID(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	// duplicates hold no vectors of their own
	if file.IsDuplicate() {
		fileID = file.DuplicateOf
	}
	return s.deps.Vectors.Chunks(ctx, ownerID, fileID)
}

// List returns a page of an owner's files, newest first.
func (s *IngestionService) List(ctx context.Context, ownerID, cursor string, limit int) (*FilePageResult, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.deps.Files.ListByOwner(ctx, ownerID, decoded, pagination.NormalizeLimit(limit))
}

// FetchContent reads the stored or remote bytes of a file.
func (s *IngestionService) FetchContent(ctx context.Context, file *domain.FileRecord) ([]byte, error) {
	return s.fetch(ctx, file)
}

// MarkPending returns a file to pending ahead of an automatic retry.
func (s *IngestionService) MarkPending(ctx context.Context, ownerID, fileID string) error {
	return s.deps.Files.UpdateStatus(ctx, ownerID, fileID, domain.StatusPending, "", "")
}

// ProcessResult reports the outcome of one pipeline run. Err is set when the
// file ended failed; it is never returned as a Go error from Process.
type ProcessResult struct {
	FileID      string
	Status      domain.ProcessingStatus
	DuplicateOf string
	Chunks      int
	Embedding   *EmbeddingResult
	Err         error
}

// Retryable reports whether a failed run may succeed if repeated.
func (r *ProcessResult) Retryable() bool {
	return r.Err != nil && domain.IsRetryable(r.Err)
}

// Process runs job's file through the pipeline and records the outcome on
// the file. Every step failure ends in the failed status.
func (s *IngestionService) Process(ctx context.Context, job *domain.IngestionJob) *ProcessResult {
	ctx = logging.With(ctx,
		zap.String("owner_id", job.OwnerID),
		zap.String("file_id", job.FileID),
		zap.String("job_id", job.ID),
	)
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Process", telemetry.SpanAttributes{
		OwnerID:   job.OwnerID,
		FileID:    job.FileID,
		Operation: "process",
	})
	defer span.End()

	log := logging.FromContext(ctx)
	result := &ProcessResult{FileID: job.FileID}

	file, err := s.deps.Files.GetByID(ctx, job.OwnerID, job.FileID)
	if err != nil {
		result.Status = domain.StatusFailed
		result.Err = domain.NewIngestError(domain.KindSourceFetch, err, !errors.Is(err, domain.ErrFileNotFound))
		span.MarkFailed()
		log.Error("file lookup failed", zap.Error(err))
		return result
	}

	if file.Status == domain.StatusCompleted && !job.ForceRegenerate {
		result.Status = domain.StatusCompleted
		result.DuplicateOf = file.DuplicateOf
		result.Chunks = file.ChunkCount
		return result
	}

	if err := s.deps.Files.UpdateStatus(ctx, file.OwnerID, file.ID, domain.StatusProcessing, "", ""); err != nil {
		return s.fail(ctx, span, file, result, err)
	}

	var content []byte
	if err := s.step(ctx, "fetch", func(ctx context.Context) error {
		var err error
		content, err = s.fetch(ctx, file)
		return err
	}); err != nil {
		return s.fail(ctx, span, file, result, err)
	}

	checksum := Checksum(content)
	if checksum != file.Checksum {
		if err := s.deps.Files.UpdateChecksum(ctx, file.OwnerID, file.ID, checksum); err != nil {
			return s.fail(ctx, span, file, result, domain.NewChecksumLookupError(err))
		}
		file.Checksum = checksum
	}

	var dup *domain.FileRecord
	if err := s.step(ctx, "dedup", func(ctx context.Context) error {
		var err error
		dup, err = s.deps.Dedup.FindDuplicate(ctx, file.OwnerID, checksum, file.ID)
		return err
	}); err != nil {
		return s.fail(ctx, span, file, result, err)
	}
	if dup != nil {
		return s.completeAsDuplicate(ctx, span, file, dup, result)
	}

	var text string
	if err := s.step(ctx, "extract", func(ctx context.Context) error {
		var err error
		text, err = s.deps.Extractor.Extract(file.MimeType, content)
		if err != nil && domain.KindOf(err) == "" {
			err = domain.NewExtractionError(err)
		}
		return err
	}); err != nil {
		return s.fail(ctx, span, file, result, err)
	}

	var chunks []domain.TextChunk
	if err := s.step(ctx, "chunk", func(ctx context.Context) error {
		var err error
		chunks, err = s.deps.Chunker.Chunk(text, "", domain.ChunkParams{})
		if err != nil && domain.KindOf(err) == "" {
			err = domain.NewIngestError(domain.KindChunking, err, false)
		}
		return err
	}); err != nil {
		return s.fail(ctx, span, file, result, err)
	}

	var emb *EmbeddingResult
	if err := s.step(ctx, "embed", func(ctx context.Context) error {
		var err error
		emb, err = s.deps.Embedder.Generate(ctx, EmbeddingRequest{
			OwnerID:         file.OwnerID,
			FileID:          file.ID,
			Chunks:          chunks,
			ForceRegenerate: job.ForceRegenerate,
		})
		if err != nil && domain.KindOf(err) == "" {
			err = domain.NewEmbeddingProviderError(err, domain.IsRetryable(err))
		}
		return err
	}); err != nil {
		return s.fail(ctx, span, file, result, err)
	}
	result.Embedding = emb

	if !emb.FromCache {
		if err := s.step(ctx, "store", func(ctx context.Context) error {
			err := s.deps.Vectors.Store(ctx, file.OwnerID, file.ID, chunks, emb.Vectors, emb.Model)
			if err != nil && domain.KindOf(err) == "" {
				err = domain.NewIngestError(domain.KindVectorStore, err, false)
			}
			return err
		}); err != nil {
			return s.fail(ctx, span, file, result, err)
		}
	}

	err = s.deps.Files.MarkCompleted(ctx, file.OwnerID, file.ID, len(chunks), "")
	if errors.Is(err, domain.ErrDuplicateChecksum) {
		// another copy of the same content completed first
		winner, lookupErr := s.deps.Files.FindCompletedByChecksum(ctx, file.OwnerID, checksum, file.ID)
		if lookupErr == nil && winner != nil {
			return s.completeAsDuplicate(ctx, span, file, winner, result)
		}
		if lookupErr != nil {
			err = lookupErr
		}
	}
	if err != nil {
		return s.fail(ctx, span, file, result, domain.NewVectorStoreError(fmt.Errorf("failed to mark file completed: %w", err)))
	}

	result.Status = domain.StatusCompleted
	result.Chunks = len(chunks)
	log.Info("file indexed",
		zap.Int("chunks", len(chunks)),
		zap.Bool("from_cache", emb.FromCache),
		zap.Int("tokens", emb.Tokens),
		zap.Float64("cost_usd", emb.CostUSD),
	)
	return result
}

func (s *IngestionService) completeAsDuplicate(ctx context.Context, span *telemetry.Span, file, canonical *domain.FileRecord, result *ProcessResult) *ProcessResult {
	if err := s.deps.Vectors.Delete(ctx, file.OwnerID, file.ID); err != nil {
		return s.fail(ctx, span, file, result, err)
	}
	if err := s.deps.Files.MarkCompleted(ctx, file.OwnerID, file.ID, canonical.ChunkCount, canonical.ID); err != nil {
		return s.fail(ctx, span, file, result, domain.NewVectorStoreError(fmt.Errorf("failed to mark duplicate: %w", err)))
	}

	result.Status = domain.StatusCompleted
	result.DuplicateOf = canonical.ID
	result.Chunks = canonical.ChunkCount
	logging.FromContext(ctx).Info("file is a duplicate", zap.String("duplicate_of", canonical.ID))
	return result
}

// fail records err on the file and the result. The record stays in place.
func (s *IngestionService) fail(ctx context.Context, span *telemetry.Span, file *domain.FileRecord, result *ProcessResult, err error) *ProcessResult {
	span.MarkFailed()
	telemetry.CaptureError(ctx, err)

	kind := domain.KindOf(err)
	logging.FromContext(ctx).Warn("file processing failed",
		zap.String("kind", string(kind)),
		zap.Bool("retryable", domain.IsRetryable(err)),
		zap.Error(err),
	)

	if uerr := s.deps.Files.UpdateStatus(ctx, file.OwnerID, file.ID, domain.StatusFailed, kind, err.Error()); uerr != nil {
		logging.FromContext(ctx).Error("failed to record failure", zap.Error(uerr))
	}

	result.Status = domain.StatusFailed
	result.Err = err
	return result
}

func (s *IngestionService) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	telemetry.AddBreadcrumb(ctx, "ingest", name)
	ctx, span := telemetry.StartSpan(ctx, "ingest."+name, telemetry.SpanAttributes{Operation: name})
	defer span.End()
	if err := fn(ctx); err != nil {
		span.MarkFailed()
		return err
	}
	return nil
}

func (s *IngestionService) fetch(ctx context.Context, file *domain.FileRecord) ([]byte, error) {
	if file.StorageKey != "" {
		data, err := s.deps.Blobs.Get(ctx, file.StorageKey)
		if err != nil {
			return nil, domain.NewIngestError(domain.KindSourceFetch,
				fmt.Errorf("failed to read stored content: %w", err), !errors.Is(err, domain.ErrObjectNotFound))
		}
		return data, nil
	}

	if file.DownloadURL == "" {
		return nil, domain.NewIngestError(domain.KindSourceFetch, errors.New("file has no content source"), false)
	}
	if s.deps.Downloader == nil {
		return nil, domain.NewIngestError(domain.KindSourceFetch, errors.New("downloads are not configured"), false)
	}

	token := ""
	if file.Source.IsCloud() {
		if s.deps.Tokens == nil {
			return nil, domain.NewIngestError(domain.KindSourceFetch, errors.New("provider tokens are not configured"), false)
		}
		t, err := s.deps.Tokens.AccessToken(ctx, file.OwnerID, domain.Provider(file.Source))
		if err != nil {
			return nil, domain.NewIngestError(domain.KindSourceFetch,
				fmt.Errorf("failed to get access token: %w", err), !errors.Is(err, domain.ErrTokenNotFound))
		}
		token = t
	}

	data, err := s.deps.Downloader.Download(ctx, file.DownloadURL, token)
	if err != nil {
		if domain.KindOf(err) != "" {
			return nil, err
		}
		return nil, domain.NewSourceFetchError(fmt.Errorf("failed to download file: %w", err))
	}
	return data, nil
}

func blobKey(ownerID, fileID string) string {
	return ownerID + "/" + fileID
}
