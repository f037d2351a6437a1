package jobs

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/cloo-solutions/briefly/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxRetries is the number of attempts a job gets before it is
	// marked failed.
	DefaultMaxRetries = 3

	DefaultConcurrency = 4
	DefaultClaimLimit  = 20
)

// IngestionJobRepository defines the job queue operations the worker needs
type IngestionJobRepository interface {
	// ClaimPending moves pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error)

	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error

	IncrementRetries(ctx context.Context, id string) error
}

// Pipeline runs one job through ingestion
type Pipeline interface {
	Process(ctx context.Context, job *domain.IngestionJob) *service.ProcessResult
	MarkPending(ctx context.Context, ownerID, fileID string) error
}

// IngestionWorkerConfig tunes a worker
type IngestionWorkerConfig struct {
	Concurrency int
	ClaimLimit  int
	MaxRetries  int
}

// IngestionWorker claims queued jobs and runs them concurrently
type IngestionWorker struct {
	repo     IngestionJobRepository
	pipeline Pipeline
	cfg      IngestionWorkerConfig
}

// NewIngestionWorker creates a new IngestionWorker instance
func NewIngestionWorker(repo IngestionJobRepository, pipeline Pipeline, cfg IngestionWorkerConfig) *IngestionWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = DefaultClaimLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &IngestionWorker{repo: repo, pipeline: pipeline, cfg: cfg}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestionWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.cfg.ClaimLimit)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	logging.FromContext(ctx).Info("processing ingestion jobs", zap.Int("count", len(jobs)))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.processJob(ctx, job); err != nil {
				logging.FromContext(ctx).Error("error processing job", zap.String("job_id", job.ID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *IngestionWorker) processJob(ctx context.Context, job *domain.IngestionJob) error {
	ctx, span := telemetry.StartTransaction(ctx, "ingestion job", "queue.process")
	defer span.End()

	result := w.pipeline.Process(ctx, job)
	if result.Err != nil {
		span.MarkFailed()
		return w.handleJobFailure(ctx, job, result)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		span.MarkFailed()
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}
	span.MarkOK()
	return nil
}

// handleJobFailure requeues retryable failures until MaxRetries attempts have
// been made, then marks the job failed.
func (w *IngestionWorker) handleJobFailure(ctx context.Context, job *domain.IngestionJob, result *service.ProcessResult) error {
	log := logging.FromContext(ctx).With(
		zap.String("job_id", job.ID),
		zap.String("file_id", job.FileID),
		zap.Int32("retries", job.Retries),
	)
	jobErr := result.Err

	if !result.Retryable() {
		log.Warn("job failed permanently", zap.Error(jobErr))
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, jobErr.Error()); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	attempt := int(job.Retries) + 1
	if attempt >= w.cfg.MaxRetries {
		log.Warn("job exceeded max retries", zap.Int("max_retries", w.cfg.MaxRetries), zap.Error(jobErr))
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Info("job will be retried", zap.Int("attempt", attempt), zap.Error(jobErr))
	if err := w.pipeline.MarkPending(ctx, job.OwnerID, job.FileID); err != nil {
		return fmt.Errorf("failed to reset file status: %w", err)
	}
	errMsg := fmt.Sprintf("retry %d: %v", attempt, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}
	return nil
}
