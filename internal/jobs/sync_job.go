package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/service"
	"go.uber.org/zap"
)

// ConnectionLister lists every known sync connection.
type ConnectionLister interface {
	List(ctx context.Context) ([]*domain.SyncConnection, error)
}

// SyncChecker runs one delta check.
type SyncChecker interface {
	Check(ctx context.Context, ownerID string, provider domain.Provider, opts service.SyncOptions) (*service.CheckResult, error)
}

// SyncJob checks every connection and enqueues new and changed files.
type SyncJob struct {
	conns   ConnectionLister
	checker SyncChecker
}

func NewSyncJob(conns ConnectionLister, checker SyncChecker) *SyncJob {
	return &SyncJob{conns: conns, checker: checker}
}

func (j *SyncJob) Name() string { return "sync-connections" }

// Run checks connections one by one. A failing connection does not stop the
// others; all failures are returned together.
func (j *SyncJob) Run(ctx context.Context) error {
	conns, err := j.conns.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sync connections: %w", err)
	}

	var errs []error
	for _, conn := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := j.checker.Check(ctx, conn.OwnerID, conn.Provider, service.SyncOptions{Enqueue: true})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", conn.OwnerID, conn.Provider, err))
			continue
		}
		logging.FromContext(ctx).Debug("connection synced",
			zap.String("owner_id", conn.OwnerID),
			zap.String("provider", string(conn.Provider)),
			zap.Int("enqueued", result.Enqueued),
		)
	}
	return errors.Join(errs...)
}

// StaleJobRepository requeues jobs claimed before a cutoff.
type StaleJobRepository interface {
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleJobRequeuer returns jobs stuck in processing to the queue.
type StaleJobRequeuer struct {
	repo       StaleJobRepository
	staleAfter time.Duration
	now        func() time.Time
}

func NewStaleJobRequeuer(repo StaleJobRepository, staleAfter time.Duration) *StaleJobRequeuer {
	return &StaleJobRequeuer{repo: repo, staleAfter: staleAfter, now: time.Now}
}

func (j *StaleJobRequeuer) Name() string { return "requeue-stale-jobs" }

func (j *StaleJobRequeuer) Run(ctx context.Context) error {
	n, err := j.repo.RequeueStale(ctx, j.now().UTC().Add(-j.staleAfter))
	if err != nil {
		return fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).Warn("requeued stale jobs", zap.Int64("count", n))
	}
	return nil
}
