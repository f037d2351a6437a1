//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createJob(ctx context.Context, t *testing.T, repo *IngestionJobRepository, f *domain.FileRecord, createdAt time.Time) *domain.IngestionJob {
	t.Helper()
	job := domain.NewIngestionJob(uuid.NewString(), f.ID, f.OwnerID, false, createdAt)
	require.NoError(t, repo.Create(ctx, job))
	return job
}

func TestIngestionJobRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	files := NewFileRecordRepository(pool)
	repo := NewIngestionJobRepository(pool)

	f := createFile(ctx, t, files, newFile("owner-1"))
	job := domain.NewIngestionJob(uuid.NewString(), f.ID, "owner-1", true, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.FileID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.True(t, got.ForceRegenerate)
	assert.Equal(t, int32(0), got.Retries)
	assert.Nil(t, got.ProcessedAt)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrIngestionJobNotFound)
}

func TestIngestionJobRepository_LatestForFile(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	files := NewFileRecordRepository(pool)
	repo := NewIngestionJobRepository(pool)

	f := createFile(ctx, t, files, newFile("owner-1"))
	now := time.Now().UTC().Truncate(time.Microsecond)
	createJob(ctx, t, repo, f, now.Add(-time.Minute))
	latest := createJob(ctx, t, repo, f, now)

	got, err := repo.LatestForFile(ctx, "owner-1", f.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)

	_, err = repo.LatestForFile(ctx, "owner-2", f.ID)
	assert.ErrorIs(t, err, domain.ErrIngestionJobNotFound)
}

func TestIngestionJobRepository_ClaimPending(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	files := NewFileRecordRepository(pool)
	repo := NewIngestionJobRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	var ids []string
	for i := 0; i < 3; i++ {
		f := createFile(ctx, t, files, newFile("owner-1"))
		ids = append(ids, createJob(ctx, t, repo, f, now.Add(time.Duration(i)*time.Second)).ID)
	}

	first, err := repo.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, job := range first {
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
	}

	second, err := repo.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, ids[2], second[0].ID)

	none, err := repo.ClaimPending(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIngestionJobRepository_UpdateStatusAndRetries(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	files := NewFileRecordRepository(pool)
	repo := NewIngestionJobRepository(pool)

	f := createFile(ctx, t, files, newFile("owner-1"))
	job := createJob(ctx, t, repo, f, time.Now().UTC())

	require.NoError(t, repo.IncrementRetries(ctx, job.ID))
	require.NoError(t, repo.IncrementRetries(ctx, job.ID))
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, "max retries exceeded"))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Retries)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "max retries exceeded", got.Error)
	assert.NotNil(t, got.ProcessedAt)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.NewString(), domain.JobStatusCompleted, ""), domain.ErrIngestionJobNotFound)
	assert.ErrorIs(t, repo.IncrementRetries(ctx, uuid.NewString()), domain.ErrIngestionJobNotFound)
}

func TestIngestionJobRepository_RequeueStale(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	files := NewFileRecordRepository(pool)
	repo := NewIngestionJobRepository(pool)

	f := createFile(ctx, t, files, newFile("owner-1"))
	job := createJob(ctx, t, repo, f, time.Now().UTC())

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := repo.RequeueStale(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.RequeueStale(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}
