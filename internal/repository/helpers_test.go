//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func setupPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)
	return pool
}

func newFile(ownerID string) *domain.FileRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.FileRecord{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Filename:  "notes.md",
		MimeType:  "text/markdown",
		Size:      128,
		Source:    domain.SourceUpload,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func createFile(ctx context.Context, t *testing.T, repo *FileRecordRepository, f *domain.FileRecord) *domain.FileRecord {
	t.Helper()
	require.NoError(t, repo.Create(ctx, f))
	return f
}
