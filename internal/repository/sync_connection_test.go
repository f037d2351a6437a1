//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertToken(ctx context.Context, t *testing.T, pool *pgxpool.Pool, ownerID string, provider domain.Provider, token string, expiresAt *time.Time) {
	t.Helper()
	_, err := pool.Exec(ctx,
		`INSERT INTO oauth_tokens (owner_id, provider, access_token, expires_at) VALUES ($1, $2, $3, $4)`,
		ownerID, provider, token, expiresAt,
	)
	require.NoError(t, err)
}

func TestSyncConnectionRepository_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncConnectionRepository(setupPool(ctx, t))

	_, err := repo.Get(ctx, "owner-1", domain.ProviderGoogle)
	assert.ErrorIs(t, err, domain.ErrSyncConnectionNotFound)

	checked := time.Now().UTC().Truncate(time.Microsecond)
	conn := &domain.SyncConnection{OwnerID: "owner-1", Provider: domain.ProviderGoogle, Cursor: "tok-2", LastCheckedAt: &checked}
	require.NoError(t, repo.Upsert(ctx, conn))

	got, err := repo.Get(ctx, "owner-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.Cursor)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, checked.Equal(*got.LastCheckedAt))

	assert.Nil(t, got.PassStartedAt)
	assert.Empty(t, got.PassSeen)

	conn.PassStartedAt = &checked
	conn.PassSeen = []string{"ext-1", "ext-2"}
	require.NoError(t, repo.Upsert(ctx, conn))
	got, err = repo.Get(ctx, "owner-1", domain.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, got.PassStartedAt)
	assert.True(t, checked.Equal(*got.PassStartedAt))
	assert.Equal(t, []string{"ext-1", "ext-2"}, got.PassSeen)

	conn.Cursor = ""
	conn.PassStartedAt = nil
	conn.PassSeen = nil
	require.NoError(t, repo.Upsert(ctx, conn))
	got, err = repo.Get(ctx, "owner-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, got.Cursor)
	assert.Nil(t, got.PassStartedAt)
	assert.Empty(t, got.PassSeen)
}

func TestSyncConnectionRepository_List_RequiresToken(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSyncConnectionRepository(pool)

	require.NoError(t, repo.Upsert(ctx, &domain.SyncConnection{OwnerID: "owner-1", Provider: domain.ProviderGoogle}))
	require.NoError(t, repo.Upsert(ctx, &domain.SyncConnection{OwnerID: "owner-2", Provider: domain.ProviderMicrosoft}))
	insertToken(ctx, t, pool, "owner-1", domain.ProviderGoogle, "access", nil)

	conns, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "owner-1", conns[0].OwnerID)
	assert.Equal(t, domain.ProviderGoogle, conns[0].Provider)
}
