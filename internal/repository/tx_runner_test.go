//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRunner_CommitsFileAndJob(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	runner := NewTxRunner(pool)

	f := newFile("owner-1")
	job := domain.NewIngestionJob(uuid.NewString(), f.ID, "owner-1", false, time.Now().UTC())

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Files().Create(ctx, f); err != nil {
			return err
		}
		return repos.IngestionJobs().Create(ctx, job)
	})
	require.NoError(t, err)

	_, err = NewIngestionJobRepository(pool).GetByID(ctx, job.ID)
	assert.NoError(t, err)
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	runner := NewTxRunner(pool)

	f := newFile("owner-1")
	boom := errors.New("boom")

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Files().Create(ctx, f); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = NewFileRecordRepository(pool).GetByID(ctx, "owner-1", f.ID)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}
