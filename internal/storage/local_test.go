package storage

import (
	"context"
	"testing"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGet(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "owner-1/file-1", []byte("first"), "text/plain"))
	require.NoError(t, store.Put(ctx, "owner-1/file-1", []byte("second"), "text/plain"))

	data, err := store.Get(ctx, "owner-1/file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestLocalStore_GetMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "owner-1/nope")

	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "a/../../outside", "/etc/passwd"} {
		err := store.Put(ctx, key, []byte("x"), "")
		assert.Error(t, err, key)
	}
}

func TestLocalStore_EmptyContent(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "o/empty", []byte{}, ""))

	data, err := store.Get(ctx, "o/empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}
