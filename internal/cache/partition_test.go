package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"agrosync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshot() *models.CachedResponse {
	return &models.CachedResponse{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte("cached body"),
		StoredAt: time.Now(),
	}
}

func TestRedisPartitionStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisPartitionStore(client)
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "api-v1", "GET /api/crops", newSnapshot()))

		got, err := store.Get(ctx, "api-v1", "GET /api/crops")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, []byte("cached body"), got.Body)
		assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))
	})

	t.Run("GetMissReturnsNil", func(t *testing.T) {
		got, err := store.Get(ctx, "api-v1", "GET /api/absent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		snap := newSnapshot()
		snap.Body = []byte("replaced")
		require.NoError(t, store.Put(ctx, "api-v1", "GET /api/crops", snap))

		got, err := store.Get(ctx, "api-v1", "GET /api/crops")
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced"), got.Body)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "api-v1", "GET /api/tmp", newSnapshot()))
		require.NoError(t, store.Delete(ctx, "api-v1", "GET /api/tmp"))

		got, err := store.Get(ctx, "api-v1", "GET /api/tmp")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("PartitionsAndDeletePartition", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "static-v0", "GET /old.js", newSnapshot()))

		names, err := store.Partitions(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "api-v1")
		assert.Contains(t, names, "static-v0")

		removed, err := store.DeletePartition(ctx, "static-v0")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		names, err = store.Partitions(ctx)
		require.NoError(t, err)
		assert.NotContains(t, names, "static-v0")
	})

	t.Run("NilClient", func(t *testing.T) {
		store := NewRedisPartitionStore(nil)
		_, err := store.Get(ctx, "api-v1", "key")
		assert.Error(t, err)
	})
}

func TestMemoryPartitionStore(t *testing.T) {
	store := NewMemoryPartitionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "images-v1", "GET /a.png", newSnapshot()))

	got, err := store.Get(ctx, "images-v1", "GET /a.png")
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = store.Get(ctx, "images-v1", "GET /b.png")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Delete(ctx, "images-v1", "GET /a.png"))
	got, _ = store.Get(ctx, "images-v1", "GET /a.png")
	assert.Nil(t, got)

	require.NoError(t, store.Put(ctx, "images-v1", "GET /a.png", newSnapshot()))
	n, err := store.DeletePartition(ctx, "images-v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFailoverPartitionStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	logger := zerolog.Nop()
	primary := NewRedisPartitionStore(client)
	fallback := NewMemoryPartitionStore()
	store := NewFailoverPartitionStore(primary, fallback, &logger)
	ctx := context.Background()

	// Healthy primary serves and mirrors into the fallback.
	require.NoError(t, store.Put(ctx, "api-v1", "GET /api/crops", newSnapshot()))
	got, err := store.Get(ctx, "api-v1", "GET /api/crops")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Primary down: reads keep working from the fallback.
	s.Close()
	got, err = store.Get(ctx, "api-v1", "GET /api/crops")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("cached body"), got.Body)

	// Writes land in the fallback while the primary is down.
	snap := newSnapshot()
	snap.Body = []byte("offline write")
	require.NoError(t, store.Put(ctx, "api-v1", "GET /api/pests", snap))
	got, err = store.Get(ctx, "api-v1", "GET /api/pests")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("offline write"), got.Body)
}
