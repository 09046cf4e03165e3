package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"agrosync/internal/models"
	"agrosync/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	logger := zerolog.Nop()
	st, err := store.New(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, &logger), st
}

func TestEnqueueAndLoadPending(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, Descriptor{
		Type:       models.TypeListingCreate,
		Action:     models.ActionCreate,
		Collection: models.CollectionListings,
		Payload:    json.RawMessage(`{"crop":"maize"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := q.Enqueue(ctx, Descriptor{
		Type:   models.TypeCropUpdate,
		Action: models.ActionUpdate,
	})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	items, err := q.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Insertion order.
	assert.Equal(t, id1, items[0].ID)
	assert.Equal(t, id2, items[1].ID)
	assert.Equal(t, models.StatusPending, items[0].Status)
	assert.Equal(t, 0, items[0].Attempts)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Descriptor{Action: models.ActionCreate})
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics})
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics, Action: models.ActionCreate})
	require.NoError(t, err)

	err = q.Update(ctx, id, func(item *models.QueueItem) {
		item.Attempts = 2
		item.LastError = "boom"
	})
	require.NoError(t, err)

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, "boom", item.LastError)
	assert.Equal(t, models.StatusPending, item.Status)

	// Update of a missing id is a caller bug.
	err = q.Update(ctx, "no-such-id", func(item *models.QueueItem) {})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveIdempotent(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics, Action: models.ActionCreate})
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, id))
	// Second remove of the same id must not error.
	require.NoError(t, q.Remove(ctx, id))

	_, err = q.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCleanup(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	oldID, err := q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics, Action: models.ActionCreate})
	require.NoError(t, err)
	freshID, err := q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics, Action: models.ActionCreate})
	require.NoError(t, err)
	pendingID, err := q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics, Action: models.ActionCreate})
	require.NoError(t, err)

	oldSynced := time.Now().AddDate(0, 0, -10)
	require.NoError(t, q.Update(ctx, oldID, func(item *models.QueueItem) {
		item.Status = models.StatusSynced
		item.SyncedAt = &oldSynced
	}))

	freshSynced := time.Now()
	require.NoError(t, q.Update(ctx, freshID, func(item *models.QueueItem) {
		item.Status = models.StatusSynced
		item.SyncedAt = &freshSynced
	}))

	removed, err := q.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The old synced item is gone, the fresh one survives the window.
	_, err = q.Get(ctx, oldID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = q.Get(ctx, freshID)
	require.NoError(t, err)

	// Pending items are never swept.
	item, err := q.Get(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestDepth(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	n, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = q.Enqueue(ctx, Descriptor{Type: models.TypeAnalytics, Action: models.ActionCreate})
	require.NoError(t, err)

	n, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
