package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agrosync/internal/models"
	"agrosync/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRetentionDays is the audit window for synced items before the
// cleanup sweep removes them.
const DefaultRetentionDays = 7

// Descriptor describes a mutation to enqueue. Status, attempts and
// timestamps are assigned by the queue.
type Descriptor struct {
	Type       string
	Action     string
	Collection string
	Payload    json.RawMessage
}

// Queue is the durable outbound mutation queue, persisted in the
// syncQueue collection of the record store.
type Queue struct {
	store  *store.Store
	logger *zerolog.Logger
}

func New(st *store.Store, logger *zerolog.Logger) *Queue {
	return &Queue{store: st, logger: logger}
}

// Enqueue persists a new pending item and returns its id. A storage
// failure propagates: the mutation is not considered durable.
func (q *Queue) Enqueue(ctx context.Context, d Descriptor) (string, error) {
	if d.Type == "" {
		return "", errors.New("descriptor type is required")
	}
	if d.Action == "" {
		return "", errors.New("descriptor action is required")
	}

	item := models.QueueItem{
		ID:         uuid.NewString(),
		Type:       d.Type,
		Action:     d.Action,
		Collection: d.Collection,
		Payload:    d.Payload,
		Status:     models.StatusPending,
		Attempts:   0,
		CreatedAt:  time.Now(),
	}

	if err := q.store.Add(ctx, models.CollectionSyncQueue, item.ID, item); err != nil {
		return "", fmt.Errorf("persist queue item: %w", err)
	}

	q.logger.Debug().Str("id", item.ID).Str("type", item.Type).Msg("Queue item enqueued")
	return item.ID, nil
}

// LoadPending rehydrates all pending items in insertion order.
func (q *Queue) LoadPending(ctx context.Context) ([]models.QueueItem, error) {
	docs, err := q.store.GetAllByIndex(ctx, models.CollectionSyncQueue, "status", models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}

	items := make([]models.QueueItem, 0, len(docs))
	for _, doc := range docs {
		var item models.QueueItem
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("decode queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Get returns a single item by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := q.store.Get(ctx, models.CollectionSyncQueue, id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Update applies mutate to the stored item and persists the result.
// Fails with store.ErrNotFound if the id is absent.
func (q *Queue) Update(ctx context.Context, id string, mutate func(*models.QueueItem)) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}

	mutate(item)
	if err := q.store.Put(ctx, models.CollectionSyncQueue, id, item); err != nil {
		return fmt.Errorf("update queue item %s: %w", id, err)
	}
	return nil
}

// Remove deletes an item. Removing an absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Delete(ctx, models.CollectionSyncQueue, id)
}

// Depth returns the number of pending items.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	items, err := q.LoadPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Cleanup deletes synced items older than retentionDays and returns the
// count removed.
func (q *Queue) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	docs, err := q.store.GetAllByIndex(ctx, models.CollectionSyncQueue, "status", models.StatusSynced)
	if err != nil {
		return 0, fmt.Errorf("load synced items: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, doc := range docs {
		var item models.QueueItem
		if err := json.Unmarshal(doc, &item); err != nil {
			q.logger.Warn().Err(err).Msg("Skipping undecodable queue item during cleanup")
			continue
		}
		if item.SyncedAt == nil || item.SyncedAt.After(cutoff) {
			continue
		}
		if err := q.store.Delete(ctx, models.CollectionSyncQueue, item.ID); err != nil {
			q.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to delete synced item")
			continue
		}
		removed++
	}

	if removed > 0 {
		q.logger.Info().Int("removed", removed).Msg("Queue cleanup completed")
	}
	return removed, nil
}

// StartCleanup runs periodic cleanup sweeps until ctx is done.
func (q *Queue) StartCleanup(ctx context.Context, interval time.Duration, retentionDays int) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Cleanup(ctx, retentionDays); err != nil {
				q.logger.Error().Err(err).Msg("Scheduled queue cleanup failed")
			}
		}
	}
}
