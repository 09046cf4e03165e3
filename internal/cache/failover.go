package cache

import (
	"context"
	"sync/atomic"
	"time"

	"agrosync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverPartitionStore serves from a primary store (redis) and falls
// back to an in-process store when the primary is down, probing for
// recovery after a fixed window.
type FailoverPartitionStore struct {
	primary   PartitionStore
	fallback  PartitionStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	recovery  time.Duration
}

func NewFailoverPartitionStore(primary, fallback PartitionStore, logger *zerolog.Logger) *FailoverPartitionStore {
	return &FailoverPartitionStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recovery: time.Minute,
	}
}

// usePrimary reports whether the next call should go to the primary,
// flipping back after the recovery window has elapsed.
func (f *FailoverPartitionStore) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	last := time.Unix(0, f.lastCheck.Load())
	if time.Since(last) > f.recovery {
		f.lastCheck.Store(time.Now().UnixNano())
		return true
	}
	return false
}

func (f *FailoverPartitionStore) markDown(err error) {
	f.logger.Error().Err(err).Msg("Primary cache store failed, falling back to memory")
	f.isDown.Store(true)
	f.lastCheck.Store(time.Now().UnixNano())
}

func (f *FailoverPartitionStore) markUp() {
	if f.isDown.Swap(false) {
		f.logger.Info().Msg("Primary cache store recovered")
	}
}

func (f *FailoverPartitionStore) Get(ctx context.Context, partition, key string) (*models.CachedResponse, error) {
	if f.usePrimary() {
		resp, err := f.primary.Get(ctx, partition, key)
		if err == nil {
			f.markUp()
			return resp, nil
		}
		f.markDown(err)
	}
	return f.fallback.Get(ctx, partition, key)
}

func (f *FailoverPartitionStore) Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error {
	if f.usePrimary() {
		err := f.primary.Put(ctx, partition, key, resp)
		if err == nil {
			f.markUp()
			// Mirror into the fallback so a later primary outage still
			// has the entry.
			_ = f.fallback.Put(ctx, partition, key, resp)
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.Put(ctx, partition, key, resp)
}

func (f *FailoverPartitionStore) Delete(ctx context.Context, partition, key string) error {
	_ = f.fallback.Delete(ctx, partition, key)
	if f.usePrimary() {
		err := f.primary.Delete(ctx, partition, key)
		if err == nil {
			f.markUp()
			return nil
		}
		f.markDown(err)
	}
	return nil
}

func (f *FailoverPartitionStore) DeletePartition(ctx context.Context, partition string) (int, error) {
	n, _ := f.fallback.DeletePartition(ctx, partition)
	if f.usePrimary() {
		removed, err := f.primary.DeletePartition(ctx, partition)
		if err == nil {
			f.markUp()
			return removed, nil
		}
		f.markDown(err)
	}
	return n, nil
}

func (f *FailoverPartitionStore) Partitions(ctx context.Context) ([]string, error) {
	if f.usePrimary() {
		names, err := f.primary.Partitions(ctx)
		if err == nil {
			f.markUp()
			return names, nil
		}
		f.markDown(err)
	}
	return f.fallback.Partitions(ctx)
}
