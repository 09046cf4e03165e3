package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"agrosync/internal/models"

	"github.com/redis/go-redis/v9"
)

// PartitionStore holds response snapshots in named, isolated partitions.
// At most one entry exists per key per partition; Put replaces.
type PartitionStore interface {
	Get(ctx context.Context, partition, key string) (*models.CachedResponse, error)
	Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error
	Delete(ctx context.Context, partition, key string) error
	DeletePartition(ctx context.Context, partition string) (int, error)
	Partitions(ctx context.Context) ([]string, error)
}

const partitionSetKey = "cache:partitions"

func entryKey(partition, key string) string {
	return fmt.Sprintf("cache:%s:%s", partition, key)
}

// RedisPartitionStore keeps cache entries in redis, one key per entry,
// with the partition set tracked separately for migration sweeps.
type RedisPartitionStore struct {
	client *redis.Client
}

func NewRedisPartitionStore(client *redis.Client) *RedisPartitionStore {
	return &RedisPartitionStore{client: client}
}

func (r *RedisPartitionStore) Get(ctx context.Context, partition, key string) (*models.CachedResponse, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, entryKey(partition, key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}

	var resp models.CachedResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &resp, nil
}

func (r *RedisPartitionStore) Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey(partition, key), data, 0)
	pipe.SAdd(ctx, partitionSetKey, partition)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	return nil
}

func (r *RedisPartitionStore) Delete(ctx context.Context, partition, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, entryKey(partition, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry from redis: %w", err)
	}
	return nil
}

func (r *RedisPartitionStore) DeletePartition(ctx context.Context, partition string) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	removed := 0
	iter := r.client.Scan(ctx, 0, entryKey(partition, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete cache key: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache partition: %w", err)
	}

	if err := r.client.SRem(ctx, partitionSetKey, partition).Err(); err != nil {
		return removed, fmt.Errorf("failed to untrack cache partition: %w", err)
	}
	return removed, nil
}

func (r *RedisPartitionStore) Partitions(ctx context.Context) ([]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	names, err := r.client.SMembers(ctx, partitionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache partitions: %w", err)
	}
	return names, nil
}

// MemoryPartitionStore is the in-process fallback partition store.
type MemoryPartitionStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*models.CachedResponse
}

func NewMemoryPartitionStore() *MemoryPartitionStore {
	return &MemoryPartitionStore{partitions: make(map[string]map[string]*models.CachedResponse)}
}

func (m *MemoryPartitionStore) Get(ctx context.Context, partition, key string) (*models.CachedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.partitions[partition]
	if !ok {
		return nil, nil
	}
	return entries[key], nil
}

func (m *MemoryPartitionStore) Put(ctx context.Context, partition, key string, resp *models.CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.partitions[partition]
	if !ok {
		entries = make(map[string]*models.CachedResponse)
		m.partitions[partition] = entries
	}
	entries[key] = resp
	return nil
}

func (m *MemoryPartitionStore) Delete(ctx context.Context, partition, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entries, ok := m.partitions[partition]; ok {
		delete(entries, key)
	}
	return nil
}

func (m *MemoryPartitionStore) DeletePartition(ctx context.Context, partition string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.partitions[partition])
	delete(m.partitions, partition)
	return n, nil
}

func (m *MemoryPartitionStore) Partitions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	return names, nil
}
