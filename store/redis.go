package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// RedisStore is a Redis-backed implementation of Store. Items live as JSON
// values; a sorted-set index of namespace paths supports prefix search and
// namespace listing without KEYS scans over the whole keyspace.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "kv_store"), zap.String("backend", "redis")),
	}
}

func (s *RedisStore) itemRedisKey(path, key string) string {
	return fmt.Sprintf("%s:item:%s%s%s", s.prefix, path, pathSep, key)
}

func (s *RedisStore) nsIndexKey() string {
	return s.prefix + ":namespaces"
}

func (s *RedisStore) nsKeysKey(path string) string {
	return s.prefix + ":nskeys:" + path
}

// Put upserts an item.
func (s *RedisStore) Put(ctx context.Context, namespace []string, key string, value types.Document) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	path := joinPath(namespace)
	now := time.Now()
	item := &types.StoreItem{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Preserve created_at on overwrite.
	if existing, err := s.Get(ctx, namespace, key); err == nil {
		item.CreatedAt = existing.CreatedAt
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal store item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.itemRedisKey(path, key), data, 0)
	pipe.ZAdd(ctx, s.nsIndexKey(), redis.Z{Score: 0, Member: path})
	pipe.SAdd(ctx, s.nsKeysKey(path), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write store item: %w", err)
	}
	return nil
}

// Get returns an item.
func (s *RedisStore) Get(ctx context.Context, namespace []string, key string) (*types.StoreItem, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.itemRedisKey(joinPath(namespace), key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load store item: %w", err)
	}

	var item types.StoreItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store item: %w", err)
	}
	return &item, nil
}

// Delete removes an item. Idempotent.
func (s *RedisStore) Delete(ctx context.Context, namespace []string, key string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	path := joinPath(namespace)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.itemRedisKey(path, key))
	pipe.SRem(ctx, s.nsKeysKey(path), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete store item: %w", err)
	}

	// Drop the namespace from the index once its last key is gone.
	remaining, err := s.client.SCard(ctx, s.nsKeysKey(path)).Result()
	if err == nil && remaining == 0 {
		s.client.ZRem(ctx, s.nsIndexKey(), path)
	}
	return nil
}

func (s *RedisStore) matchingPaths(ctx context.Context, prefix []string) ([]string, error) {
	paths, err := s.client.ZRange(ctx, s.nsIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace index: %w", err)
	}

	matched := paths[:0]
	for _, p := range paths {
		if hasPrefix(splitPath(p), prefix) {
			matched = append(matched, p)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Search returns items under a namespace prefix.
func (s *RedisStore) Search(ctx context.Context, prefix []string, limit, offset int) ([]*types.StoreItem, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	paths, err := s.matchingPaths(ctx, prefix)
	if err != nil {
		return nil, err
	}

	items := make([]*types.StoreItem, 0)
	for _, path := range paths {
		keys, err := s.client.SMembers(ctx, s.nsKeysKey(path)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list namespace keys: %w", err)
		}
		sort.Strings(keys)
		for _, key := range keys {
			item, err := s.Get(ctx, splitPath(path), key)
			if err != nil {
				if err == ErrNotFound {
					continue
				}
				return nil, err
			}
			items = append(items, item)
		}
	}
	return paginate(items, limit, offset), nil
}

// ListNamespaces enumerates distinct namespace paths under a prefix.
func (s *RedisStore) ListNamespaces(ctx context.Context, prefix []string, limit, offset int) ([][]string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	paths, err := s.matchingPaths(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make([][]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, splitPath(p))
	}
	return paginate(out, limit, offset), nil
}

// Close is a no-op; client lifecycle belongs to the cache manager.
func (s *RedisStore) Close() error { return nil }
