package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// RedisLog is a Redis-backed implementation of Log. Each checkpoint is one
// JSON value; a per-thread ZSET ordered by append sequence provides the chain
// index for history and cursors.
type RedisLog struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisLog creates a Redis-backed checkpoint log.
func NewRedisLog(client *redis.Client, prefix string, logger *zap.Logger) *RedisLog {
	return &RedisLog{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "checkpoint_log"), zap.String("backend", "redis")),
	}
}

func (l *RedisLog) checkpointKey(threadID, id string) string {
	return fmt.Sprintf("%s:checkpoint:%s:%s", l.prefix, threadID, id)
}

func (l *RedisLog) chainKey(threadID string) string {
	return fmt.Sprintf("%s:chain:%s", l.prefix, threadID)
}

func (l *RedisLog) seqKey(threadID string) string {
	return fmt.Sprintf("%s:chainseq:%s", l.prefix, threadID)
}

// Put appends a checkpoint.
func (l *RedisLog) Put(ctx context.Context, cp *types.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = NewID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	if cp.ParentID != "" {
		n, err := l.client.Exists(ctx, l.checkpointKey(cp.ThreadID, cp.ParentID)).Result()
		if err != nil {
			return fmt.Errorf("failed to check parent checkpoint: %w", err)
		}
		if n == 0 {
			return ErrUnknownParent
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.checkpointKey(cp.ThreadID, cp.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if !ok {
		return ErrImmutable
	}

	seq, err := l.client.Incr(ctx, l.seqKey(cp.ThreadID)).Result()
	if err != nil {
		return fmt.Errorf("failed to advance chain sequence: %w", err)
	}
	if err := l.client.ZAdd(ctx, l.chainKey(cp.ThreadID), redis.Z{
		Score:  float64(seq),
		Member: cp.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}

	l.logger.Debug("checkpoint appended",
		zap.String("thread_id", cp.ThreadID),
		zap.String("checkpoint_id", cp.ID),
	)
	return nil
}

// Get retrieves one checkpoint.
func (l *RedisLog) Get(ctx context.Context, threadID, checkpointID string) (*types.Checkpoint, error) {
	data, err := l.client.Get(ctx, l.checkpointKey(threadID, checkpointID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// History returns checkpoints in reverse append order.
func (l *RedisLog) History(ctx context.Context, threadID string, opts HistoryOptions) ([]*types.Checkpoint, error) {
	chainKey := l.chainKey(threadID)

	max := "+inf"
	if opts.Before != "" {
		score, err := l.client.ZScore(ctx, chainKey, opts.Before).Result()
		if err != nil {
			if err == redis.Nil {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to resolve history cursor: %w", err)
		}
		max = fmt.Sprintf("(%d", int64(score))
	}

	limit := opts.effectiveLimit()
	result := make([]*types.Checkpoint, 0, limit)

	// Pull in pages so namespace filtering cannot starve the limit.
	offset := int64(0)
	for len(result) < limit {
		ids, err := l.client.ZRevRangeByScore(ctx, chainKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    max,
			Offset: offset,
			Count:  int64(limit),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read chain index: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		offset += int64(len(ids))

		for _, id := range ids {
			cp, err := l.Get(ctx, threadID, id)
			if err != nil {
				l.logger.Warn("failed to load indexed checkpoint",
					zap.String("thread_id", threadID),
					zap.String("checkpoint_id", id),
					zap.Error(err),
				)
				continue
			}
			if opts.NamespaceSet && cp.Namespace != opts.Namespace {
				continue
			}
			result = append(result, cp)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

// DeleteThread removes every checkpoint of a thread.
func (l *RedisLog) DeleteThread(ctx context.Context, threadID string) error {
	chainKey := l.chainKey(threadID)

	ids, err := l.client.ZRange(ctx, chainKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read chain index: %w", err)
	}

	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, l.checkpointKey(threadID, id))
	}
	keys = append(keys, chainKey, l.seqKey(threadID))

	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete thread checkpoints: %w", err)
	}
	return nil
}

// Close is a no-op; client lifecycle belongs to the cache manager.
func (l *RedisLog) Close() error { return nil }
