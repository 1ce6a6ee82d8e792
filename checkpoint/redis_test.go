package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

func newTestRedisLog(t *testing.T) *RedisLog {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLog(client, "stateflow", zap.NewNop())
}

func TestRedisLog_AppendGetHistory(t *testing.T) {
	log := newTestRedisLog(t)
	ctx := context.Background()

	var ids []string
	parent := ""
	for i := 0; i < 3; i++ {
		cp := &types.Checkpoint{
			ThreadID: "t1",
			ParentID: parent,
			Values:   types.Document{"step": float64(i)},
		}
		require.NoError(t, log.Put(ctx, cp))
		ids = append(ids, cp.ID)
		parent = cp.ID
	}

	got, err := log.Get(ctx, "t1", ids[1])
	require.NoError(t, err)
	assert.Equal(t, ids[0], got.ParentID)

	history, err := log.History(ctx, "t1", HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID)

	page, err := log.History(ctx, "t1", HistoryOptions{Limit: 1, Before: ids[2]})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestRedisLog_ImmutableAndUnknownParent(t *testing.T) {
	log := newTestRedisLog(t)
	ctx := context.Background()

	cp := &types.Checkpoint{ThreadID: "t1", Values: types.Document{"v": 1.0}}
	require.NoError(t, log.Put(ctx, cp))

	err := log.Put(ctx, &types.Checkpoint{ID: cp.ID, ThreadID: "t1"})
	assert.ErrorIs(t, err, ErrImmutable)

	err = log.Put(ctx, &types.Checkpoint{ThreadID: "t1", ParentID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownParent)
}

func TestRedisLog_DeleteThread(t *testing.T) {
	log := newTestRedisLog(t)
	ctx := context.Background()

	cp := &types.Checkpoint{ThreadID: "t1"}
	require.NoError(t, log.Put(ctx, cp))

	require.NoError(t, log.DeleteThread(ctx, "t1"))

	_, err := log.Get(ctx, "t1", cp.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := log.History(ctx, "t1", HistoryOptions{})
	require.NoError(t, err)
	assert.Empty(t, history)
}
