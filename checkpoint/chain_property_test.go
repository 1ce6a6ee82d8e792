package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/stateflow/types"
)

// Property: whatever sequence of appends and forks is applied, parent chains
// never cycle and history length strictly increases with each write.
func TestProperty_ChainNeverCycles(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		log := NewMemoryLog()
		defer log.Close()
		ctx := context.Background()

		var ids []string
		writes := rapid.IntRange(1, 40).Draw(rt, "writes")

		for i := 0; i < writes; i++ {
			parent := ""
			if len(ids) > 0 {
				// Fork from an arbitrary ancestor, not just the tip.
				parent = ids[rapid.IntRange(0, len(ids)-1).Draw(rt, "parent")]
			}
			cp := &types.Checkpoint{
				ThreadID: "t1",
				ParentID: parent,
				Values:   types.Document{"step": i},
			}
			require.NoError(rt, log.Put(ctx, cp))
			ids = append(ids, cp.ID)

			history, err := log.History(ctx, "t1", HistoryOptions{Limit: MaxHistoryLimit})
			require.NoError(rt, err)
			require.Len(rt, history, i+1)
		}

		// Walk every parent chain to the root; a cycle would revisit an id.
		for _, id := range ids {
			seen := map[string]bool{}
			cur := id
			for cur != "" {
				require.False(rt, seen[cur], "cycle through checkpoint %s", cur)
				seen[cur] = true
				cp, err := log.Get(ctx, "t1", cur)
				require.NoError(rt, err)
				cur = cp.ParentID
			}
		}
	})
}

// Property: the before-cursor pages through history without gaps or repeats.
func TestProperty_HistoryPaginationComplete(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		log := NewMemoryLog()
		defer log.Close()
		ctx := context.Background()

		writes := rapid.IntRange(1, 30).Draw(rt, "writes")
		pageSize := rapid.IntRange(1, 7).Draw(rt, "pageSize")

		parent := ""
		for i := 0; i < writes; i++ {
			cp := &types.Checkpoint{ThreadID: "t1", ParentID: parent}
			require.NoError(rt, log.Put(ctx, cp))
			parent = cp.ID
		}

		seen := map[string]bool{}
		cursor := ""
		total := 0
		for {
			page, err := log.History(ctx, "t1", HistoryOptions{Limit: pageSize, Before: cursor})
			require.NoError(rt, err)
			if len(page) == 0 {
				break
			}
			for _, cp := range page {
				require.False(rt, seen[cp.ID], "checkpoint %s repeated across pages", cp.ID)
				seen[cp.ID] = true
			}
			total += len(page)
			cursor = page[len(page)-1].ID
		}
		require.Equal(rt, writes, total)
	})
}
