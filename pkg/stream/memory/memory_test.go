package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiutox/eventbus/pkg/stream"
)

func appendN(t *testing.T, log *Log, streamName string, n int) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := log.Append(ctx, streamName, map[string]any{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAppendReadAck(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	ids := appendN(t, log, "s", 3)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

	entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[0], entries[0].ID)
	assert.Equal(t, "0", entries[0].Fields["n"])
	assert.Equal(t, ids[2], entries[2].ID)

	// Delivered entries are pending until acknowledged
	pending, err := log.Pending(ctx, "s", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "c1", pending[0].Consumer)
	assert.Equal(t, int64(1), pending[0].DeliveryCount)

	require.NoError(t, log.Ack(ctx, "s", "g", ids[0], ids[1]))

	pending, err = log.Pending(ctx, "s", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	// Acknowledging an unknown ID is a no-op
	require.NoError(t, log.Ack(ctx, "s", "g", "99999-1"))
}

func TestReadGroupRespectsCount(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	ids := appendN(t, log, "s", 5)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

	first, err := log.ReadGroup(ctx, "s", "g", "c1", 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := log.ReadGroup(ctx, "s", "g", "c1", 2, 0)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, ids[2], second[0].ID)
}

func TestReadGroupMissing(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	_, err := log.ReadGroup(ctx, "nope", "g", "c1", 10, 0)
	assert.ErrorIs(t, err, stream.ErrNotFound)

	appendN(t, log, "s", 1)
	_, err = log.ReadGroup(ctx, "s", "nope", "c1", 10, 0)
	assert.ErrorIs(t, err, stream.ErrNotFound)
}

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		log := NewLog()
		ids := appendN(t, log, "s", 2)

		require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

		entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		// Recreating without recreate keeps the cursor and pending set
		require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

		entries, err = log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)

		pending, err := log.Pending(ctx, "s", "g", 10)
		require.NoError(t, err)
		assert.Len(t, pending, len(ids))
	})

	t.Run("recreate resets", func(t *testing.T) {
		log := NewLog()
		appendN(t, log, "s", 2)

		require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))
		_, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)

		require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, true))

		entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2, "recreated group re-reads from the beginning")

		pending, err := log.Pending(ctx, "s", "g", 10)
		require.NoError(t, err)
		assert.Len(t, pending, 2, "old pending state is gone, only redelivered entries remain")
	})

	t.Run("start at new skips history", func(t *testing.T) {
		log := NewLog()
		appendN(t, log, "s", 3)

		require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartNew, false))

		entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)

		id, err := log.Append(ctx, "s", map[string]any{"n": 99})
		require.NoError(t, err)

		entries, err = log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].ID)
	})

	t.Run("start at explicit ID", func(t *testing.T) {
		log := NewLog()
		ids := appendN(t, log, "s", 3)

		require.NoError(t, log.CreateGroup(ctx, "s", "g", ids[0], false))

		entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, ids[1], entries[0].ID)
	})
}

func TestReadGroupBlocks(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	appendN(t, log, "s", 1)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartNew, false))

	// A concurrent append wakes the blocked reader before the timeout
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = log.Append(context.Background(), "s", map[string]any{"n": 1})
	}()

	start := time.Now()
	entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadGroupBlockTimeout(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	appendN(t, log, "s", 1)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartNew, false))

	entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadGroupCancellation(t *testing.T) {
	log := NewLog()
	appendN(t, log, "s", 1)
	require.NoError(t, log.CreateGroup(context.Background(), "s", "g", stream.StartNew, false))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClaimPending(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	now := time.Now()
	log.SetClock(func() time.Time { return now })

	ids := appendN(t, log, "s", 2)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

	entries, err := log.ReadGroup(ctx, "s", "g", "dead-consumer", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Not idle long enough yet
	claimed, err := log.ClaimPending(ctx, "s", "g", "survivor", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Advance the clock past the idle threshold
	log.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

	claimed, err = log.ClaimPending(ctx, "s", "g", "survivor", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[0], claimed[0].ID)
	assert.Equal(t, ids[1], claimed[1].ID)

	pending, err := log.Pending(ctx, "s", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "survivor", pending[0].Consumer)
	assert.Equal(t, int64(2), pending[0].DeliveryCount)

	// Freshly claimed entries are no longer idle
	claimed, err = log.ClaimPending(ctx, "s", "g", "thief", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestDeleteGroup(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	appendN(t, log, "s", 1)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

	require.NoError(t, log.DeleteGroup(ctx, "s", "g"))

	_, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
	assert.ErrorIs(t, err, stream.ErrNotFound)

	// Deleting again is a no-op, deleting from a missing stream is not
	require.NoError(t, log.DeleteGroup(ctx, "s", "g"))
	assert.ErrorIs(t, log.DeleteGroup(ctx, "nope", "g"), stream.ErrNotFound)
}

func TestLen(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	n, err := log.Len(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, n)

	appendN(t, log, "s", 4)
	n, err = log.Len(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	_, err := log.Groups(ctx, "nope")
	assert.ErrorIs(t, err, stream.ErrNotFound)

	ids := appendN(t, log, "s", 3)
	require.NoError(t, log.CreateGroup(ctx, "s", "g1", stream.StartBeginning, false))
	require.NoError(t, log.CreateGroup(ctx, "s", "g2", stream.StartBeginning, false))

	entries, err := log.ReadGroup(ctx, "s", "g1", "c1", 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, log.Ack(ctx, "s", "g1", entries[0].ID))

	infos, err := log.Groups(ctx, "s")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "g1", infos[0].Name)
	assert.Equal(t, int64(1), infos[0].Consumers)
	assert.Equal(t, int64(1), infos[0].Pending)
	assert.Equal(t, int64(1), infos[0].Lag)
	assert.Equal(t, ids[1], infos[0].LastDeliveredID)

	assert.Equal(t, "g2", infos[1].Name)
	assert.Zero(t, infos[1].Pending)
	assert.Equal(t, int64(3), infos[1].Lag)
}

func TestRange(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	entries, err := log.Range(ctx, "nope", "-", "+", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	ids := appendN(t, log, "s", 4)

	t.Run("full range", func(t *testing.T) {
		entries, err := log.Range(ctx, "s", "-", "+", 10)
		require.NoError(t, err)
		require.Len(t, entries, 4)
		assert.Equal(t, ids[0], entries[0].ID)
	})

	t.Run("single entry", func(t *testing.T) {
		entries, err := log.Range(ctx, "s", ids[2], ids[2], 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ids[2], entries[0].ID)
	})

	t.Run("count limit", func(t *testing.T) {
		entries, err := log.Range(ctx, "s", "-", "+", 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("does not touch cursors", func(t *testing.T) {
		require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

		_, err := log.Range(ctx, "s", "-", "+", 10)
		require.NoError(t, err)

		delivered, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
		require.NoError(t, err)
		assert.Len(t, delivered, 4)
	})
}

func TestDeleteStream(t *testing.T) {
	ctx := context.Background()
	log := NewLog()

	appendN(t, log, "s", 2)
	require.NoError(t, log.CreateGroup(ctx, "s", "g", stream.StartBeginning, false))

	require.NoError(t, log.DeleteStream(ctx, "s"))

	n, err := log.Len(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = log.Groups(ctx, "s")
	assert.ErrorIs(t, err, stream.ErrNotFound)

	// Idempotent
	require.NoError(t, log.DeleteStream(ctx, "s"))
}
