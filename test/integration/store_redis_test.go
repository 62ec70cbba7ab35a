//go:build integration

package integration

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/edgelink/internal/bus/storage"
)

func testStore(t *testing.T) *storage.Redis {
	t.Helper()

	flushTestDB(t)

	st := storage.NewRedis(testRedisAddr(), "", testRedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, st.Ping(ctx), "redis not reachable at %s", testRedisAddr())

	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedisStore_AppendAndInfo(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	stream := uniqueStream("it_store_info")

	var lastID string
	for i := 0; i < 3; i++ {
		id, err := st.Append(ctx, stream, map[string]string{"seq": strconv.Itoa(i)}, 0)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		lastID = id
	}

	info, err := st.Info(ctx, stream)
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Length)
	require.Equal(t, lastID, info.LastID)
}

func TestRedisStore_MissingStreamYieldsZeroValues(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	info, err := st.Info(ctx, "it_store_never_written")
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Length)

	groups, err := st.Groups(ctx, "it_store_never_written")
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestRedisStore_EnsureGroupIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	stream := uniqueStream("it_store_group")

	require.NoError(t, st.EnsureGroup(ctx, stream, "workers"))
	require.NoError(t, st.EnsureGroup(ctx, stream, "workers"))

	groups, err := st.Groups(ctx, stream)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "workers", groups[0].Name)
}

func TestRedisStore_ReadAckPendingClaimCycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	stream := uniqueStream("it_store_cycle")

	require.NoError(t, st.EnsureGroup(ctx, stream, "workers"))
	id, err := st.Append(ctx, stream, map[string]string{"event_id": "ev-1", "bpm": "72"}, 0)
	require.NoError(t, err)

	entries, err := st.ReadGroup(ctx, stream, "workers", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)
	require.Equal(t, "72", entries[0].Fields["bpm"])

	pending, err := st.Pending(ctx, stream, "workers", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "c1", pending[0].Consumer)
	require.Equal(t, int64(1), pending[0].Deliveries)

	// A second consumer takes over the stale entry; the delivery count bumps.
	time.Sleep(50 * time.Millisecond)
	claimed, err := st.Claim(ctx, stream, "workers", "c2", 20*time.Millisecond, []string{id})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, id, claimed[0].ID)

	pending, err = st.Pending(ctx, stream, "workers", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "c2", pending[0].Consumer)
	require.Equal(t, int64(2), pending[0].Deliveries)

	require.NoError(t, st.Ack(ctx, stream, "workers", id))
	pending, err = st.Pending(ctx, stream, "workers", 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRedisStore_ClaimRespectsMinIdle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	stream := uniqueStream("it_store_minidle")

	require.NoError(t, st.EnsureGroup(ctx, stream, "workers"))
	id, err := st.Append(ctx, stream, map[string]string{"event_id": "ev-1"}, 0)
	require.NoError(t, err)

	_, err = st.ReadGroup(ctx, stream, "workers", "c1", 10, 0)
	require.NoError(t, err)

	// Freshly delivered: nothing is idle long enough to steal.
	claimed, err := st.Claim(ctx, stream, "workers", "c2", 10*time.Second, []string{id})
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestRedisStore_ReadGroupHonorsBlockTimeout(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	stream := uniqueStream("it_store_block")

	require.NoError(t, st.EnsureGroup(ctx, stream, "workers"))

	start := time.Now()
	entries, err := st.ReadGroup(ctx, stream, "workers", "c1", 10, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Empty(t, entries)
	require.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "read must block for the timeout")
	require.Less(t, elapsed, 3*time.Second)
}
