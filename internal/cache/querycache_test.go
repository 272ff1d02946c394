package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *QueryCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, 5*time.Minute, zap.NewNop().Sugar())
}

func TestPutGetHit(t *testing.T) {
	qc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "jobs:tenant:abc", `[{"id":"j1"}]`, "h1", time.Minute))

	value, ok, err := qc.Get(ctx, "jobs:tenant:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[{"id":"j1"}]`, value)

	// two more hits, then check the counter moved with each
	for i := 0; i < 2; i++ {
		_, ok, err = qc.Get(ctx, "jobs:tenant:abc")
		require.NoError(t, err)
		require.True(t, ok)
	}
	entry, found, err := qc.GetEntry(ctx, "jobs:tenant:abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), entry.HitCount)
}

func TestGetMissingKeyIsMiss(t *testing.T) {
	qc := newTestCache(t)

	_, ok, err := qc.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpiredEntryIsMissButStaysPresent(t *testing.T) {
	qc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "stale", "old-value", "h2", -time.Second))

	_, ok, err := qc.Get(ctx, "stale")
	require.NoError(t, err)
	require.False(t, ok)

	// the record survives until eviction, and the miss did not bump hits
	entry, found, err := qc.GetEntry(ctx, "stale")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "old-value", entry.Value)
	require.Equal(t, int64(0), entry.HitCount)
}

func TestPutResetsHitCount(t *testing.T) {
	qc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "k", "v1", "h1", time.Minute))
	_, _, err := qc.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, qc.Put(ctx, "k", "v2", "h1", time.Minute))
	entry, found, err := qc.GetEntry(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", entry.Value)
	require.Equal(t, int64(0), entry.HitCount)
}

func TestInvalidateExpiresImmediately(t *testing.T) {
	qc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "k", "v", "h", time.Hour))
	require.NoError(t, qc.Invalidate(ctx, "k"))

	_, ok, err := qc.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	_, found, err := qc.GetEntry(ctx, "k")
	require.NoError(t, err)
	require.True(t, found, "invalidated entries stay until the sweep")
}

func TestEvictRemovesOnlyExpired(t *testing.T) {
	qc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "gone", "v", "h", -time.Second))
	require.NoError(t, qc.Put(ctx, "kept", "v", "h", time.Hour))

	removed, err := qc.Evict(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, found, err := qc.GetEntry(ctx, "gone")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = qc.GetEntry(ctx, "kept")
	require.NoError(t, err)
	require.True(t, found)

	// a second sweep finds nothing to do
	removed, err = qc.Evict(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestStatsWindow(t *testing.T) {
	qc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "k", "v", "h", time.Minute))
	for i := 0; i < 3; i++ {
		_, ok, err := qc.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, ok, err := qc.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)

	st, err := qc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.Hits)
	require.Equal(t, int64(1), st.Misses)
	require.InDelta(t, 0.75, st.HitRate, 0.001)
	require.Equal(t, "5m0s", st.Window)
}

func TestStatsEmptyWindow(t *testing.T) {
	qc := newTestCache(t)

	st, err := qc.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, st.Hits)
	require.Zero(t, st.Misses)
	require.Zero(t, st.HitRate)
}
