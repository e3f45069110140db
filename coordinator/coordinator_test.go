// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package coordinator

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/storage/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newWorker(t *testing.T, store *memstore.Client, clock *fakeClock, id string) *Coordinator {
	return New(zaptest.NewLogger(t), store, eventbus.New(), Config{
		Namespace: "jobs",
		Prefix:    "app",
		WorkerID:  id,
		Now:       clock.Now,
	})
}

func TestSingleWorkerBecomesLeader(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := memstore.New()
	clock := newFakeClock()
	worker := newWorker(t, store, clock, "gcs-jobs-1-aaaa")

	var acquired int
	worker.OnAcquired(func() { acquired++ })

	require.NoError(t, worker.Tick(ctx))
	assert.True(t, worker.IsLeader())
	assert.Equal(t, "gcs-jobs-1-aaaa", worker.Leader())
	assert.Equal(t, int64(1), worker.Epoch())
	assert.Equal(t, 1, acquired)

	exists, err := store.Exists(ctx, "app/plg_coordinator_global/jobs/state.json")
	require.NoError(t, err)
	require.True(t, exists)

	// further ticks renew the lease without a new election
	clock.Advance(5 * time.Second)
	require.NoError(t, worker.Tick(ctx))
	assert.True(t, worker.IsLeader())
	assert.Equal(t, int64(1), worker.Epoch())
	assert.Equal(t, 1, acquired)
}

func TestSmallestWorkerWins(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := memstore.New()
	clock := newFakeClock()
	older := newWorker(t, store, clock, "gcs-jobs-100-aaaa")
	newer := newWorker(t, store, clock, "gcs-jobs-200-bbbb")

	// the newer worker ticks first but must not claim leadership:
	// the older worker's heartbeat already sorts first
	require.NoError(t, older.heartbeat(ctx))
	require.NoError(t, newer.Tick(ctx))
	assert.False(t, newer.IsLeader())

	require.NoError(t, older.Tick(ctx))
	assert.True(t, older.IsLeader())

	var observed string
	newer.OnChanged(func(leader string) { observed = leader })
	require.NoError(t, newer.Tick(ctx))
	assert.False(t, newer.IsLeader())
	assert.Equal(t, "gcs-jobs-100-aaaa", observed)
}

func TestFailoverAfterLeaderDies(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := memstore.New()
	clock := newFakeClock()
	leader := newWorker(t, store, clock, "gcs-jobs-100-aaaa")
	follower := newWorker(t, store, clock, "gcs-jobs-200-bbbb")

	require.NoError(t, leader.Tick(ctx))
	require.NoError(t, follower.Tick(ctx))
	require.True(t, leader.IsLeader())
	require.False(t, follower.IsLeader())

	// the leader dies: no heartbeats past the lease and worker
	// timeouts
	clock.Advance(DefaultWorkerTimeout + time.Second)

	var acquired int
	follower.OnAcquired(func() { acquired++ })
	require.NoError(t, follower.Tick(ctx))
	assert.True(t, follower.IsLeader())
	assert.Equal(t, int64(2), follower.Epoch())
	assert.Equal(t, 1, acquired)

	// the old leader comes back and observes the new one
	var lost int
	leader.OnLost(func() { lost++ })
	require.NoError(t, leader.Tick(ctx))
	assert.False(t, leader.IsLeader())
	assert.Equal(t, "gcs-jobs-200-bbbb", leader.Leader())
	assert.Equal(t, 1, lost)
}

func TestStopCleansUp(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := memstore.New()
	clock := newFakeClock()
	worker := newWorker(t, store, clock, "gcs-jobs-100-aaaa")

	require.NoError(t, worker.Tick(ctx))
	require.True(t, worker.IsLeader())
	require.NoError(t, worker.Stop(ctx))

	exists, err := store.Exists(ctx, "app/plg_coordinator_global/jobs/state.json")
	require.NoError(t, err)
	assert.False(t, exists, "leader must remove the state on clean stop")
	exists, err = store.Exists(ctx, "app/plg_coordinator_global/jobs/workers/gcs-jobs-100-aaaa.json")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, worker.IsLeader())
}

func TestGeneratedWorkerID(t *testing.T) {
	id := generateWorkerID("jobs", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))
	require.True(t, strings.HasPrefix(id, "gcs-jobs-"), id)
	require.Len(t, strings.Split(id, "-"), 4)
}
