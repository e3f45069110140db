// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/resource"
	"storj.io/s3db/storage"
)

func partitionedFixture(t *testing.T, async bool) *fixture {
	return newFixture(t, resource.Config{
		Name:            "orders",
		AsyncPartitions: async,
		Partitions: []resource.Partition{
			{Name: "byStatus", Fields: map[string]string{"status": "string"}},
			{Name: "byMonth", Fields: map[string]string{"placedAt": "date|maxlength:7"}},
		},
	}, map[string]any{
		"status":   "string",
		"placedAt": "date|optional",
		"total":    "number|optional",
	})
}

func TestPartitionEntriesOnInsert(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := partitionedFixture(t, false)

	inserted, err := f.res.Insert(ctx, map[string]any{
		"status":   "active",
		"placedAt": "2026-03-14T00:00:00Z",
	})
	require.NoError(t, err)
	id := inserted["id"].(string)

	keys, err := storage.ListAllKeys(ctx, f.store, "")
	require.NoError(t, err)
	require.Len(t, keys, 3, "owner plus two partition entries: %v", keys)
	assert.Contains(t, keys, "resource=orders/partition=byStatus/status=active/id="+id)
	assert.Contains(t, keys, "resource=orders/partition=byMonth/placedAt=2026-03/id="+id)
}

func TestPartitionSkippedWhenFieldNull(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := partitionedFixture(t, false)

	inserted, err := f.res.Insert(ctx, map[string]any{"status": "active"})
	require.NoError(t, err)
	id := inserted["id"].(string)

	keys, err := storage.ListAllKeys(ctx, f.store, "resource=orders/partition=")
	require.NoError(t, err)
	require.Equal(t, []string{"resource=orders/partition=byStatus/status=active/id=" + id}, keys)
}

func TestPartitionEntriesFollowUpdate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := partitionedFixture(t, false)

	inserted, err := f.res.Insert(ctx, map[string]any{"status": "active"})
	require.NoError(t, err)
	id := inserted["id"].(string)

	_, err = f.res.Update(ctx, id, map[string]any{"status": "shipped"})
	require.NoError(t, err)

	keys, err := storage.ListAllKeys(ctx, f.store, "resource=orders/partition=byStatus/")
	require.NoError(t, err)
	require.Equal(t, []string{"resource=orders/partition=byStatus/status=shipped/id=" + id}, keys,
		"the stale entry must be gone")

	active, err := f.res.List(ctx, resource.ListOptions{
		Partition:       "byStatus",
		PartitionValues: map[string]any{"status": "active"},
	})
	require.NoError(t, err)
	require.Empty(t, active)

	shipped, err := f.res.List(ctx, resource.ListOptions{
		Partition:       "byStatus",
		PartitionValues: map[string]any{"status": "shipped"},
	})
	require.NoError(t, err)
	require.Len(t, shipped, 1)
	assert.Equal(t, id, shipped[0]["id"])
}

func TestAsyncPartitionsSettle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := partitionedFixture(t, true)

	inserted, err := f.res.Insert(ctx, map[string]any{"status": "active"})
	require.NoError(t, err)

	// Close waits for detached partition writes
	require.NoError(t, f.res.Close())

	keys, err := storage.ListAllKeys(ctx, f.store, "resource=orders/partition=")
	require.NoError(t, err)
	require.Equal(t, []string{
		"resource=orders/partition=byStatus/status=active/id=" + inserted["id"].(string),
	}, keys)
}

func TestPartitionListByPrefix(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name: "events",
		Partitions: []resource.Partition{
			{Name: "byRegionDay", Fields: map[string]string{
				"region": "string",
				"day":    "string",
			}},
		},
	}, map[string]any{
		"region": "string",
		"day":    "string",
	})

	for _, row := range []map[string]any{
		{"region": "eu", "day": "2026-01-01"},
		{"region": "eu", "day": "2026-01-02"},
		{"region": "us", "day": "2026-01-01"},
	} {
		_, err := f.res.Insert(ctx, row)
		require.NoError(t, err)
	}

	// fields resolve in name order: day before region, so a
	// day-only scope works but a region-only one does not
	byDay, err := f.res.List(ctx, resource.ListOptions{
		Partition:       "byRegionDay",
		PartitionValues: map[string]any{"day": "2026-01-01"},
	})
	require.NoError(t, err)
	require.Len(t, byDay, 2)

	_, err = f.res.List(ctx, resource.ListOptions{
		Partition:       "byRegionDay",
		PartitionValues: map[string]any{"region": "eu"},
	})
	require.Error(t, err)

	both, err := f.res.List(ctx, resource.ListOptions{
		Partition:       "byRegionDay",
		PartitionValues: map[string]any{"day": "2026-01-02", "region": "eu"},
	})
	require.NoError(t, err)
	require.Len(t, both, 1)
}

func TestReconcileRepairsDrift(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := partitionedFixture(t, false)

	inserted, err := f.res.Insert(ctx, map[string]any{"status": "active"})
	require.NoError(t, err)
	id := inserted["id"].(string)

	// simulate a crash between the owner write and the index write
	missing := "resource=orders/partition=byStatus/status=active/id=" + id
	require.NoError(t, f.store.Delete(ctx, missing))
	stale := "resource=orders/partition=byStatus/status=draft/id=" + id
	_, err = f.store.Put(ctx, stale, strings.NewReader(""), storage.PutOptions{})
	require.NoError(t, err)

	stats, err := f.res.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, resource.ReconcileStats{Scanned: 1, Added: 1, Removed: 1}, stats)

	keys, err := storage.ListAllKeys(ctx, f.store, "resource=orders/partition=")
	require.NoError(t, err)
	require.Equal(t, []string{missing}, keys)

	// a second pass finds nothing to do
	stats, err = f.res.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, resource.ReconcileStats{Scanned: 1}, stats)
}

func TestPartitionValueEscaping(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, resource.Config{
		Name: "files",
		Partitions: []resource.Partition{
			{Name: "byDir", Fields: map[string]string{"dir": "string"}},
		},
	}, map[string]any{"dir": "string"})

	inserted, err := f.res.Insert(ctx, map[string]any{"dir": "a/b=c&d"})
	require.NoError(t, err)

	records, err := f.res.List(ctx, resource.ListOptions{
		Partition:       "byDir",
		PartitionValues: map[string]any{"dir": "a/b=c&d"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, inserted["id"], records[0]["id"])
	assert.Equal(t, "a/b=c&d", records[0]["dir"])
}
