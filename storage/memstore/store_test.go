// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package memstore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/storage"
	"storj.io/s3db/storage/memstore"
	"storj.io/s3db/storage/storetest"
)

func TestSuite(t *testing.T) {
	storetest.RunTests(t, memstore.New())
}

func TestCallCount(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := memstore.New()
	_, err := store.Put(ctx, "a", strings.NewReader("1"), storage.PutOptions{})
	require.NoError(t, err)
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)
	_, err = store.List(ctx, storage.ListOptions{})
	require.NoError(t, err)

	require.Equal(t, 1, store.CallCount.Put)
	require.Equal(t, 2, store.CallCount.Get)
	require.Equal(t, 1, store.CallCount.List)
}
