// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storetest provides a conformance suite that every
// storage.Client implementation must pass.
package storetest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/storage"
)

// RunTests runs the conformance suite against store. Every subtest
// works under its own key prefix and removes it afterwards, so the
// suite may run against shared buckets.
func RunTests(t *testing.T, store storage.Client) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("Conditional", func(t *testing.T) { testConditional(t, store) })
	t.Run("List", func(t *testing.T) { testList(t, store) })
	t.Run("DeleteBatch", func(t *testing.T) { testDeleteBatch(t, store) })
	t.Run("CopyMove", func(t *testing.T) { testCopyMove(t, store) })
	t.Run("Helpers", func(t *testing.T) { testHelpers(t, store) })
	t.Run("SpecialKeys", func(t *testing.T) { testSpecialKeys(t, store) })
}

func cleanup(t *testing.T, ctx *testcontext.Context, store storage.Client, prefix string) {
	t.Helper()
	_, err := storage.DeleteAllUnder(ctx, store, prefix)
	require.NoError(t, err)
}

func put(ctx *testcontext.Context, t *testing.T, store storage.Client, key, body string, opts storage.PutOptions) storage.ObjectInfo {
	t.Helper()
	info, err := store.Put(ctx, key, strings.NewReader(body), opts)
	require.NoError(t, err)
	require.NotEmpty(t, info.ETag)
	return info
}

func testCRUD(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-crud/")

	metadata := map[string]string{"_v": "v1", "0": "salice", "1": "i3k"}
	info := put(ctx, t, store, "test-crud/one", `{"name":"alice"}`, storage.PutOptions{
		Metadata:    metadata,
		ContentType: "application/json",
	})
	require.Equal(t, "test-crud/one", info.Key)

	object, err := store.Get(ctx, "test-crud/one")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"name":"alice"}`), object.Body)
	require.Equal(t, "application/json", object.ContentType)
	require.Equal(t, info.ETag, object.ETag)
	require.Empty(t, cmp.Diff(metadata, object.Metadata))

	head, err := store.Head(ctx, "test-crud/one")
	require.NoError(t, err)
	require.Equal(t, info.ETag, head.ETag)
	require.Equal(t, int64(len(object.Body)), head.ContentLength)
	require.Empty(t, cmp.Diff(metadata, head.Metadata))

	exists, err := store.Exists(ctx, "test-crud/one")
	require.NoError(t, err)
	require.True(t, exists)

	// overwrite changes content and etag
	updated := put(ctx, t, store, "test-crud/one", `{"name":"bob"}`, storage.PutOptions{})
	require.NotEqual(t, info.ETag, updated.ETag)

	require.NoError(t, store.Delete(ctx, "test-crud/one"))
	// deleting a missing key is not an error
	require.NoError(t, store.Delete(ctx, "test-crud/one"))

	_, err = store.Get(ctx, "test-crud/one")
	require.True(t, storage.ErrNoSuchKey.Has(err), "expected object not found, got %v", err)
	_, err = store.Head(ctx, "test-crud/one")
	require.True(t, storage.ErrNoSuchKey.Has(err), "expected object not found, got %v", err)

	exists, err = store.Exists(ctx, "test-crud/one")
	require.NoError(t, err)
	require.False(t, exists)
}

func testConditional(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-cond/")

	// IfNoneMatch="*" succeeds only when the key does not exist.
	first, err := store.Put(ctx, "test-cond/lock", strings.NewReader("holder-a"), storage.PutOptions{IfNoneMatch: "*"})
	require.NoError(t, err)

	_, err = store.Put(ctx, "test-cond/lock", strings.NewReader("holder-b"), storage.PutOptions{IfNoneMatch: "*"})
	require.True(t, storage.ErrPrecondition.Has(err), "expected precondition failure, got %v", err)

	// IfMatch succeeds with the current etag and fails with a stale one.
	second, err := store.Put(ctx, "test-cond/lock", strings.NewReader("holder-a-renewed"), storage.PutOptions{IfMatch: first.ETag})
	require.NoError(t, err)

	_, err = store.Put(ctx, "test-cond/lock", strings.NewReader("stale"), storage.PutOptions{IfMatch: first.ETag})
	require.True(t, storage.ErrPrecondition.Has(err), "expected precondition failure, got %v", err)

	// S3 reports IfMatch against a missing key as not found
	_, err = store.Put(ctx, "test-cond/missing", strings.NewReader("x"), storage.PutOptions{IfMatch: second.ETag})
	require.True(t, storage.ErrNoSuchKey.Has(err), "expected object not found, got %v", err)
}

func testList(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-list/")

	var want []string
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("test-list/resource=bee/id=%02d", i)
		want = append(want, key)
		put(ctx, t, store, key, "body", storage.PutOptions{})
	}
	put(ctx, t, store, "test-list/other", "body", storage.PutOptions{})

	page, err := store.List(ctx, storage.ListOptions{Prefix: "test-list/resource=bee/"})
	require.NoError(t, err)
	require.False(t, page.IsTruncated)
	require.Equal(t, want, keysOf(page))

	// paging with continuation tokens
	var paged []string
	opts := storage.ListOptions{Prefix: "test-list/resource=bee/", MaxKeys: 3}
	for {
		page, err := store.List(ctx, opts)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Contents), 3)
		paged = append(paged, keysOf(page)...)
		if !page.IsTruncated {
			break
		}
		require.NotEmpty(t, page.NextContinuationToken)
		opts.ContinuationToken = page.NextContinuationToken
	}
	require.Equal(t, want, paged)

	// empty page for a prefix without objects
	page, err = store.List(ctx, storage.ListOptions{Prefix: "test-list/nothing/"})
	require.NoError(t, err)
	require.Empty(t, page.Contents)
	require.False(t, page.IsTruncated)
}

func testDeleteBatch(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-batch/")

	var keys []string
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("test-batch/id=%d", i)
		keys = append(keys, key)
		put(ctx, t, store, key, "body", storage.PutOptions{})
	}

	// missing keys inside a batch are not failures
	failed, err := store.DeleteBatch(ctx, append(keys, "test-batch/never-existed"))
	require.NoError(t, err)
	require.Empty(t, failed)

	remaining, err := storage.ListAllKeys(ctx, store, "test-batch/")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func testCopyMove(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-copy/")

	metadata := map[string]string{"0": "sv", "_t": "1"}
	put(ctx, t, store, "test-copy/src", "payload", storage.PutOptions{Metadata: metadata})

	copied, err := store.Copy(ctx, "test-copy/src", "test-copy/dst")
	require.NoError(t, err)
	require.Equal(t, "test-copy/dst", copied.Key)

	object, err := store.Get(ctx, "test-copy/dst")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), object.Body)
	require.Empty(t, cmp.Diff(metadata, object.Metadata))

	// source still present after copy
	exists, err := store.Exists(ctx, "test-copy/src")
	require.NoError(t, err)
	require.True(t, exists)

	_, err = store.Move(ctx, "test-copy/dst", "test-copy/moved")
	require.NoError(t, err)
	exists, err = store.Exists(ctx, "test-copy/dst")
	require.NoError(t, err)
	require.False(t, exists)

	object, err = store.Get(ctx, "test-copy/moved")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), object.Body)
	require.Empty(t, cmp.Diff(metadata, object.Metadata))

	_, err = store.Copy(ctx, "test-copy/never-existed", "test-copy/x")
	require.True(t, storage.ErrNoSuchKey.Has(err), "expected object not found, got %v", err)
}

func testHelpers(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-helpers/")

	for i := 0; i < 6; i++ {
		put(ctx, t, store, fmt.Sprintf("test-helpers/id=%d", i), "body", storage.PutOptions{})
	}

	keys, err := storage.ListAllKeys(ctx, store, "test-helpers/")
	require.NoError(t, err)
	require.Len(t, keys, 6)

	count, err := storage.CountKeys(ctx, store, "test-helpers/")
	require.NoError(t, err)
	require.Equal(t, 6, count)

	// walk stops early without error
	seen := 0
	err = storage.WalkKeys(ctx, store, "test-helpers/", func(info storage.ObjectInfo) error {
		seen++
		if seen == 2 {
			return storage.ErrStopWalk
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, seen)

	deleted, err := storage.DeleteAllUnder(ctx, store, "test-helpers/")
	require.NoError(t, err)
	require.Equal(t, 6, deleted)

	count, err = storage.CountKeys(ctx, store, "test-helpers/")
	require.NoError(t, err)
	require.Zero(t, count)
}

func testSpecialKeys(t *testing.T, store storage.Client) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanup(t, ctx, store, "test-special/")

	keys := []string{
		"test-special/with space",
		"test-special/with%percent",
		"test-special/with|pipe",
		"test-special/dots.in.key.json",
		"test-special/ünïcode-ключ",
		"test-special/nested/deeper/key",
	}
	for _, key := range keys {
		put(ctx, t, store, key, "body:"+key, storage.PutOptions{})
	}

	for _, key := range keys {
		object, err := store.Get(ctx, key)
		require.NoError(t, err, "get %q", key)
		require.Equal(t, []byte("body:"+key), object.Body)
	}

	listed, err := storage.ListAllKeys(ctx, store, "test-special/")
	require.NoError(t, err)
	require.Len(t, listed, len(keys))

	_, err = store.Put(ctx, "", bytes.NewReader(nil), storage.PutOptions{})
	require.Error(t, err)
}

func keysOf(page storage.ListResult) []string {
	keys := make([]string, 0, len(page.Contents))
	for _, info := range page.Contents {
		keys = append(keys, info.Key)
	}
	return keys
}
