// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/storage/filestore"
	"storj.io/s3db/storage/memstore"
)

func TestOpenClientMemory(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, prefix, err := openClient(ctx, "memory://bucket/some/prefix")
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	require.IsType(t, &memstore.Client{}, client)
	require.Equal(t, "some/prefix", prefix)

	client2, prefix2, err := openClient(ctx, "memory://bucket")
	require.NoError(t, err)
	defer func() { require.NoError(t, client2.Close()) }()
	require.Empty(t, prefix2)
}

func TestOpenClientFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, prefix, err := openClient(ctx, "file://"+ctx.Dir("store"))
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	require.IsType(t, &filestore.Client{}, client)
	require.Empty(t, prefix)
}

func TestParseURL(t *testing.T) {
	info, err := ParseURL("s3://bucket/app/data?region=eu-west-1")
	require.NoError(t, err)
	require.Equal(t, ConnectionInfo{Scheme: "s3", Bucket: "bucket", Prefix: "app/data"}, info)

	info, err = ParseURL("https://minio.local:9000/bucket/app")
	require.NoError(t, err)
	require.Equal(t, ConnectionInfo{Scheme: "https", Bucket: "bucket", Prefix: "app"}, info)

	_, err = ParseURL("s3:///missing-bucket")
	require.Error(t, err)

	_, err = ParseURL("redis://localhost")
	require.Error(t, err)
}

func TestOpenClientErrors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, _, err := openClient(ctx, "redis://localhost")
	require.Error(t, err)

	_, _, err = openClient(ctx, "http://localhost:9000")
	require.Error(t, err, "no bucket in path")
}
