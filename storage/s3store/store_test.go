// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package s3store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/s3db/internal/testcontext"
	"storj.io/s3db/storage/storetest"
)

func TestETagQuoting(t *testing.T) {
	require.Equal(t, "abc", unquoteETag(`"abc"`))
	require.Equal(t, "abc", unquoteETag("abc"))
	require.Equal(t, `"abc"`, quoteETag("abc"))
	require.Equal(t, `"abc"`, quoteETag(`"abc"`))
}

func TestNewValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := New(ctx, Config{})
	require.Error(t, err)

	client, err := New(ctx, Config{
		Bucket:         "test",
		AccessKey:      "key",
		SecretKey:      "secret",
		Endpoint:       "http://localhost:9000",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

// TestSuite runs the conformance suite against a real endpoint. Set
// S3DB_TEST_ENDPOINT, S3DB_TEST_BUCKET, S3DB_TEST_ACCESS_KEY and
// S3DB_TEST_SECRET_KEY, for example against a local MinIO.
func TestSuite(t *testing.T) {
	endpoint := os.Getenv("S3DB_TEST_ENDPOINT")
	bucket := os.Getenv("S3DB_TEST_BUCKET")
	if endpoint == "" || bucket == "" {
		t.Skip("S3DB_TEST_ENDPOINT and S3DB_TEST_BUCKET are not set")
	}

	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, err := New(ctx, Config{
		AccessKey:      os.Getenv("S3DB_TEST_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3DB_TEST_SECRET_KEY"),
		Endpoint:       endpoint,
		Bucket:         bucket,
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	defer ctx.Check(client.Close)

	require.NoError(t, client.EnsureBucket(ctx))
	storetest.RunTests(t, client)
}
