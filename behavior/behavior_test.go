// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package behavior_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/s3db/behavior"
	"storj.io/s3db/metacodec"
	"storj.io/s3db/schema"
)

func pack(t *testing.T, limit int, values map[string]any) (metacodec.Packed, behavior.DecodeMetaFunc) {
	t.Helper()
	s, err := schema.Compile(map[string]any{
		"title": "string",
		"body":  "string",
	})
	require.NoError(t, err)

	codec := metacodec.New(metacodec.Options{MetadataLimit: limit})
	packed, err := codec.TrySerialize(values, s.Map, 0)
	require.NoError(t, err)

	return packed, func(meta map[string]string) (map[string]any, error) {
		return codec.DecodeMeta(meta, s.Map)
	}
}

func TestGet(t *testing.T) {
	for _, name := range []string{
		behavior.EnforceLimits, behavior.TruncateData, behavior.BodyOverflow,
		behavior.BodyOnly, behavior.UserManaged,
	} {
		b, err := behavior.Get(name)
		require.NoError(t, err)
		require.Equal(t, name, b.Name())
	}

	b, err := behavior.Get("")
	require.NoError(t, err)
	require.Equal(t, behavior.Default, b.Name())

	_, err = behavior.Get("bogus")
	require.Error(t, err)
}

func TestEnforceLimits(t *testing.T) {
	b, _ := behavior.Get(behavior.EnforceLimits)

	packed, decode := pack(t, 2048, map[string]any{"title": "T"})
	meta, body, err := b.Pack(packed, nil)
	require.NoError(t, err)
	require.Nil(t, body)
	require.False(t, b.NeedsBody(meta))

	record, err := b.Unpack(meta, nil, decode)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "T"}, record)

	packed, _ = pack(t, 32, map[string]any{"title": "T", "body": strings.Repeat("x", 100)})
	_, _, err = b.Pack(packed, nil)
	require.True(t, behavior.ErrMetadataLimit.Has(err))
}

func TestTruncateData(t *testing.T) {
	b, _ := behavior.Get(behavior.TruncateData)

	packed, decode := pack(t, 32, map[string]any{"title": "T", "body": strings.Repeat("x", 100)})
	meta, body, err := b.Pack(packed, nil)
	require.NoError(t, err)
	require.Nil(t, body)
	require.Equal(t, "1", meta[behavior.HeaderTruncated])

	record, err := b.Unpack(meta, nil, decode)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "T"}, record)
}

func TestBodyOverflow(t *testing.T) {
	b, _ := behavior.Get(behavior.BodyOverflow)

	big := strings.Repeat("x", 100)
	packed, decode := pack(t, 32, map[string]any{"title": "T", "body": big})
	meta, body, err := b.Pack(packed, nil)
	require.NoError(t, err)
	require.Equal(t, "1", meta[behavior.HeaderOverflow])
	require.NotEmpty(t, body)
	require.True(t, b.NeedsBody(meta))

	record, err := b.Unpack(meta, body, decode)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "T", "body": big}, record)

	// no overflow, no body
	packed, _ = pack(t, 2048, map[string]any{"title": "T", "body": "short"})
	meta, body, err = b.Pack(packed, nil)
	require.NoError(t, err)
	require.Nil(t, body)
	require.NotContains(t, meta, behavior.HeaderOverflow)
	require.False(t, b.NeedsBody(meta))
}

func TestBodyOnly(t *testing.T) {
	b, _ := behavior.Get(behavior.BodyOnly)

	record := map[string]any{"title": "T", "body": "content"}
	meta, body, err := b.Pack(metacodec.Packed{}, record)
	require.NoError(t, err)
	require.Empty(t, meta)
	require.NotEmpty(t, body)
	require.True(t, b.NeedsBody(nil))

	back, err := b.Unpack(nil, body, nil)
	require.NoError(t, err)
	require.Equal(t, record, back)
}

func TestUserManaged(t *testing.T) {
	b, _ := behavior.Get(behavior.UserManaged)

	// user-managed persists everything, budget or not
	big := strings.Repeat("x", 100)
	packed, decode := pack(t, 32, map[string]any{"title": "T", "body": big})
	meta, body, err := b.Pack(packed, nil)
	require.NoError(t, err)
	require.Nil(t, body)
	require.Len(t, meta, 2)

	record, err := b.Unpack(meta, nil, decode)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "T", "body": big}, record)
}
