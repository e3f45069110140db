// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metacodec_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/s3db/metacodec"
	"storj.io/s3db/schema"
)

func kind(k schema.Kind) schema.Type { return schema.Type{Kind: k} }

func TestEncodeDecodeValues(t *testing.T) {
	codec := metacodec.New(metacodec.Options{})

	cases := []struct {
		name    string
		typ     schema.Type
		value   any
		decoded any
		tag     byte
	}{
		{"integer", kind(schema.KindInteger), int64(36), int64(36), 'i'},
		{"negative", kind(schema.KindInteger), int64(-17), int64(-17), 'i'},
		{"whole number", kind(schema.KindNumber), float64(4), float64(4), 'i'},
		{"decimal", kind(schema.KindNumber), 3.25, 3.25, 'f'},
		{"bool true", kind(schema.KindBoolean), true, true, 'b'},
		{"bool false", kind(schema.KindBoolean), false, false, 'b'},
		{"string", kind(schema.KindString), "hello world", "hello world", 's'},
		{"utf8 string", kind(schema.KindString), "héllo", "héllo", 'e'},
		{"uuid", kind(schema.KindUUID),
			"f47ac10b-58cc-4372-a567-0e02b2c3d479",
			"f47ac10b-58cc-4372-a567-0e02b2c3d479", 'u'},
		{"string array", schema.Type{Kind: schema.KindArray, Items: schema.KindString},
			[]string{"a", "b|c", "d%e"}, []any{"a", "b|c", "d%e"}, 'p'},
		{"int array", schema.Type{Kind: schema.KindArray, Items: schema.KindInteger},
			[]int64{1, -2, 300}, []any{int64(1), int64(-2), int64(300)}, 'n'},
		{"empty string array", schema.Type{Kind: schema.KindArray, Items: schema.KindString},
			[]string{}, []any{}, 'p'},
		{"lone empty string", schema.Type{Kind: schema.KindArray, Items: schema.KindString},
			[]string{""}, []any{""}, 'j'},
		{"trailing empty string", schema.Type{Kind: schema.KindArray, Items: schema.KindString},
			[]string{"a", ""}, []any{"a", ""}, 'p'},
		{"json", kind(schema.KindJSON),
			map[string]any{"k": "v"}, map[string]any{"k": "v"}, 'j'},
		{"secret", kind(schema.KindSecret), "c2VhbGVk", "c2VhbGVk", 'x'},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := codec.EncodeValue(tc.typ, tc.value)
			require.NoError(t, err)
			require.NotEmpty(t, encoded)
			assert.Equal(t, tc.tag, encoded[0], "tag of %q", encoded)

			decoded, err := codec.DecodeValue(tc.typ, encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.decoded, decoded)
		})
	}
}

func TestEncodeDecodeTime(t *testing.T) {
	codec := metacodec.New(metacodec.Options{})
	typ := kind(schema.KindDate)

	when := time.Date(2026, 8, 26, 12, 34, 56, 789_000_000, time.UTC)
	encoded, err := codec.EncodeValue(typ, when)
	require.NoError(t, err)
	require.Equal(t, byte('t'), encoded[0])

	decoded, err := codec.DecodeValue(typ, encoded)
	require.NoError(t, err)
	require.Equal(t, when, decoded)

	// packed form beats the RFC 3339 representation
	require.Less(t, len(encoded), len(when.Format(time.RFC3339Nano)))
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	codec := metacodec.New(metacodec.Options{})
	typ := schema.Type{Kind: schema.KindEmbedding, Dimension: 4}

	vector := []float64{0.25, -1.5, 0, 0.333333}
	encoded, err := codec.EncodeValue(typ, vector)
	require.NoError(t, err)
	require.Equal(t, byte('m'), encoded[0])

	decoded, err := codec.DecodeValue(typ, encoded)
	require.NoError(t, err)
	floats := decoded.([]float64)
	require.Len(t, floats, 4)
	for i := range vector {
		assert.InDelta(t, vector[i], floats[i], 1e-6)
	}
}

func TestDictionary(t *testing.T) {
	codec := metacodec.New(metacodec.Options{
		Dictionary: []string{"pending", "shipped", "delivered"},
	})
	typ := kind(schema.KindString)

	encoded, err := codec.EncodeValue(typ, "shipped")
	require.NoError(t, err)
	require.Equal(t, "d1", encoded)

	decoded, err := codec.DecodeValue(typ, encoded)
	require.NoError(t, err)
	require.Equal(t, "shipped", decoded)

	// values outside the dictionary keep the plain encoding
	encoded, err = codec.EncodeValue(typ, "lost")
	require.NoError(t, err)
	require.Equal(t, "slost", encoded)
}

func TestSmallestEncodingSelected(t *testing.T) {
	codec := metacodec.New(metacodec.Options{})

	// a large integer in base62 is shorter than its decimal digits
	encoded, err := codec.EncodeValue(kind(schema.KindInteger), int64(1_000_000_000_000))
	require.NoError(t, err)
	require.Less(t, len(encoded), len("1000000000000"))

	// embeddings beat their JSON representation by a wide margin
	vector := make([]float64, 64)
	for i := range vector {
		vector[i] = float64(i) * 0.017
	}
	packed, err := codec.EncodeValue(schema.Type{Kind: schema.KindEmbedding}, vector)
	require.NoError(t, err)
	asJSON, err := codec.EncodeValue(kind(schema.KindJSON), vector)
	require.NoError(t, err)
	require.Less(t, len(packed), len(asJSON)/2)
}

func TestDecodeErrors(t *testing.T) {
	codec := metacodec.New(metacodec.Options{})

	_, err := codec.DecodeValue(kind(schema.KindString), "")
	require.Error(t, err)

	_, err = codec.DecodeValue(kind(schema.KindString), "?bogus")
	require.Error(t, err)

	_, err = codec.DecodeValue(kind(schema.KindBoolean), "b2")
	require.Error(t, err)

	_, err = codec.DecodeValue(kind(schema.KindString), "d0")
	require.Error(t, err, "dictionary token without a dictionary")
}

func TestTrySerializeOverflow(t *testing.T) {
	codec := metacodec.New(metacodec.Options{MetadataLimit: 64})

	s := compileSchema(t, map[string]any{
		"tiny": "string",
		"big":  "string",
	})

	// tiny fits, big does not
	packed, err := codec.TrySerialize(map[string]any{
		"tiny": "x",
		"big":  strings.Repeat("y", 100),
	}, s.Map, 0)
	require.NoError(t, err)
	require.False(t, packed.Fit)
	require.Len(t, packed.Meta, 1)
	require.Contains(t, packed.Overflow, "big")
	require.Len(t, packed.Encoded, 2)

	// both fit once big shrinks
	packed, err = codec.TrySerialize(map[string]any{
		"tiny": "x",
		"big":  "y",
	}, s.Map, 0)
	require.NoError(t, err)
	require.True(t, packed.Fit)
	require.Empty(t, packed.Overflow)
	require.Len(t, packed.Meta, 2)
}

func TestTrySerializeExactBudget(t *testing.T) {
	s := compileSchema(t, map[string]any{"a": "string"})
	attr, ok := s.Map.ByName("a")
	require.True(t, ok)

	// entry size: short key + tag + payload + 2
	payload := strings.Repeat("v", 10)
	size := metacodec.EntrySize(attr.ShortKey, "s"+payload)

	codec := metacodec.New(metacodec.Options{MetadataLimit: size})
	packed, err := codec.TrySerialize(map[string]any{"a": payload}, s.Map, 0)
	require.NoError(t, err)
	require.True(t, packed.Fit)
	require.Equal(t, size, packed.Size)

	// one byte less and the value overflows
	codec = metacodec.New(metacodec.Options{MetadataLimit: size - 1})
	packed, err = codec.TrySerialize(map[string]any{"a": payload}, s.Map, 0)
	require.NoError(t, err)
	require.False(t, packed.Fit)
	require.Contains(t, packed.Overflow, "a")
}

func TestTrySerializeReservedCounts(t *testing.T) {
	s := compileSchema(t, map[string]any{"a": "string"})
	attr, _ := s.Map.ByName("a")
	size := metacodec.EntrySize(attr.ShortKey, "svalue")

	codec := metacodec.New(metacodec.Options{MetadataLimit: size})
	packed, err := codec.TrySerialize(map[string]any{"a": "value"}, s.Map, 1)
	require.NoError(t, err)
	require.False(t, packed.Fit)
}

func TestDecodeMetaRoundTrip(t *testing.T) {
	codec := metacodec.New(metacodec.Options{})
	s := compileSchema(t, map[string]any{
		"name":  "string",
		"age":   "integer",
		"admin": "boolean",
	})

	values := map[string]any{"name": "Ada", "age": int64(36), "admin": true}
	packed, err := codec.TrySerialize(values, s.Map, 0)
	require.NoError(t, err)
	require.True(t, packed.Fit)

	// runtime headers are skipped on decode
	packed.Meta["_v"] = "v1"

	flat, err := codec.DecodeMeta(packed.Meta, s.Map)
	require.NoError(t, err)
	require.Equal(t, values, flat)
}

func compileSchema(t *testing.T, definition map[string]any) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(definition)
	require.NoError(t, err)
	return s
}
