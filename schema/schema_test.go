// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package schema_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/s3db/schema"
)

func compile(t *testing.T, definition map[string]any) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(definition)
	require.NoError(t, err)
	return s
}

func TestCompileShortKeys(t *testing.T) {
	s := compile(t, map[string]any{
		"name":  "string|required",
		"age":   "integer|optional",
		"email": "email|required",
		"address": map[string]any{
			"city": "string",
			"zip":  "string|max:10",
		},
	})

	// attributes sort lexicographically: address, age, email, name
	expect := map[string]string{
		"address":      "0",
		"address.city": "0.0",
		"address.zip":  "0.1",
		"age":          "1",
		"email":        "2",
		"name":         "3",
	}
	for path, short := range expect {
		attr, ok := s.Map.ByName(path)
		require.True(t, ok, "missing %q", path)
		assert.Equal(t, short, attr.ShortKey, "short key of %q", path)

		back, ok := s.Map.ByShort(short)
		require.True(t, ok)
		assert.Equal(t, path, back.Path)
	}

	// object containers are not leaves
	leaves := s.Map.Leaves()
	require.Len(t, leaves, 5)
}

func TestCompileVersionRestoresKeys(t *testing.T) {
	definition := map[string]any{"name": "string", "age": "integer"}
	v1 := compile(t, definition)

	pairs := v1.Map.Pairs()
	// swap assignments to prove the persisted map wins
	pairs["0"], pairs["1"] = pairs["1"], pairs["0"]

	restored, err := schema.CompileVersion(definition, 1, pairs)
	require.NoError(t, err)
	attr, ok := restored.Map.ByShort("0")
	require.True(t, ok)
	require.Equal(t, "name", attr.Path)

	_, err = schema.CompileVersion(definition, 1, map[string]string{"0": "age"})
	require.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	bad := []map[string]any{
		{"_v": "string"},                  // reserved prefix
		{"a.b": "string"},                 // dotted name
		{"x": ""},                         // empty rule
		{"x": "string|integer"},           // two types
		{"x": "strink"},                   // unknown rule
		{"x": "embedding:-4"},             // bad dimension
		{"x": "string|min:abc"},           // bad bound
		{"x": "string|pattern:/[/"},       // bad regexp
		{"x": 42},                         // unsupported definition
		{"x": map[string]any{"type": 13}}, // non-object children
		{"x": "json|default:zzz"},         // default on json
	}
	for _, definition := range bad {
		_, err := schema.Compile(definition)
		require.Error(t, err, "definition %v", definition)
	}
}

func TestValidateBasics(t *testing.T) {
	s := compile(t, map[string]any{
		"name":   "string|required|min:2|max:10",
		"age":    "number|positive|integer",
		"role":   "string|enum:admin,member",
		"handle": "string|alphanum",
		"code":   "string|pattern:/^[a-z]+(-[a-z]+)*$/",
	})

	ferrs := s.Validate(map[string]any{
		"name":   "jo",
		"age":    float64(30),
		"role":   "member",
		"handle": "jo30",
		"code":   "alpha-beta",
	})
	require.Empty(t, ferrs)

	ferrs = s.Validate(map[string]any{
		"name":   "x",
		"age":    -2.5,
		"role":   "root",
		"handle": "not ok!",
		"code":   "Nope",
	})
	byField := map[string][]string{}
	for _, fe := range ferrs {
		byField[fe.Field] = append(byField[fe.Field], fe.Rule)
	}
	assert.Equal(t, []string{"min"}, byField["name"])
	assert.Equal(t, []string{"positive", "integer"}, byField["age"])
	assert.Equal(t, []string{"enum"}, byField["role"])
	assert.Equal(t, []string{"alphanum"}, byField["handle"])
	assert.Equal(t, []string{"pattern"}, byField["code"])

	// missing required
	ferrs = s.Validate(map[string]any{})
	require.Len(t, ferrs, 1)
	assert.Equal(t, "name", ferrs[0].Field)
	assert.Equal(t, "required", ferrs[0].Rule)

	require.True(t, schema.ErrValidation.Has(ferrs.Err()))
	require.NoError(t, schema.FieldErrors(nil).Err())
}

func TestValidateNullable(t *testing.T) {
	s := compile(t, map[string]any{
		"note": "string|nullable",
		"name": "string|required",
	})

	ferrs := s.Validate(map[string]any{"name": "ok", "note": nil})
	require.Empty(t, ferrs)

	ferrs = s.Validate(map[string]any{"name": nil})
	require.Len(t, ferrs, 1)
	assert.Equal(t, "nullable", ferrs[0].Rule)
}

func TestValidateFormats(t *testing.T) {
	s := compile(t, map[string]any{
		"contact": "email|required",
		"site":    "url",
		"ref":     "uuid",
		"joined":  "date",
	})

	ferrs := s.Validate(map[string]any{
		"contact": "alice@example.com",
		"site":    "https://example.com/x",
		"ref":     "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"joined":  "2026-03-01T12:00:00Z",
	})
	require.Empty(t, ferrs)

	ferrs = s.Validate(map[string]any{
		"contact": "not-an-email",
		"site":    "://nope",
		"ref":     "1234",
		"joined":  "yesterday",
	})
	require.Len(t, ferrs, 4)
	for _, fe := range ferrs {
		assert.Equal(t, "type", fe.Rule, "field %s", fe.Field)
	}
}

func TestValidateNested(t *testing.T) {
	s := compile(t, map[string]any{
		"profile": map[string]any{
			"bio":  "string|max:5",
			"link": "url|required",
		},
	})

	ferrs := s.Validate(map[string]any{
		"profile": map[string]any{"bio": "way too long"},
	})
	require.Len(t, ferrs, 2)
	assert.Equal(t, "profile.bio", ferrs[0].Field)
	assert.Equal(t, "max", ferrs[0].Rule)
	assert.Equal(t, "profile.link", ferrs[1].Field)
	assert.Equal(t, "required", ferrs[1].Rule)

	ferrs = s.Validate(map[string]any{"profile": "not an object"})
	require.Len(t, ferrs, 1)
	assert.Equal(t, "type", ferrs[0].Rule)
}

func TestValidateArrays(t *testing.T) {
	s := compile(t, map[string]any{
		"tags":   "array|items:string|min:1|max:3|empty:false",
		"scores": "array|items:integer",
		"points": map[string]any{
			"type":  "array",
			"items": map[string]any{"x": "number|required", "y": "number|required"},
		},
	})

	ferrs := s.Validate(map[string]any{
		"tags":   []any{"a", "b"},
		"scores": []any{float64(1), float64(2)},
		"points": []any{map[string]any{"x": 1.0, "y": 2.0}},
	})
	require.Empty(t, ferrs)

	ferrs = s.Validate(map[string]any{
		"tags":   []any{"a", 7},
		"scores": []any{1.5},
		"points": []any{map[string]any{"x": 1.0}},
	})
	fields := map[string]string{}
	for _, fe := range ferrs {
		fields[fe.Field] = fe.Rule
	}
	assert.Equal(t, "type", fields["tags.1"])
	assert.Equal(t, "type", fields["scores.0"])
	assert.Equal(t, "required", fields["points.0.y"])

	ferrs = s.Validate(map[string]any{"tags": []any{}, "points": []any{}})
	rules := []string{}
	for _, fe := range ferrs {
		if fe.Field == "tags" {
			rules = append(rules, fe.Rule)
		}
	}
	assert.ElementsMatch(t, []string{"min", "empty"}, rules)
}

func TestValidateEmbedding(t *testing.T) {
	s := compile(t, map[string]any{"vec": "embedding:3"})

	require.Empty(t, s.Validate(map[string]any{"vec": []any{0.1, 0.2, 0.3}}))
	require.Empty(t, s.Validate(map[string]any{"vec": []float64{1, 2, 3}}))

	ferrs := s.Validate(map[string]any{"vec": []any{0.1, 0.2}})
	require.Len(t, ferrs, 1)
	assert.Contains(t, ferrs[0].Message, "3 dimensions")

	ferrs = s.Validate(map[string]any{"vec": []any{"a", "b", "c"}})
	require.Len(t, ferrs, 1)
}

func TestNormalize(t *testing.T) {
	s := compile(t, map[string]any{
		"email":  "email|trim|lowercase",
		"plan":   "string|default:free",
		"age":    "integer",
		"weight": "number",
		"ref":    "uuid",
		"joined": "date",
		"vec":    "embedding:2",
	})

	original := map[string]any{
		"email":  "  Alice@Example.COM ",
		"age":    float64(30),
		"weight": 70,
		"ref":    "6BA7B810-9DAD-11D1-80B4-00C04FD430C8",
		"joined": "2026-03-01T12:00:00Z",
		"vec":    []any{1, 2},
	}
	normalized := s.Normalize(original)

	assert.Equal(t, "alice@example.com", normalized["email"])
	assert.Equal(t, "free", normalized["plan"])
	assert.Equal(t, int64(30), normalized["age"])
	assert.Equal(t, float64(70), normalized["weight"])
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", normalized["ref"])
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), normalized["joined"])
	assert.Equal(t, []float64{1, 2}, normalized["vec"])

	// the input record is never mutated
	assert.Equal(t, "  Alice@Example.COM ", original["email"])
	_, hasPlan := original["plan"]
	assert.False(t, hasPlan)

	require.Empty(t, s.Validate(normalized))
}

func TestFlattenUnflatten(t *testing.T) {
	s := compile(t, map[string]any{
		"name": "string",
		"address": map[string]any{
			"city": "string",
			"geo":  map[string]any{"lat": "number", "lon": "number"},
		},
	})

	record := map[string]any{
		"name": "alice",
		"address": map[string]any{
			"city":  "berlin",
			"geo":   map[string]any{"lat": 52.5, "lon": 13.4},
			"notes": "extra field",
		},
		"unknown": map[string]any{"deep": true},
	}

	known, extra := s.Flatten(record)
	assert.Equal(t, map[string]any{
		"name":            "alice",
		"address.city":    "berlin",
		"address.geo.lat": 52.5,
		"address.geo.lon": 13.4,
	}, known)
	assert.Equal(t, map[string]any{
		"address.notes": "extra field",
		"unknown":       map[string]any{"deep": true},
	}, extra)

	rebuilt := schema.Unflatten(known)
	assert.Equal(t, map[string]any{
		"name": "alice",
		"address": map[string]any{
			"city": "berlin",
			"geo":  map[string]any{"lat": 52.5, "lon": 13.4},
		},
	}, rebuilt)
}

func TestSecretAndPasswordAttributes(t *testing.T) {
	s := compile(t, map[string]any{
		"card":    "secret|required",
		"pin":     "secretNumber",
		"blob":    "secretAny",
		"pass":    "password|min:8",
		"name":    "string",
		"pattern": "string|pattern:/^a|b$/", // pipe inside pattern survives splitting
	})

	secretPaths := []string{}
	for _, attr := range s.SecretAttributes() {
		secretPaths = append(secretPaths, attr.Path)
	}
	assert.ElementsMatch(t, []string{"card", "pin", "blob"}, secretPaths)

	passwords := s.PasswordAttributes()
	require.Len(t, passwords, 1)
	assert.Equal(t, "pass", passwords[0].Path)

	require.Empty(t, s.Validate(map[string]any{
		"card":    "4111",
		"pass":    "longenough",
		"pattern": "a",
	}))
}
