// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package schema

import (
	"fmt"
	"time"
)

// Kind enumerates the attribute types of the definition DSL.
type Kind int

// All attribute kinds.
const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindDate
	KindUUID
	KindEmail
	KindURL
	KindJSON
	KindEmbedding
	KindSecret
	KindSecretNumber
	KindSecretAny
	KindPassword
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindString:       "string",
	KindNumber:       "number",
	KindInteger:      "integer",
	KindBoolean:      "boolean",
	KindDate:         "date",
	KindUUID:         "uuid",
	KindEmail:        "email",
	KindURL:          "url",
	KindJSON:         "json",
	KindEmbedding:    "embedding",
	KindSecret:       "secret",
	KindSecretNumber: "secretNumber",
	KindSecretAny:    "secretAny",
	KindPassword:     "password",
	KindArray:        "array",
	KindObject:       "object",
}

var kindsByName = func() map[string]Kind {
	byName := make(map[string]Kind, len(kindNames))
	for kind, name := range kindNames {
		byName[name] = kind
	}
	return byName
}()

// String implements fmt.Stringer.
func (kind Kind) String() string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(kind))
}

// IsSecret reports whether values of this kind are encrypted at rest.
func (kind Kind) IsSecret() bool {
	return kind == KindSecret || kind == KindSecretNumber || kind == KindSecretAny
}

// IsStringLike reports whether string rules (min, max, pattern, ...)
// apply to this kind.
func (kind Kind) IsStringLike() bool {
	switch kind {
	case KindString, KindEmail, KindURL, KindUUID, KindSecret, KindPassword:
		return true
	}
	return false
}

// IsNumeric reports whether numeric rules apply to this kind.
func (kind Kind) IsNumeric() bool {
	return kind == KindNumber || kind == KindInteger || kind == KindSecretNumber
}

// Type is the complete type of an attribute: its kind plus the
// embedding dimension or the element kind for arrays.
type Type struct {
	Kind      Kind
	Dimension int  // embedding length; 0 accepts any length
	Items     Kind // array element kind; defaults to KindString
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t.Kind {
	case KindEmbedding:
		if t.Dimension > 0 {
			return fmt.Sprintf("embedding:%d", t.Dimension)
		}
	case KindArray:
		if t.Items != KindInvalid {
			return fmt.Sprintf("array of %s", t.Items)
		}
	}
	return t.Kind.String()
}

// asFloat converts the numeric value representations that reach the
// validator into a float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// asInt converts integral value representations into an int64.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// asTime converts the accepted date representations: time.Time,
// RFC 3339 strings and Unix-millisecond numbers.
func asTime(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, d); err == nil {
			return parsed.UTC(), true
		}
		if parsed, err := time.Parse(time.RFC3339, d); err == nil {
			return parsed.UTC(), true
		}
		if parsed, err := time.Parse("2006-01-02", d); err == nil {
			return parsed.UTC(), true
		}
	default:
		if ms, ok := asInt(v); ok {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}
