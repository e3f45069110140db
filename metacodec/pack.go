// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metacodec

import (
	"sort"

	"storj.io/s3db/schema"
)

// Packed is the result of fitting a record into the metadata budget.
type Packed struct {
	// Fit reports whether every value fits the budget.
	Fit bool
	// Meta holds the admitted values by short key.
	Meta map[string]string
	// Encoded holds every encoded value by short key, admitted or not.
	// Behaviors that ignore the budget (user-managed) persist this.
	Encoded map[string]string
	// Overflow holds the raw values that did not fit, by attribute
	// path.
	Overflow map[string]any
	// Size is the serialized size of Meta in bytes.
	Size int
}

// EntrySize returns the serialized metadata size of one header,
// matching the S3 accounting of name + value + separators.
func EntrySize(shortKey, value string) int {
	return len(shortKey) + len(value) + 2
}

// TrySerialize encodes flattened leaf values (attribute path → value)
// and splits them into the set that fits the budget and the overflow.
//
// Values are admitted smallest first, ties broken by short key, so the
// overflow is always the largest values. reserved is the size already
// taken by runtime headers and counts against the same budget. Nil
// values are skipped.
func (codec *Codec) TrySerialize(values map[string]any, attrMap *schema.Map, reserved int) (Packed, error) {
	type entry struct {
		path     string
		shortKey string
		encoded  string
		size     int
	}

	entries := make([]entry, 0, len(values))
	for path, value := range values {
		if value == nil {
			continue
		}
		attr, ok := attrMap.ByName(path)
		if !ok {
			return Packed{}, Error.New("unknown attribute %q", path)
		}
		encoded, err := codec.EncodeValue(attr.Type, value)
		if err != nil {
			return Packed{}, Error.New("attribute %q: %v", path, err)
		}
		entries = append(entries, entry{
			path:     path,
			shortKey: attr.ShortKey,
			encoded:  encoded,
			size:     EntrySize(attr.ShortKey, encoded),
		})
	}

	sort.Slice(entries, func(i, k int) bool {
		if entries[i].size != entries[k].size {
			return entries[i].size < entries[k].size
		}
		return entries[i].shortKey < entries[k].shortKey
	})

	packed := Packed{
		Fit:      true,
		Meta:     make(map[string]string, len(entries)),
		Encoded:  make(map[string]string, len(entries)),
		Overflow: map[string]any{},
	}
	budget := codec.limit - reserved
	for _, e := range entries {
		packed.Encoded[e.shortKey] = e.encoded
		if packed.Fit && packed.Size+e.size <= budget {
			packed.Meta[e.shortKey] = e.encoded
			packed.Size += e.size
			continue
		}
		packed.Fit = false
		packed.Overflow[e.path] = values[e.path]
	}
	return packed, nil
}

// DecodeMeta decodes short-keyed metadata back into flattened leaf
// values (attribute path → value). Keys starting with "_" are runtime
// headers and are skipped; unknown short keys are an error because
// they indicate a version mismatch.
func (codec *Codec) DecodeMeta(meta map[string]string, attrMap *schema.Map) (map[string]any, error) {
	flat := make(map[string]any, len(meta))
	for shortKey, encoded := range meta {
		if len(shortKey) > 0 && shortKey[0] == '_' {
			continue
		}
		attr, ok := attrMap.ByShort(shortKey)
		if !ok {
			return nil, Error.New("unknown short key %q", shortKey)
		}
		value, err := codec.DecodeValue(attr.Type, encoded)
		if err != nil {
			return nil, Error.New("attribute %q: %v", attr.Path, err)
		}
		flat[attr.Path] = value
	}
	return flat, nil
}
