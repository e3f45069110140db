// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package behavior implements the strategies that decide how a record
// is split between object metadata and the object body.
//
// Metadata-resident records read with a single Head request; body
// resident records need a Get but have no size ceiling. The behavior
// of a resource is chosen at creation and never changes, because a
// stored record must be readable by the strategy that wrote it.
package behavior

import (
	"encoding/json"
	"strconv"

	"github.com/zeebo/errs"

	"storj.io/s3db/metacodec"
)

var (
	// Error is the default behavior error class.
	Error = errs.Class("behavior")

	// ErrMetadataLimit is returned by enforce-limits when a record
	// does not fit the metadata budget.
	ErrMetadataLimit = errs.Class("metadata limit exceeded")
)

// Behavior names.
const (
	EnforceLimits = "enforce-limits"
	TruncateData  = "truncate-data"
	BodyOverflow  = "body-overflow"
	BodyOnly      = "body-only"
	UserManaged   = "user-managed"

	// Default is the behavior used when a resource declares none.
	Default = UserManaged
)

// Runtime header keys a behavior may set.
const (
	// HeaderOverflow counts the attributes stored in the body by
	// body-overflow.
	HeaderOverflow = "_of"
	// HeaderTruncated flags a record whose overflow was dropped by
	// truncate-data.
	HeaderTruncated = "_t"
)

// DecodeMetaFunc decodes short-keyed metadata into flattened attribute
// path → value pairs. The resource runtime supplies it bound to the
// schema version the record was written under.
type DecodeMetaFunc func(meta map[string]string) (map[string]any, error)

// Behavior decides the (metadata, body) split on write and how a read
// materializes the flattened record.
type Behavior interface {
	// Name returns the registered behavior name.
	Name() string
	// Pack splits the packed record. record is the full flattened
	// record (attribute path → value) for body-resident strategies.
	Pack(packed metacodec.Packed, record map[string]any) (meta map[string]string, body []byte, err error)
	// NeedsBody reports whether reading this record requires the
	// object body in addition to the metadata.
	NeedsBody(meta map[string]string) bool
	// Unpack rebuilds the flattened record from metadata and body.
	Unpack(meta map[string]string, body []byte, decodeMeta DecodeMetaFunc) (map[string]any, error)
}

var registry = map[string]Behavior{
	EnforceLimits: enforceLimits{},
	TruncateData:  truncateData{},
	BodyOverflow:  bodyOverflow{},
	BodyOnly:      bodyOnly{},
	UserManaged:   userManaged{},
}

// Get returns the named behavior; the empty name selects Default.
func Get(name string) (Behavior, error) {
	if name == "" {
		name = Default
	}
	b, ok := registry[name]
	if !ok {
		return nil, Error.New("unknown behavior %q", name)
	}
	return b, nil
}

// enforceLimits stores metadata only and rejects overflow.
type enforceLimits struct{}

func (enforceLimits) Name() string { return EnforceLimits }

func (enforceLimits) Pack(packed metacodec.Packed, _ map[string]any) (map[string]string, []byte, error) {
	if !packed.Fit {
		paths := make([]string, 0, len(packed.Overflow))
		for path := range packed.Overflow {
			paths = append(paths, path)
		}
		return nil, nil, ErrMetadataLimit.New("%d attributes exceed the metadata budget: %v", len(paths), paths)
	}
	return packed.Meta, nil, nil
}

func (enforceLimits) NeedsBody(map[string]string) bool { return false }

func (enforceLimits) Unpack(meta map[string]string, _ []byte, decodeMeta DecodeMetaFunc) (map[string]any, error) {
	return decodeMeta(meta)
}

// truncateData stores metadata only, silently dropping overflow and
// flagging the record.
type truncateData struct{}

func (truncateData) Name() string { return TruncateData }

func (truncateData) Pack(packed metacodec.Packed, _ map[string]any) (map[string]string, []byte, error) {
	meta := packed.Meta
	if !packed.Fit {
		meta = cloneMeta(meta)
		meta[HeaderTruncated] = "1"
	}
	return meta, nil, nil
}

func (truncateData) NeedsBody(map[string]string) bool { return false }

func (truncateData) Unpack(meta map[string]string, _ []byte, decodeMeta DecodeMetaFunc) (map[string]any, error) {
	return decodeMeta(meta)
}

// bodyOverflow stores what fits in metadata and the rest as JSON in
// the body.
type bodyOverflow struct{}

func (bodyOverflow) Name() string { return BodyOverflow }

func (bodyOverflow) Pack(packed metacodec.Packed, _ map[string]any) (map[string]string, []byte, error) {
	if packed.Fit {
		return packed.Meta, nil, nil
	}
	body, err := json.Marshal(packed.Overflow)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	meta := cloneMeta(packed.Meta)
	meta[HeaderOverflow] = strconv.Itoa(len(packed.Overflow))
	return meta, body, nil
}

func (bodyOverflow) NeedsBody(meta map[string]string) bool {
	count := meta[HeaderOverflow]
	return count != "" && count != "0"
}

func (bodyOverflow) Unpack(meta map[string]string, body []byte, decodeMeta DecodeMetaFunc) (map[string]any, error) {
	flat, err := decodeMeta(meta)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return flat, nil
	}
	var overflow map[string]any
	if err := json.Unmarshal(body, &overflow); err != nil {
		return nil, Error.Wrap(err)
	}
	for path, value := range overflow {
		flat[path] = value
	}
	return flat, nil
}

// bodyOnly stores the whole record as JSON in the body.
type bodyOnly struct{}

func (bodyOnly) Name() string { return BodyOnly }

func (bodyOnly) Pack(_ metacodec.Packed, record map[string]any) (map[string]string, []byte, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	return nil, body, nil
}

func (bodyOnly) NeedsBody(map[string]string) bool { return true }

func (bodyOnly) Unpack(_ map[string]string, body []byte, _ DecodeMetaFunc) (map[string]any, error) {
	var record map[string]any
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, Error.Wrap(err)
	}
	return record, nil
}

// userManaged persists every encoded value as metadata regardless of
// the budget and lets the object store reject oversized requests.
type userManaged struct{}

func (userManaged) Name() string { return UserManaged }

func (userManaged) Pack(packed metacodec.Packed, _ map[string]any) (map[string]string, []byte, error) {
	return packed.Encoded, nil, nil
}

func (userManaged) NeedsBody(map[string]string) bool { return false }

func (userManaged) Unpack(meta map[string]string, _ []byte, decodeMeta DecodeMetaFunc) (map[string]any, error) {
	return decodeMeta(meta)
}

func cloneMeta(meta map[string]string) map[string]string {
	clone := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		clone[k] = v
	}
	return clone
}
