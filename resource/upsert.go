// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"context"

	"storj.io/s3db/schema"
	"storj.io/s3db/storage"
)

// UpsertField writes an aggregated field value onto the record,
// inserting a minimal record when the owner does not exist yet.
// pendingVersion is persisted in the same write, so a crash between
// this write and marking the folded transactions applied is
// recoverable: transactions at or below the marker are already folded.
//
// The insert path skips required-field validation on purpose: deltas
// routinely arrive before the rest of the record does, and losing
// them is worse than a temporarily incomplete record.
func (r *Resource) UpsertField(ctx context.Context, id, field string, value any, pendingVersion string) (err error) {
	defer mon.Task()(&ctx)(&err)

	dec, err := r.load(ctx, id)
	if err != nil && !storage.ErrNoSuchKey.Has(err) {
		return r.opFailed("upsert", id, err)
	}

	s := r.currentSchema()
	var base map[string]any
	hdr := headers{version: s.Version, pendingVersion: pendingVersion}
	if dec != nil {
		base = withoutReserved(dec.record)
		if err := r.unsealSecrets(s, base); err != nil {
			return r.opFailed("upsert", id, err)
		}
		hdr.createdAt = dec.headers.createdAt
		hdr.deletedAt = dec.headers.deletedAt
	}

	merged := mergeDeep(base, schema.Unflatten(map[string]any{field: value}))
	_, flat, err := r.validateLax(s, merged)
	if err != nil {
		return r.opFailed("upsert", id, err)
	}

	now := r.now()
	if r.config.Timestamps {
		hdr.updatedAt = now
		if hdr.createdAt.IsZero() {
			hdr.createdAt = now
		}
	}
	hdr.partitions = r.deriveSuffixes(flat)

	if err := r.sealSecrets(s, flat); err != nil {
		return r.opFailed("upsert", id, err)
	}
	meta, body, err := r.encodeObject(s, flat, hdr)
	if err != nil {
		return r.opFailed("upsert", id, err)
	}
	if _, err := r.persist(ctx, id, meta, body); err != nil {
		return r.opFailed("upsert", id, Error.Wrap(err))
	}

	var previous []string
	if dec != nil {
		previous = dec.headers.partitions
	}
	if err := r.maintainPartitions(ctx, id, previous, hdr.partitions); err != nil {
		return r.opFailed("upsert", id, Error.Wrap(err))
	}
	r.emit("update", map[string]any{"id": id, "op": "upsert", "field": field})
	return nil
}

// PendingVersion returns the consolidator marker of a record, or the
// empty string when the record does not exist or has none.
func (r *Resource) PendingVersion(ctx context.Context, id string) (string, error) {
	info, err := r.store.Head(ctx, r.ownerKey(id))
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return "", nil
		}
		return "", Error.Wrap(err)
	}
	return info.Metadata[headerPendingVersion], nil
}

// validateLax normalizes and validates like validate but tolerates
// missing required fields, for the upsert-before-insert race.
func (r *Resource) validateLax(s *schema.Schema, record map[string]any) (map[string]any, map[string]any, error) {
	normalized, flat, err := r.validate(s, record)
	if err == nil {
		return normalized, flat, nil
	}
	var ferrs schema.FieldErrors
	if !schema.ErrValidation.Has(err) {
		return nil, nil, err
	}
	// keep everything except the required failures
	normalized = s.Normalize(withoutReserved(record))
	for _, fe := range s.Validate(normalized) {
		if fe.Rule != "required" {
			ferrs = append(ferrs, fe)
		}
	}
	if err := ferrs.Err(); err != nil {
		return nil, nil, err
	}
	flat, extra := s.Flatten(normalized)
	for _, path := range sortedKeys(extra) {
		return nil, nil, schema.ErrValidation.New("unknown attribute %q", path)
	}
	return normalized, flat, nil
}
