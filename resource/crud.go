// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storj.io/s3db/storage"
)

// Insert validates and stores a new record. A missing id is supplied
// as a UUID v4. The returned record carries the applied defaults and
// runtime fields.
func (r *Resource) Insert(ctx context.Context, data map[string]any) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	id, _ := data[FieldID].(string)
	if id == "" {
		id = uuid.NewString()
	}

	s := r.currentSchema()
	normalized, _, err := r.validate(s, data)
	if err != nil {
		return nil, r.opFailed("insert", id, err)
	}

	normalized[FieldID] = id
	normalized, err = r.runHooks(ctx, BeforeInsert, normalized)
	if err != nil {
		return nil, r.opFailed("insert", id, err)
	}
	delete(normalized, FieldID)

	// hooks may have changed the data; re-validate the final shape
	normalized, flat, err := r.validate(s, normalized)
	if err != nil {
		return nil, r.opFailed("insert", id, err)
	}

	hdr := headers{version: s.Version}
	now := r.now()
	if r.config.Timestamps {
		hdr.createdAt, hdr.updatedAt = now, now
	}
	hdr.partitions = r.deriveSuffixes(flat)

	if err := r.sealSecrets(s, flat); err != nil {
		return nil, r.opFailed("insert", id, err)
	}
	meta, body, err := r.encodeObject(s, flat, hdr)
	if err != nil {
		return nil, r.opFailed("insert", id, err)
	}
	if _, err := r.persist(ctx, id, meta, body); err != nil {
		return nil, r.opFailed("insert", id, Error.Wrap(err))
	}
	if err := r.maintainPartitions(ctx, id, nil, hdr.partitions); err != nil {
		return nil, r.opFailed("insert", id, Error.Wrap(err))
	}

	record := r.withRuntimeFields(normalized, id, hdr)
	record = r.runAfterHooks(ctx, AfterInsert, record)
	r.emit("insert", map[string]any{"id": id})
	return record, nil
}

// Get returns the record by id. Soft-deleted records of paranoid
// resources read as missing.
func (r *Resource) Get(ctx context.Context, id string) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	dec, err := r.load(ctx, id)
	if err != nil {
		return nil, r.opFailed("get", id, err)
	}
	if r.config.Paranoid && dec.deleted() {
		return nil, r.opFailed("get", id, r.notFound("get", id))
	}

	record, err := r.finishRead(ctx, dec)
	if err != nil {
		return nil, r.opFailed("get", id, err)
	}
	r.emit("get", map[string]any{"id": id})
	return record, nil
}

// Exists reports whether a live record with the id exists.
func (r *Resource) Exists(ctx context.Context, id string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if !r.config.Paranoid {
		exists, err := r.store.Exists(ctx, r.ownerKey(id))
		return exists, Error.Wrap(err)
	}
	// paranoid resources must see through to the deletedAt header
	dec, err := r.load(ctx, id)
	if storage.ErrNoSuchKey.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !dec.deleted(), nil
}

// Update deep-merges changes into the record and persists the merged
// result: nested objects merge, arrays and scalars replace.
func (r *Resource) Update(ctx context.Context, id string, changes map[string]any) (map[string]any, error) {
	return r.mutate(ctx, "update", id, changes, mergeDeep)
}

// Patch shallow-merges changes into the record.
func (r *Resource) Patch(ctx context.Context, id string, changes map[string]any) (map[string]any, error) {
	return r.mutate(ctx, "patch", id, changes, mergeShallow)
}

// Replace validates data as the complete new record and persists it,
// keeping only the id and creation timestamp of the old one.
func (r *Resource) Replace(ctx context.Context, id string, data map[string]any) (map[string]any, error) {
	return r.mutate(ctx, "replace", id, data, func(_, changes map[string]any) map[string]any {
		return changes
	})
}

func (r *Resource) mutate(ctx context.Context, op, id string, changes map[string]any, merge func(base, changes map[string]any) map[string]any) (_ map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	dec, err := r.load(ctx, id)
	if err != nil {
		return nil, r.opFailed(op, id, err)
	}
	if r.config.Paranoid && dec.deleted() {
		return nil, r.opFailed(op, id, r.notFound(op, id))
	}

	s := r.currentSchema()
	base := withoutReserved(dec.record)
	if err := r.unsealSecrets(s, base); err != nil {
		return nil, r.opFailed(op, id, err)
	}

	merged := merge(base, withoutReserved(changes))
	normalized, _, err := r.validate(s, merged)
	if err != nil {
		return nil, r.opFailed(op, id, err)
	}

	normalized[FieldID] = id
	normalized, err = r.runHooks(ctx, BeforeUpdate, normalized)
	if err != nil {
		return nil, r.opFailed(op, id, err)
	}
	delete(normalized, FieldID)

	normalized, flat, err := r.validate(s, normalized)
	if err != nil {
		return nil, r.opFailed(op, id, err)
	}

	hdr := headers{
		version:        s.Version,
		createdAt:      dec.headers.createdAt,
		deletedAt:      dec.headers.deletedAt,
		pendingVersion: dec.headers.pendingVersion,
	}
	if r.config.Timestamps {
		hdr.updatedAt = r.now()
		if hdr.createdAt.IsZero() {
			hdr.createdAt = hdr.updatedAt
		}
	}
	hdr.partitions = r.deriveSuffixes(flat)

	if err := r.sealSecrets(s, flat); err != nil {
		return nil, r.opFailed(op, id, err)
	}
	meta, body, err := r.encodeObject(s, flat, hdr)
	if err != nil {
		return nil, r.opFailed(op, id, err)
	}
	if _, err := r.persist(ctx, id, meta, body); err != nil {
		return nil, r.opFailed(op, id, Error.Wrap(err))
	}
	if err := r.maintainPartitions(ctx, id, dec.headers.partitions, hdr.partitions); err != nil {
		return nil, r.opFailed(op, id, Error.Wrap(err))
	}

	record := r.withRuntimeFields(normalized, id, hdr)
	record = r.runAfterHooks(ctx, AfterUpdate, record)
	r.emit("update", map[string]any{"id": id, "op": op})
	return record, nil
}

// Delete removes a record. Paranoid resources soft-delete by stamping
// deletedAt and keep their partition entries; deleting an already
// soft-deleted record is a no-op. Hard deleting a missing record
// fails with the not-found class.
func (r *Resource) Delete(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	dec, err := r.load(ctx, id)
	if err != nil {
		if r.config.Paranoid && storage.ErrNoSuchKey.Has(err) {
			return nil
		}
		return r.opFailed("delete", id, err)
	}

	record := dec.record
	record, err = r.runHooks(ctx, BeforeDelete, record)
	if err != nil {
		return r.opFailed("delete", id, err)
	}

	if r.config.Paranoid {
		if !dec.deleted() {
			if err := r.softDelete(ctx, dec); err != nil {
				return r.opFailed("delete", id, err)
			}
		}
	} else {
		if err := r.hardDelete(ctx, dec); err != nil {
			return r.opFailed("delete", id, Error.Wrap(err))
		}
	}

	r.runAfterHooks(ctx, AfterDelete, record)
	r.emit("delete", map[string]any{"id": id, "paranoid": r.config.Paranoid})
	return nil
}

// softDelete rewrites the owner with a deletedAt header. Partition
// entries are retained until a hard delete.
func (r *Resource) softDelete(ctx context.Context, dec *decoded) error {
	s, err := r.schemaVersion(dec.headers.version)
	if err != nil {
		return err
	}
	flat, _ := s.Flatten(withoutReserved(dec.record))

	hdr := dec.headers
	hdr.deletedAt = r.now()
	if r.config.Timestamps {
		hdr.updatedAt = hdr.deletedAt
	}

	meta, body, err := r.encodeObject(s, flat, hdr)
	if err != nil {
		return err
	}
	_, err = r.persist(ctx, dec.id, meta, body)
	return Error.Wrap(err)
}

func (r *Resource) hardDelete(ctx context.Context, dec *decoded) error {
	keys := []string{r.ownerKey(dec.id)}
	for _, suffix := range dec.headers.partitions {
		keys = append(keys, r.entryKey(suffix, dec.id))
	}
	failed, err := r.store.DeleteBatch(ctx, keys)
	if err != nil {
		return err
	}
	for _, result := range failed {
		if result.Err != nil {
			return result.Err
		}
	}
	return nil
}

// load reads and decodes the owner object without the paranoid filter
// or hooks. Secrets stay sealed.
func (r *Resource) load(ctx context.Context, id string) (*decoded, error) {
	info, body, err := r.readObject(ctx, id)
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return nil, r.notFound("load", id)
		}
		return nil, Error.Wrap(err)
	}
	return r.decodeObject(id, info, body)
}

// finishRead unseals secrets and runs the afterGet pipeline.
func (r *Resource) finishRead(ctx context.Context, dec *decoded) (map[string]any, error) {
	s, err := r.schemaVersion(dec.headers.version)
	if err != nil {
		return nil, err
	}
	record := dec.record
	if err := r.unsealSecrets(s, record); err != nil {
		return nil, err
	}
	return r.runAfterHooks(ctx, AfterGet, record), nil
}

func (r *Resource) notFound(op, id string) error {
	return storage.ErrNoSuchKey.Wrap(&storage.OpError{
		Op:         op,
		Key:        r.ownerKey(id),
		Suggestion: "resource " + r.config.Name + " has no record " + id,
	})
}

// withRuntimeFields copies the record and attaches id and timestamps.
func (r *Resource) withRuntimeFields(record map[string]any, id string, hdr headers) map[string]any {
	out := make(map[string]any, len(record)+4)
	for name, value := range record {
		out[name] = value
	}
	out[FieldID] = id
	if !hdr.createdAt.IsZero() {
		out[FieldCreatedAt] = hdr.createdAt.Format(time.RFC3339Nano)
	}
	if !hdr.updatedAt.IsZero() {
		out[FieldUpdatedAt] = hdr.updatedAt.Format(time.RFC3339Nano)
	}
	if !hdr.deletedAt.IsZero() {
		out[FieldDeletedAt] = hdr.deletedAt.Format(time.RFC3339Nano)
	}
	return out
}

func withoutReserved(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for name, value := range record {
		if reservedFields[name] {
			continue
		}
		out[name] = value
	}
	return out
}
