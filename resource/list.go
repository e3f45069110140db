// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"storj.io/s3db/storage"
)

// ListOptions scope a listing. When Partition is set the listing
// walks the partition index instead of the owner objects, optionally
// narrowed by PartitionValues.
type ListOptions struct {
	Limit           int
	Offset          int
	Partition       string
	PartitionValues map[string]any
	// IncludeDeleted also returns soft-deleted records of paranoid
	// resources.
	IncludeDeleted bool
}

// List returns full records in key order.
func (r *Resource) List(ctx context.Context, opts ListOptions) (_ []map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	ids, err := r.listIDs(ctx, opts)
	if err != nil {
		return nil, r.opFailed("list", "", err)
	}
	records, err := r.fetchAll(ctx, ids, opts.IncludeDeleted)
	if err != nil {
		return nil, r.opFailed("list", "", err)
	}
	return records, nil
}

// ListIDs returns record ids without reading any object, in key
// order. Soft-deleted paranoid records are included: the key listing
// cannot see headers.
func (r *Resource) ListIDs(ctx context.Context, opts ListOptions) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	ids, err := r.listIDs(ctx, opts)
	if err != nil {
		return nil, r.opFailed("listIds", "", err)
	}
	return ids, nil
}

func (r *Resource) listIDs(ctx context.Context, opts ListOptions) ([]string, error) {
	prefix, fromEntries, err := r.scanPrefix(opts)
	if err != nil {
		return nil, err
	}

	var ids []string
	skip := opts.Offset
	err = storage.WalkKeys(ctx, r.store, prefix, func(info storage.ObjectInfo) error {
		var id string
		var ok bool
		if fromEntries {
			id, ok = idFromEntryKey(info.Key)
		} else {
			id, ok = r.idFromOwnerKey(info.Key)
		}
		if !ok {
			return nil
		}
		if skip > 0 {
			skip--
			return nil
		}
		ids = append(ids, id)
		if opts.Limit > 0 && len(ids) >= opts.Limit {
			return storage.ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return ids, nil
}

// scanPrefix resolves the listing prefix for the options and whether
// the listed keys are partition entries.
func (r *Resource) scanPrefix(opts ListOptions) (string, bool, error) {
	if opts.Partition == "" {
		return r.ownerPrefix(), false, nil
	}
	partition, err := r.partitionByName(opts.Partition)
	if err != nil {
		return "", false, err
	}
	prefix, err := r.partitionValuesPrefix(partition, opts.PartitionValues)
	if err != nil {
		return "", false, err
	}
	return prefix, true, nil
}

// fetchAll resolves ids to records in parallel, preserving order and
// dropping soft-deleted records unless asked for.
func (r *Resource) fetchAll(ctx context.Context, ids []string, includeDeleted bool) ([]map[string]any, error) {
	records := make([]map[string]any, len(ids))
	var mu sync.Mutex

	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, id := range ids {
		group.Go(func() error {
			dec, err := r.load(ctx, id)
			if err != nil {
				if storage.ErrNoSuchKey.Has(err) {
					// the owner vanished between listing and read
					return nil
				}
				return err
			}
			if r.config.Paranoid && dec.deleted() && !includeDeleted {
				return nil
			}
			record, err := r.finishRead(ctx, dec)
			if err != nil {
				return err
			}
			mu.Lock()
			records[i] = record
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := records[:0]
	for _, record := range records {
		if record != nil {
			out = append(out, record)
		}
	}
	return out, nil
}

// Count counts records by key listing only. Soft-deleted paranoid
// records are included in the count: no object is read.
func (r *Resource) Count(ctx context.Context, opts ListOptions) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	prefix, _, err := r.scanPrefix(opts)
	if err != nil {
		return 0, r.opFailed("count", "", err)
	}
	count, err := storage.CountKeys(ctx, r.store, prefix)
	if err != nil {
		return 0, r.opFailed("count", "", Error.Wrap(err))
	}
	return count, nil
}

// GetAll returns every record of the resource.
func (r *Resource) GetAll(ctx context.Context) ([]map[string]any, error) {
	return r.List(ctx, ListOptions{})
}

// DeleteAll removes every object of the resource, owners and
// partition entries alike. The confirm flag guards against habit.
func (r *Resource) DeleteAll(ctx context.Context, confirm bool) (deleted int, err error) {
	defer mon.Task()(&ctx)(&err)

	if !confirm {
		return 0, Error.New("DeleteAll requires confirm=true")
	}
	deleted, err = storage.DeleteAllUnder(ctx, r.store, r.resourceRoot()+"/")
	if err != nil {
		return deleted, r.opFailed("deleteAll", "", Error.Wrap(err))
	}
	return deleted, nil
}
