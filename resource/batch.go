// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the per-item outcome of a batch operation. Batch
// operations are not transactions: any subset may succeed.
type BatchResult struct {
	OK   bool
	Err  error
	Data map[string]any
}

// InsertMany inserts items in parallel and reports one result per
// item, in input order.
func (r *Resource) InsertMany(ctx context.Context, items []map[string]any) (_ []BatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	results := make([]BatchResult, len(items))
	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, item := range items {
		group.Go(func() error {
			record, err := r.Insert(ctx, item)
			results[i] = BatchResult{OK: err == nil, Err: err, Data: record}
			return nil
		})
	}
	_ = group.Wait()
	return results, nil
}

// GetMany fetches records in parallel, one result per id.
func (r *Resource) GetMany(ctx context.Context, ids []string) (_ []BatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	results := make([]BatchResult, len(ids))
	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, id := range ids {
		group.Go(func() error {
			record, err := r.Get(ctx, id)
			results[i] = BatchResult{OK: err == nil, Err: err, Data: record}
			return nil
		})
	}
	_ = group.Wait()
	return results, nil
}

// DeleteMany deletes records in parallel, one result per id.
func (r *Resource) DeleteMany(ctx context.Context, ids []string) (_ []BatchResult, err error) {
	defer mon.Task()(&ctx)(&err)

	results := make([]BatchResult, len(ids))
	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for i, id := range ids {
		group.Go(func() error {
			err := r.Delete(ctx, id)
			results[i] = BatchResult{OK: err == nil, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results, nil
}
