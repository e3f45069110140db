// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/s3db/storage"
)

// deriveSuffixes computes the partition entry suffixes of a record
// from its flattened values, sorted for deterministic headers.
func (r *Resource) deriveSuffixes(flat map[string]any) []string {
	var suffixes []string
	for _, partition := range r.config.Partitions {
		if suffix, ok := partitionSuffix(partition, flat); ok {
			suffixes = append(suffixes, suffix)
		}
	}
	sort.Strings(suffixes)
	return suffixes
}

// reconcileEntries writes the index objects for added suffixes and
// removes the stale ones. Entries are empty objects; their key is the
// index.
func (r *Resource) reconcileEntries(ctx context.Context, id string, previous, current []string) error {
	prevSet := make(map[string]bool, len(previous))
	for _, suffix := range previous {
		prevSet[suffix] = true
	}
	currentSet := make(map[string]bool, len(current))
	for _, suffix := range current {
		currentSet[suffix] = true
	}

	var group boundedGroup
	for _, suffix := range current {
		if prevSet[suffix] {
			continue
		}
		key := r.entryKey(suffix, id)
		group.Go(func() error {
			_, err := r.store.Put(ctx, key, bytes.NewReader(nil), storage.PutOptions{})
			return err
		})
	}
	for _, suffix := range previous {
		if currentSet[suffix] {
			continue
		}
		key := r.entryKey(suffix, id)
		group.Go(func() error {
			return r.store.Delete(ctx, key)
		})
	}
	return group.Wait()
}

// maintainPartitions reconciles the index after an owner write. With
// async partitions the work detaches and failures surface only as
// partition.drift events.
func (r *Resource) maintainPartitions(ctx context.Context, id string, previous, current []string) error {
	if !r.config.AsyncPartitions {
		return r.reconcileEntries(ctx, id, previous, current)
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		// detached from the caller's cancellation on purpose
		if err := r.reconcileEntries(context.WithoutCancel(ctx), id, previous, current); err != nil {
			r.log.Warn("partition reconciliation drifted",
				zap.String("id", id), zap.Error(err))
			r.emit("partition.drift", map[string]any{"id": id, "error": err.Error()})
		}
	}()
	return nil
}

// ReconcileStats reports the outcome of a full partition rebuild.
type ReconcileStats struct {
	Scanned int
	Added   int
	Removed int
}

// Reconcile scans every owner object, rebuilds the partition entries
// it should have and removes entries no owner claims. It repairs the
// drift an async-partition crash can leave behind.
func (r *Resource) Reconcile(ctx context.Context) (stats ReconcileStats, err error) {
	defer mon.Task()(&ctx)(&err)

	expected := map[string]bool{}
	err = storage.WalkKeys(ctx, r.store, r.ownerPrefix(), func(info storage.ObjectInfo) error {
		id, ok := r.idFromOwnerKey(info.Key)
		if !ok {
			return nil
		}
		stats.Scanned++

		dec, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		flat, _ := r.currentSchema().Flatten(withoutReserved(dec.record))
		for _, suffix := range r.deriveSuffixes(flat) {
			expected[r.entryKey(suffix, id)] = true
		}
		return nil
	})
	if err != nil {
		return stats, Error.Wrap(err)
	}

	existing := map[string]bool{}
	entryPrefix := r.resourceRoot() + "/partition="
	err = storage.WalkKeys(ctx, r.store, entryPrefix, func(info storage.ObjectInfo) error {
		existing[info.Key] = true
		return nil
	})
	if err != nil {
		return stats, Error.Wrap(err)
	}

	var stale []string
	for key := range existing {
		if !expected[key] {
			stale = append(stale, key)
		}
	}
	for key := range expected {
		if existing[key] {
			continue
		}
		if _, err := r.store.Put(ctx, key, bytes.NewReader(nil), storage.PutOptions{}); err != nil {
			return stats, Error.Wrap(err)
		}
		stats.Added++
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		if _, err := r.store.DeleteBatch(ctx, stale); err != nil {
			return stats, Error.Wrap(err)
		}
		stats.Removed = len(stale)
	}
	return stats, nil
}

// partitionByName returns the named partition definition.
func (r *Resource) partitionByName(name string) (Partition, error) {
	for _, partition := range r.config.Partitions {
		if partition.Name == name {
			return partition, nil
		}
	}
	return Partition{}, Error.New("resource %q has no partition %q", r.config.Name, name)
}

// partitionValuesPrefix builds the listing prefix of a partition for
// the given values. Values must cover the partition fields in name
// order, but a prefix of the fields is enough for a coarser scan.
func (r *Resource) partitionValuesPrefix(partition Partition, values map[string]any) (string, error) {
	names := make([]string, 0, len(partition.Fields))
	for name := range partition.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(r.partitionRoot(partition.Name))
	complete := true
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			complete = false
			continue
		}
		if !complete {
			return "", Error.New("partition %q: field %q given but an earlier field is missing", partition.Name, name)
		}
		formatted, ok := formatPartitionValue(partition.Fields[name], value)
		if !ok {
			return "", Error.New("partition %q: cannot format field %q", partition.Name, name)
		}
		b.WriteString(escapeComponent(name))
		b.WriteByte('=')
		b.WriteString(escapeComponent(formatted))
		b.WriteByte('/')
	}
	return b.String(), nil
}

// idFromEntryKey extracts the record id from a partition entry key.
func idFromEntryKey(key string) (string, bool) {
	idx := strings.LastIndex(key, "/id=")
	if idx < 0 {
		return "", false
	}
	id, err := unescapeComponent(key[idx+len("/id="):])
	if err != nil {
		return "", false
	}
	return id, true
}

// boundedGroup is a small bounded fan-out helper around errgroup.
type boundedGroup struct {
	group errgroup.Group
	once  bool
}

func (g *boundedGroup) Go(fn func() error) {
	if !g.once {
		g.group.SetLimit(DefaultConcurrency)
		g.once = true
	}
	g.group.Go(fn)
}

func (g *boundedGroup) Wait() error { return g.group.Wait() }
