// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consolidation

import (
	"context"
	"time"

	"storj.io/s3db/resource"
	"storj.io/s3db/storage"
)

// AnalyticsSchema is the attribute definition of the roll-up sibling
// resource.
func AnalyticsSchema() map[string]any {
	return map[string]any{
		"granularity": "string|required",
		"period":      "string|required",
		"count":       "number|required",
		"sum":         "number|required",
	}
}

// AnalyticsConfig is the resource config of the roll-up sibling.
func AnalyticsConfig(name string) resource.Config {
	return resource.Config{Name: name, Timestamps: true}
}

// bucketKey identifies one roll-up record.
type bucketKey struct {
	granularity string
	period      string
}

func (k bucketKey) id() string { return k.granularity + "-" + k.period }

// bucket accumulates the contribution of one fold to one period.
type bucket struct {
	count int
	sum   float64
}

// rollup folds the just-applied transactions into hour, day and month
// buckets of the analytics sibling. Counts include every operation;
// sums accumulate signed deltas only, an absolute set carries no delta
// to attribute to the period.
func (c *Consolidator) rollup(ctx context.Context, txs []transaction) (err error) {
	defer mon.Task()(&ctx)(&err)

	buckets := map[bucketKey]*bucket{}
	for _, tx := range txs {
		at, ok := txTime(tx.id)
		if !ok {
			continue
		}
		var delta float64
		switch tx.op {
		case OpAdd:
			delta = tx.value
		case OpSub:
			delta = -tx.value
		}
		for key, period := range periodsOf(at) {
			b := buckets[bucketKey{granularity: key, period: period}]
			if b == nil {
				b = &bucket{}
				buckets[bucketKey{granularity: key, period: period}] = b
			}
			b.count++
			b.sum += delta
		}
	}

	// The per-record lock protects the owner, not the period records:
	// concurrent folds of different records land in the same buckets.
	c.rollupMu.Lock()
	defer c.rollupMu.Unlock()

	for key, b := range buckets {
		if err := c.applyBucket(ctx, key, b); err != nil {
			return err
		}
	}
	return nil
}

func periodsOf(at time.Time) map[string]string {
	at = at.UTC()
	return map[string]string{
		"hour":  at.Format("2006-01-02-15"),
		"day":   at.Format("2006-01-02"),
		"month": at.Format("2006-01"),
	}
}

// applyBucket adds the bucket onto the stored roll-up record, creating
// it on first sight. Callers hold rollupMu; only the leader
// consolidates a pair, so serializing within the process suffices.
func (c *Consolidator) applyBucket(ctx context.Context, key bucketKey, b *bucket) error {
	existing, err := c.analytics.Get(ctx, key.id())
	if err != nil {
		if !storage.ErrNoSuchKey.Has(err) {
			return Error.Wrap(err)
		}
		_, err = c.analytics.Insert(ctx, map[string]any{
			"id":          key.id(),
			"granularity": key.granularity,
			"period":      key.period,
			"count":       float64(b.count),
			"sum":         b.sum,
		})
		return Error.Wrap(err)
	}

	count, _ := asNumber(existing["count"])
	sum, _ := asNumber(existing["sum"])
	_, err = c.analytics.Update(ctx, key.id(), map[string]any{
		"count": count + float64(b.count),
		"sum":   sum + b.sum,
	})
	return Error.Wrap(err)
}
