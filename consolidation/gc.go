// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consolidation

import (
	"context"

	"go.uber.org/zap"

	"storj.io/s3db/resource"
)

// GC removes applied transactions older than the retention period.
// Age is read from the id's embedded timestamp, so the sweep is
// independent of record mutation times.
func (c *Consolidator) GC(ctx context.Context) (removed int, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := c.config.check(); err != nil {
		return 0, err
	}

	cutoff := c.now().AddDate(0, 0, -c.config.RetentionDays)

	records, err := c.transactions.Query(ctx, map[string]any{"applied": true}, resource.ListOptions{})
	if err != nil {
		return 0, Error.Wrap(err)
	}

	var expired []string
	for _, record := range records {
		id, _ := record["id"].(string)
		at, ok := txTime(id)
		if !ok {
			continue
		}
		if at.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	results, err := c.transactions.DeleteMany(ctx, expired)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	removed = len(expired)
	for i, result := range results {
		if result.Err != nil {
			removed--
			c.log.Warn("transaction gc delete failed", zap.String("id", expired[i]), zap.Error(result.Err))
		}
	}

	if !c.config.Quiet {
		c.log.Info("transaction gc done", zap.Int("removed", removed))
	}
	mon.Counter("gc_removed").Inc(int64(removed))
	return removed, nil
}
