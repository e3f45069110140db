// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consolidation

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"storj.io/s3db/storage"
)

// lockAcquiredHeader stamps the acquisition time on the lock object.
// Age is judged against this stamp, not object mtime, so an injected
// clock stays authoritative.
const lockAcquiredHeader = "acquired"

func (c *Consolidator) lockKey(id string) string {
	name := fmt.Sprintf("%s.%s.%s", c.config.Resource, c.config.Field, id)
	return path.Join(c.prefix, "locks", url.QueryEscape(name))
}

// acquireLock claims the per-record lock, reclaiming it when the
// holder died past the lock timeout. On success the returned release
// deletes the lock; it survives a canceled context so a fold that is
// being torn down still cleans up.
func (c *Consolidator) acquireLock(ctx context.Context, id string) (release func(), err error) {
	key := c.lockKey(id)

	claim := func() error {
		body := fmt.Sprintf("%s %s.%s\n", id, c.config.Resource, c.config.Field)
		_, err := c.store.Put(ctx, key, bytes.NewReader([]byte(body)), storage.PutOptions{
			ContentType: "text/plain",
			Metadata:    map[string]string{lockAcquiredHeader: c.now().Format(time.RFC3339Nano)},
			IfNoneMatch: "*",
		})
		return err
	}

	err = claim()
	if storage.ErrPrecondition.Has(err) {
		stale, checkErr := c.lockStale(ctx, key)
		if checkErr != nil {
			return nil, checkErr
		}
		if !stale {
			return nil, ErrLockBusy.New("record %s", id)
		}
		c.log.Warn("reclaiming stale lock", zap.String("id", id))
		mon.Counter("lock_reclaimed").Inc(1)
		if err := c.store.Delete(ctx, key); err != nil && !storage.ErrNoSuchKey.Has(err) {
			return nil, Error.Wrap(err)
		}
		err = claim()
		if storage.ErrPrecondition.Has(err) {
			// somebody else won the reclaim
			return nil, ErrLockBusy.New("record %s", id)
		}
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	mon.Counter("lock_acquired").Inc(1)

	return func() {
		if err := c.store.Delete(context.WithoutCancel(ctx), key); err != nil && !storage.ErrNoSuchKey.Has(err) {
			c.log.Warn("lock release failed", zap.String("id", id), zap.Error(err))
		}
	}, nil
}

// lockStale reports whether the lock at key outlived the lock timeout.
// A lock that vanished while looking counts as stale; the caller's
// conditional claim settles the race.
func (c *Consolidator) lockStale(ctx context.Context, key string) (bool, error) {
	info, err := c.store.Head(ctx, key)
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return true, nil
		}
		return false, Error.Wrap(err)
	}
	acquired, err := time.Parse(time.RFC3339Nano, info.Metadata[lockAcquiredHeader])
	if err != nil {
		// unreadable stamp, fall back to object mtime
		acquired = info.LastModified
	}
	return c.now().Sub(acquired) > c.config.LockTimeout, nil
}
