// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"context"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/s3db/storage"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap.Logger decorator for storage.Client.
type Logger struct {
	log   *zap.Logger
	store storage.Client
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store storage.Client) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Put stores an object.
func (store *Logger) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) (_ storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Put",
		zap.String("key", key),
		zap.Int("metadata entries", len(opts.Metadata)),
		zap.String("if-match", opts.IfMatch),
		zap.String("if-none-match", opts.IfNoneMatch),
	)
	return store.store.Put(ctx, key, body, opts)
}

// Get returns an object.
func (store *Logger) Get(ctx context.Context, key string) (_ *storage.Object, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Get", zap.String("key", key))
	return store.store.Get(ctx, key)
}

// Head returns object metadata.
func (store *Logger) Head(ctx context.Context, key string) (_ storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Head", zap.String("key", key))
	return store.store.Head(ctx, key)
}

// Delete deletes an object.
func (store *Logger) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.String("key", key))
	return store.store.Delete(ctx, key)
}

// DeleteBatch deletes many objects.
func (store *Logger) DeleteBatch(ctx context.Context, keys []string) (_ []storage.DeleteResult, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("DeleteBatch", zap.Int("keys", len(keys)))
	return store.store.DeleteBatch(ctx, keys)
}

// Copy duplicates an object.
func (store *Logger) Copy(ctx context.Context, from, to string) (_ storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Copy", zap.String("from", from), zap.String("to", to))
	return store.store.Copy(ctx, from, to)
}

// Move moves an object.
func (store *Logger) Move(ctx context.Context, from, to string) (_ storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Move", zap.String("from", from), zap.String("to", to))
	return store.store.Move(ctx, from, to)
}

// List lists a page of keys.
func (store *Logger) List(ctx context.Context, opts storage.ListOptions) (_ storage.ListResult, err error) {
	defer mon.Task()(&ctx)(&err)
	result, err := store.store.List(ctx, opts)
	store.log.Debug("List",
		zap.String("prefix", opts.Prefix),
		zap.Int32("max keys", opts.MaxKeys),
		zap.Int("returned", len(result.Contents)),
		zap.Bool("truncated", result.IsTruncated),
	)
	return result, err
}

// Exists reports whether the key exists.
func (store *Logger) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Exists", zap.String("key", key))
	return store.store.Exists(ctx, key)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}
