// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package db

import (
	"context"
	"io"
	"time"

	"storj.io/s3db/pkg/eventbus"
	"storj.io/s3db/storage"
)

// eventClient decorates a storage.Client with command.request and
// command.response events, one pair per storage verb. Listener cost is
// on the caller's path; the bus recovers panics but does not buffer.
type eventClient struct {
	store storage.Client
	bus   *eventbus.Bus
}

func newEventClient(store storage.Client, bus *eventbus.Bus) storage.Client {
	return &eventClient{store: store, bus: bus}
}

func (c *eventClient) begin(command, key string) func(err error) {
	c.bus.Emit(eventbus.Event{
		Name:   "command.request",
		Fields: map[string]any{"command": command, "key": key},
	})
	start := time.Now()
	return func(err error) {
		fields := map[string]any{
			"command":    command,
			"key":        key,
			"durationMs": time.Since(start).Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.bus.Emit(eventbus.Event{Name: "command.response", Fields: fields})
	}
}

func (c *eventClient) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) (info storage.ObjectInfo, err error) {
	done := c.begin("put", key)
	defer func() { done(err) }()
	return c.store.Put(ctx, key, body, opts)
}

func (c *eventClient) Get(ctx context.Context, key string) (obj *storage.Object, err error) {
	done := c.begin("get", key)
	defer func() { done(err) }()
	return c.store.Get(ctx, key)
}

func (c *eventClient) Head(ctx context.Context, key string) (info storage.ObjectInfo, err error) {
	done := c.begin("head", key)
	defer func() { done(err) }()
	return c.store.Head(ctx, key)
}

func (c *eventClient) Delete(ctx context.Context, key string) (err error) {
	done := c.begin("delete", key)
	defer func() { done(err) }()
	return c.store.Delete(ctx, key)
}

func (c *eventClient) DeleteBatch(ctx context.Context, keys []string) (results []storage.DeleteResult, err error) {
	done := c.begin("deleteBatch", "")
	defer func() { done(err) }()
	return c.store.DeleteBatch(ctx, keys)
}

func (c *eventClient) Copy(ctx context.Context, from, to string) (info storage.ObjectInfo, err error) {
	done := c.begin("copy", from)
	defer func() { done(err) }()
	return c.store.Copy(ctx, from, to)
}

func (c *eventClient) Move(ctx context.Context, from, to string) (info storage.ObjectInfo, err error) {
	done := c.begin("move", from)
	defer func() { done(err) }()
	return c.store.Move(ctx, from, to)
}

func (c *eventClient) List(ctx context.Context, opts storage.ListOptions) (result storage.ListResult, err error) {
	done := c.begin("list", opts.Prefix)
	defer func() { done(err) }()
	return c.store.List(ctx, opts)
}

func (c *eventClient) Exists(ctx context.Context, key string) (found bool, err error) {
	done := c.begin("exists", key)
	defer func() { done(err) }()
	return c.store.Exists(ctx, key)
}

func (c *eventClient) Close() error {
	return c.store.Close()
}
