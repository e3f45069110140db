// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package db

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storj.io/s3db/resource"
	"storj.io/s3db/storage"
)

// rootObjectName is the root document key under the prefix.
const rootObjectName = "s3db.json"

// rootWriteRetries bounds the conditional-put retries of a root
// mutation before ErrRace.
const rootWriteRetries = 3

// rootDocument is the persisted shape of the database: every resource
// with its full schema history, persisted hook registrations and
// lifecycle stamps. It always lives in the object body, never in
// metadata, so it has no size ceiling.
type rootDocument struct {
	Version   int                       `json:"version"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
	Resources map[string]*resourceEntry `json:"resources"`
}

type resourceEntry struct {
	Config  resource.Config         `json:"config"`
	Schemas []schemaEntry           `json:"schemas"`
	Hooks   []resource.Registration `json:"hooks,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	// RemovedAt marks a dropped resource. The entry is kept so stored
	// records stay decodable.
	RemovedAt *time.Time `json:"removedAt,omitempty"`
}

type schemaEntry struct {
	Version    int            `json:"version"`
	Definition map[string]any `json:"definition"`
	// Map persists the short key → attribute path assignment, so a
	// version keeps its keys even if assignment rules evolve.
	Map map[string]string `json:"map"`
}

// rootKey returns the full object key of the root document.
func (db *DB) rootKey() string {
	if db.prefix == "" {
		return rootObjectName
	}
	return db.prefix + "/" + rootObjectName
}

// loadRoot fetches and decodes the root document.
func (db *DB) loadRoot(ctx context.Context) (*rootDocument, string, error) {
	obj, err := db.store.Get(ctx, db.rootKey())
	if err != nil {
		return nil, "", err
	}
	var root rootDocument
	if err := json.Unmarshal(obj.Body, &root); err != nil {
		return nil, "", Error.New("corrupt root document %q: %v", db.rootKey(), err)
	}
	if root.Version > CurrentVersion {
		return nil, "", Error.New("root document version %d is newer than this build supports", root.Version)
	}
	if root.Resources == nil {
		root.Resources = map[string]*resourceEntry{}
	}
	return &root, obj.ETag, nil
}

// loadOrCreateRoot fetches the root document, creating an empty one on
// first connect. Concurrent first connects race on put-if-absent and
// the loser adopts the winner's document.
func (db *DB) loadOrCreateRoot(ctx context.Context) (*rootDocument, string, error) {
	root, etag, err := db.loadRoot(ctx)
	if err == nil {
		return root, etag, nil
	}
	if !storage.ErrNoSuchKey.Has(err) {
		return nil, "", Error.Wrap(err)
	}

	now := db.nowFn().UTC()
	fresh := &rootDocument{
		Version:   CurrentVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Resources: map[string]*resourceEntry{},
	}
	etag, err = db.putRoot(ctx, fresh, storage.PutOptions{IfNoneMatch: "*"})
	if err == nil {
		return fresh, etag, nil
	}
	if storage.ErrPrecondition.Has(err) {
		// another connect created it first
		root, etag, err := db.loadRoot(ctx)
		return root, etag, Error.Wrap(err)
	}
	return nil, "", Error.Wrap(err)
}

func (db *DB) putRoot(ctx context.Context, root *rootDocument, opts storage.PutOptions) (string, error) {
	body, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", Error.Wrap(err)
	}
	opts.ContentType = "application/json"
	opts.ContentLength = int64(len(body))
	info, err := db.store.Put(ctx, db.rootKey(), bytes.NewReader(body), opts)
	if err != nil {
		return "", err
	}
	return info.ETag, nil
}

// mutateRoot applies a mutation to a freshly loaded root document and
// writes it back conditionally on the etag it read. A lost race
// re-reads and re-applies with bounded backoff; persistent contention
// surfaces as ErrRace.
func (db *DB) mutateRoot(ctx context.Context, mutate func(*rootDocument) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	attempt := func() error {
		root, etag, err := db.loadRoot(ctx)
		if err != nil {
			return backoff.Permanent(Error.Wrap(err))
		}
		if err := mutate(root); err != nil {
			return backoff.Permanent(err)
		}
		root.UpdatedAt = db.nowFn().UTC()

		newETag, err := db.putRoot(ctx, root, storage.PutOptions{IfMatch: etag})
		if err != nil {
			if storage.ErrPrecondition.Has(err) {
				return err // retry
			}
			return backoff.Permanent(Error.Wrap(err))
		}

		db.mu.Lock()
		db.root = root
		db.rootETag = newETag
		db.mu.Unlock()
		return nil
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), rootWriteRetries), ctx)
	if err := backoff.Retry(attempt, strategy); err != nil {
		if storage.ErrPrecondition.Has(err) {
			return ErrRace.New("root document changed %d times underneath us", rootWriteRetries+1)
		}
		return err
	}
	return nil
}
