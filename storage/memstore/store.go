// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memstore implements an in-process storage.Client used by
// tests and by memory:// connection strings.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"storj.io/s3db/storage"
)

// Client implements storage.Client on a sorted in-memory slice.
type Client struct {
	mu    sync.RWMutex
	items []item

	// CallCount tracks the number of calls per operation. Read it
	// only after the operations under test have completed.
	CallCount struct {
		Put         int
		Get         int
		Head        int
		Delete      int
		DeleteBatch int
		Copy        int
		Move        int
		List        int
		Exists      int
		Close       int
	}
}

type item struct {
	key  string
	info storage.ObjectInfo
	body []byte
}

// New creates an empty in-memory store.
func New() *Client { return &Client{} }

// indexOf finds the index of key or where it would be inserted.
func (store *Client) indexOf(key string) (int, bool) {
	i := sort.Search(len(store.items), func(k int) bool {
		return store.items[k].key >= key
	})
	if i >= len(store.items) {
		return i, false
	}
	return i, store.items[i].key == key
}

func opError(op, key string, class *errs.Class) error {
	return class.Wrap(&storage.OpError{Op: op, Bucket: "memory", Key: key})
}

// Put stores an object.
func (store *Client) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}
	if key == "" {
		return storage.ObjectInfo{}, storage.Error.New("empty key")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	keyIndex, found := store.indexOf(key)
	if opts.IfNoneMatch == "*" && found {
		return storage.ObjectInfo{}, opError("put if-none-match", key, &storage.ErrPrecondition)
	}
	if opts.IfMatch != "" {
		// S3 reports a missing object, not a failed precondition.
		if !found {
			return storage.ObjectInfo{}, opError("put if-match", key, &storage.ErrNoSuchKey)
		}
		if store.items[keyIndex].info.ETag != opts.IfMatch {
			return storage.ObjectInfo{}, opError("put if-match", key, &storage.ErrPrecondition)
		}
	}

	sum := md5.Sum(data)
	info := storage.ObjectInfo{
		Key:             key,
		ETag:            hex.EncodeToString(sum[:]),
		Metadata:        cloneMetadata(opts.Metadata),
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		ContentLength:   int64(len(data)),
		LastModified:    time.Now().UTC(),
	}

	entry := item{key: key, info: info, body: data}
	if found {
		store.items[keyIndex] = entry
	} else {
		store.items = append(store.items, item{})
		copy(store.items[keyIndex+1:], store.items[keyIndex:])
		store.items[keyIndex] = entry
	}
	return cloneInfo(info), nil
}

// Get returns the object content and metadata.
func (store *Client) Get(ctx context.Context, key string) (*storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Error.Wrap(err)
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	store.CallCount.Get++

	keyIndex, found := store.indexOf(key)
	if !found {
		return nil, opError("get", key, &storage.ErrNoSuchKey)
	}
	entry := store.items[keyIndex]
	return &storage.Object{
		ObjectInfo: cloneInfo(entry.info),
		Body:       bytes.Clone(entry.body),
	}, nil
}

// Head returns the object metadata.
func (store *Client) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	store.CallCount.Head++

	keyIndex, found := store.indexOf(key)
	if !found {
		return storage.ObjectInfo{}, opError("head", key, &storage.ErrNoSuchKey)
	}
	return cloneInfo(store.items[keyIndex].info), nil
}

// Delete removes an object. Deleting a missing key succeeds.
func (store *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Error.Wrap(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	store.deleteLocked(key)
	return nil
}

func (store *Client) deleteLocked(key string) {
	keyIndex, found := store.indexOf(key)
	if !found {
		return
	}
	store.items = append(store.items[:keyIndex], store.items[keyIndex+1:]...)
}

// DeleteBatch removes many objects.
func (store *Client) DeleteBatch(ctx context.Context, keys []string) ([]storage.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Error.Wrap(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.DeleteBatch++

	for _, key := range keys {
		store.deleteLocked(key)
	}
	return nil, nil
}

// Copy duplicates an object together with its metadata.
func (store *Client) Copy(ctx context.Context, from, to string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Copy++

	return store.copyLocked(from, to)
}

func (store *Client) copyLocked(from, to string) (storage.ObjectInfo, error) {
	fromIndex, found := store.indexOf(from)
	if !found {
		return storage.ObjectInfo{}, opError("copy", from, &storage.ErrNoSuchKey)
	}
	source := store.items[fromIndex]

	info := cloneInfo(source.info)
	info.Key = to
	info.LastModified = time.Now().UTC()
	entry := item{key: to, info: info, body: bytes.Clone(source.body)}

	toIndex, exists := store.indexOf(to)
	if exists {
		store.items[toIndex] = entry
	} else {
		store.items = append(store.items, item{})
		copy(store.items[toIndex+1:], store.items[toIndex:])
		store.items[toIndex] = entry
	}
	return cloneInfo(info), nil
}

// Move copies an object and removes the source.
func (store *Client) Move(ctx context.Context, from, to string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Move++

	info, err := store.copyLocked(from, to)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	store.deleteLocked(from)
	return info, nil
}

// List returns a page of keys in lexicographic order.
func (store *Client) List(ctx context.Context, opts storage.ListOptions) (storage.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListResult{}, storage.Error.Wrap(err)
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	store.CallCount.List++

	limit := int(opts.MaxKeys)
	if limit <= 0 || limit > storage.MaxKeysPerPage {
		limit = storage.MaxKeysPerPage
	}

	start := sort.Search(len(store.items), func(k int) bool {
		return store.items[k].key >= opts.Prefix
	})
	if opts.ContinuationToken != "" {
		afterToken := sort.Search(len(store.items), func(k int) bool {
			return store.items[k].key > opts.ContinuationToken
		})
		if afterToken > start {
			start = afterToken
		}
	}

	var result storage.ListResult
	for i := start; i < len(store.items); i++ {
		entry := store.items[i]
		if !strings.HasPrefix(entry.key, opts.Prefix) {
			break
		}
		if len(result.Contents) == limit {
			result.IsTruncated = true
			result.NextContinuationToken = result.Contents[limit-1].Key
			break
		}
		result.Contents = append(result.Contents, storage.ObjectInfo{
			Key:           entry.key,
			ETag:          entry.info.ETag,
			ContentLength: entry.info.ContentLength,
			LastModified:  entry.info.LastModified,
		})
	}
	return result, nil
}

// Exists reports whether the key exists.
func (store *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storage.Error.Wrap(err)
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	store.CallCount.Exists++

	_, found := store.indexOf(key)
	return found, nil
}

// Close releases the stored objects.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	store.items = nil
	return nil
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	clone := make(map[string]string, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

func cloneInfo(info storage.ObjectInfo) storage.ObjectInfo {
	clone := info
	clone.Metadata = cloneMetadata(info.Metadata)
	return clone
}
