// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package filestore implements storage.Client on a local directory,
// serving file:// connection strings.
//
// Every object is a regular file plus a JSON sidecar <path>.meta.json
// holding the ETag, content headers, user metadata and modification
// time. Key segments are percent-escaped with a charset strict enough
// that a sidecar path can never collide with an escaped object path.
// Conditional puts are checked against the sidecar ETag under a
// process-wide mutex; they do not guard against other processes
// writing the same directory.
package filestore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"storj.io/s3db/storage"
)

const sidecarSuffix = ".meta.json"

// Client implements storage.Client on a directory.
type Client struct {
	root string

	mu sync.Mutex
}

type sidecar struct {
	ETag            string            `json:"etag"`
	ContentType     string            `json:"contentType,omitempty"`
	ContentEncoding string            `json:"contentEncoding,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	LastModified    time.Time         `json:"lastModified"`
}

// New opens a store rooted at dir, creating it when missing.
func New(dir string) (*Client, error) {
	if dir == "" {
		return nil, storage.ErrBucketNotFound.New("empty directory path")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storage.ErrBucketNotFound.Wrap(&storage.OpError{
			Op: "open", Bucket: dir, Err: err,
			Suggestion: "check that the parent directory exists and is writable",
		})
	}
	return &Client{root: dir}, nil
}

// escapeSegment escapes every byte outside [A-Za-z0-9_-], dots
// included, so escaped names never contain "." and cannot collide
// with sidecar paths.
func escapeSegment(segment string) string {
	var out strings.Builder
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out.WriteByte(c)
		default:
			fmt.Fprintf(&out, "%%%02X", c)
		}
	}
	return out.String()
}

func unescapeSegment(segment string) (string, error) {
	return url.PathUnescape(segment)
}

func (store *Client) pathFor(key string) string {
	segments := strings.Split(key, "/")
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = escapeSegment(segment)
	}
	return filepath.Join(append([]string{store.root}, escaped...)...)
}

func (store *Client) keyFor(path string) (string, error) {
	rel, err := filepath.Rel(store.root, path)
	if err != nil {
		return "", storage.Error.Wrap(err)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, segment := range segments {
		segments[i], err = unescapeSegment(segment)
		if err != nil {
			return "", storage.Error.Wrap(err)
		}
	}
	return strings.Join(segments, "/"), nil
}

func opError(op, bucket, key string, class *errs.Class, err error) error {
	return class.Wrap(&storage.OpError{Op: op, Bucket: bucket, Key: key, Err: err})
}

func (store *Client) readSidecar(key string) (sidecar, error) {
	data, err := os.ReadFile(store.pathFor(key) + sidecarSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return sidecar{}, opError("head", store.root, key, &storage.ErrNoSuchKey, nil)
		}
		return sidecar{}, opError("head", store.root, key, &storage.Error, err)
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return sidecar{}, opError("head", store.root, key, &storage.Error, err)
	}
	return meta, nil
}

func (store *Client) infoFor(key string, meta sidecar, size int64) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:             key,
		ETag:            meta.ETag,
		Metadata:        meta.Metadata,
		ContentType:     meta.ContentType,
		ContentEncoding: meta.ContentEncoding,
		ContentLength:   size,
		LastModified:    meta.LastModified,
	}
}

// Put stores an object and its sidecar.
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

	existing, readErr := store.readSidecar(key)
	exists := readErr == nil
	if opts.IfNoneMatch == "*" && exists {
		return storage.ObjectInfo{}, opError("put if-none-match", store.root, key, &storage.ErrPrecondition, nil)
	}
	if opts.IfMatch != "" {
		// S3 reports a missing object, not a failed precondition.
		if !exists {
			return storage.ObjectInfo{}, opError("put if-match", store.root, key, &storage.ErrNoSuchKey, nil)
		}
		if existing.ETag != opts.IfMatch {
			return storage.ObjectInfo{}, opError("put if-match", store.root, key, &storage.ErrPrecondition, nil)
		}
	}

	path := store.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return storage.ObjectInfo{}, opError("put", store.root, key, &storage.Error, err)
	}

	sum := md5.Sum(data)
	meta := sidecar{
		ETag:            hex.EncodeToString(sum[:]),
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		Metadata:        opts.Metadata,
		LastModified:    time.Now().UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return storage.ObjectInfo{}, opError("put", store.root, key, &storage.Error, err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return storage.ObjectInfo{}, opError("put", store.root, key, &storage.Error, err)
	}
	if err := writeFileAtomic(path+sidecarSuffix, metaJSON); err != nil {
		return storage.ObjectInfo{}, opError("put", store.root, key, &storage.Error, err)
	}
	return store.infoFor(key, meta, int64(len(data))), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get returns the object content and metadata.
func (store *Client) Get(ctx context.Context, key string) (*storage.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Error.Wrap(err)
	}
	meta, err := store.readSidecar(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(store.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opError("get", store.root, key, &storage.ErrNoSuchKey, nil)
		}
		return nil, opError("get", store.root, key, &storage.Error, err)
	}
	return &storage.Object{
		ObjectInfo: store.infoFor(key, meta, int64(len(data))),
		Body:       data,
	}, nil
}

// Head returns the object metadata.
func (store *Client) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}
	meta, err := store.readSidecar(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	stat, err := os.Stat(store.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectInfo{}, opError("head", store.root, key, &storage.ErrNoSuchKey, nil)
		}
		return storage.ObjectInfo{}, opError("head", store.root, key, &storage.Error, err)
	}
	return store.infoFor(key, meta, stat.Size()), nil
}

// Delete removes an object. Deleting a missing key succeeds.
func (store *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storage.Error.Wrap(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.deleteLocked(key)
}

func (store *Client) deleteLocked(key string) error {
	path := store.pathFor(key)
	for _, target := range []string{path, path + sidecarSuffix} {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return opError("delete", store.root, key, &storage.Error, err)
		}
	}
	return nil
}

// DeleteBatch removes many objects.
func (store *Client) DeleteBatch(ctx context.Context, keys []string) ([]storage.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Error.Wrap(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	var failed []storage.DeleteResult
	for _, key := range keys {
		if err := store.deleteLocked(key); err != nil {
			failed = append(failed, storage.DeleteResult{Key: key, Err: err})
		}
	}
	return failed, nil
}

// Copy duplicates an object together with its metadata.
func (store *Client) Copy(ctx context.Context, from, to string) (storage.ObjectInfo, error) {
	object, err := store.Get(ctx, from)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return store.Put(ctx, to, bytes.NewReader(object.Body), storage.PutOptions{
		Metadata:        object.Metadata,
		ContentType:     object.ContentType,
		ContentEncoding: object.ContentEncoding,
		ContentLength:   object.ContentLength,
	})
}

// Move copies an object and removes the source.
func (store *Client) Move(ctx context.Context, from, to string) (storage.ObjectInfo, error) {
	info, err := store.Copy(ctx, from, to)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := store.Delete(ctx, from); err != nil {
		return storage.ObjectInfo{}, err
	}
	return info, nil
}

// List returns a page of keys in lexicographic order.
func (store *Client) List(ctx context.Context, opts storage.ListOptions) (storage.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListResult{}, storage.Error.Wrap(err)
	}

	limit := int(opts.MaxKeys)
	if limit <= 0 || limit > storage.MaxKeysPerPage {
		limit = storage.MaxKeysPerPage
	}

	var infos []storage.ObjectInfo
	err := filepath.WalkDir(store.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, sidecarSuffix) {
			return nil
		}
		key, err := store.keyFor(strings.TrimSuffix(path, sidecarSuffix))
		if err != nil {
			return err
		}
		if !strings.HasPrefix(key, opts.Prefix) {
			return nil
		}
		if opts.ContinuationToken != "" && key <= opts.ContinuationToken {
			return nil
		}
		meta, err := store.readSidecar(key)
		if err != nil {
			return err
		}
		stat, err := os.Stat(store.pathFor(key))
		if err != nil {
			return err
		}
		infos = append(infos, storage.ObjectInfo{
			Key:           key,
			ETag:          meta.ETag,
			ContentLength: stat.Size(),
			LastModified:  meta.LastModified,
		})
		return nil
	})
	if err != nil {
		return storage.ListResult{}, storage.Error.Wrap(err)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	result := storage.ListResult{Contents: infos}
	if len(infos) > limit {
		result.Contents = infos[:limit]
		result.IsTruncated = true
		result.NextContinuationToken = infos[limit-1].Key
	}
	return result, nil
}

// Exists reports whether the key exists.
func (store *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := store.Head(ctx, key)
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close is a no-op for directories.
func (store *Client) Close() error { return nil }
