// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storage defines the object store client used by every layer
// above it. A Client speaks to a single bucket; keys are full object
// keys inside that bucket. Implementations exist for S3-compatible
// services (s3store), local directories (filestore) and memory
// (memstore), and they are all exercised by the same conformance
// suite (storetest).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default storage error class.
	Error = errs.Class("storage")

	// ErrNoSuchKey is returned when the object does not exist.
	ErrNoSuchKey = errs.Class("object not found")
	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errs.Class("bucket not found")
	// ErrAccessDenied is returned on authorization failures.
	ErrAccessDenied = errs.Class("access denied")
	// ErrThrottled is returned when the service asks to slow down.
	// It is safe to retry after a backoff.
	ErrThrottled = errs.Class("request throttled")
	// ErrPrecondition is returned when a conditional write loses
	// against a concurrent writer.
	ErrPrecondition = errs.Class("precondition failed")
	// ErrLimitExceeded is returned when a request exceeds a hard
	// service limit, for example the user metadata size.
	ErrLimitExceeded = errs.Class("limit exceeded")
)

// ErrStopWalk stops WalkKeys early without reporting an error.
var ErrStopWalk = errs.New("stop walk")

const (
	// MaxKeysPerPage is the largest page size a List call may request.
	MaxKeysPerPage = 1000
	// MaxBatchDelete is the largest number of keys a single batch
	// delete request may carry.
	MaxBatchDelete = 1000
)

// OpError records a failed object store operation and the object it
// was about. Suggestion optionally carries a human hint, for example
// which credential or bucket setting to check.
type OpError struct {
	Op         string
	Bucket     string
	Key        string
	Suggestion string
	Err        error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %q", e.Op, e.Key)
	if e.Bucket != "" {
		msg = fmt.Sprintf("%s bucket %q key %q", e.Op, e.Bucket, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error { return e.Err }

// PutOptions carries the optional parameters of a Put.
//
// IfMatch makes the write conditional on the object existing with the
// given ETag; IfNoneMatch set to "*" makes it conditional on the key
// not existing. A failed condition surfaces as ErrPrecondition.
type PutOptions struct {
	Metadata        map[string]string
	ContentType     string
	ContentEncoding string
	ContentLength   int64
	IfMatch         string
	IfNoneMatch     string
}

// ObjectInfo describes an object without its content.
type ObjectInfo struct {
	Key             string
	ETag            string
	Metadata        map[string]string
	ContentType     string
	ContentEncoding string
	ContentLength   int64
	LastModified    time.Time
}

// Object is an object together with its full content.
type Object struct {
	ObjectInfo
	Body []byte
}

// ListOptions selects a page of keys under a prefix.
type ListOptions struct {
	Prefix            string
	ContinuationToken string
	MaxKeys           int32
}

// ListResult is one page of a listing. Contents carry only the
// listing-level fields: Key, ETag, ContentLength, LastModified.
type ListResult struct {
	Contents              []ObjectInfo
	IsTruncated           bool
	NextContinuationToken string
}

// DeleteResult reports the per-key outcome of a batch delete.
type DeleteResult struct {
	Key string
	Err error
}

// Client is a minimal object store client scoped to a single bucket.
//
// All methods honor ctx cancellation. Implementations map their
// backend failures onto the package error classes and wrap an OpError
// carrying the operation, bucket and key.
type Client interface {
	// Put stores an object, replacing any previous version.
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	// Get returns the object content and metadata.
	Get(ctx context.Context, key string) (*Object, error)
	// Head returns object metadata without the content.
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteBatch removes many objects, chunking into requests of at
	// most MaxBatchDelete keys. It returns one result per failed key.
	DeleteBatch(ctx context.Context, keys []string) ([]DeleteResult, error)
	// Copy duplicates an object, metadata included.
	Copy(ctx context.Context, from, to string) (ObjectInfo, error)
	// Move copies an object and deletes the source.
	Move(ctx context.Context, from, to string) (ObjectInfo, error)
	// List returns a lexicographically ordered page of keys.
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	// Exists reports whether the key exists.
	Exists(ctx context.Context, key string) (bool, error)
	// Close releases resources held by the client.
	Close() error
}

// WalkKeys calls fn for every object under prefix in key order.
// Returning ErrStopWalk from fn stops the walk without error.
func WalkKeys(ctx context.Context, client Client, prefix string, fn func(ObjectInfo) error) error {
	opts := ListOptions{Prefix: prefix, MaxKeys: MaxKeysPerPage}
	for {
		page, err := client.List(ctx, opts)
		if err != nil {
			return err
		}
		for _, info := range page.Contents {
			if err := fn(info); err != nil {
				if errors.Is(err, ErrStopWalk) {
					return nil
				}
				return err
			}
		}
		if !page.IsTruncated {
			return nil
		}
		opts.ContinuationToken = page.NextContinuationToken
	}
}

// ListAllKeys returns every key under prefix in key order.
func ListAllKeys(ctx context.Context, client Client, prefix string) ([]string, error) {
	var keys []string
	err := WalkKeys(ctx, client, prefix, func(info ObjectInfo) error {
		keys = append(keys, info.Key)
		return nil
	})
	return keys, err
}

// CountKeys counts the keys under prefix.
func CountKeys(ctx context.Context, client Client, prefix string) (int, error) {
	count := 0
	err := WalkKeys(ctx, client, prefix, func(ObjectInfo) error {
		count++
		return nil
	})
	return count, err
}

// DeleteAllUnder deletes every object under prefix and returns how
// many were removed. The first per-key failure aborts the sweep.
func DeleteAllUnder(ctx context.Context, client Client, prefix string) (deleted int, err error) {
	for {
		keys, err := listPageKeys(ctx, client, prefix)
		if err != nil {
			return deleted, err
		}
		if len(keys) == 0 {
			return deleted, nil
		}

		failed, err := client.DeleteBatch(ctx, keys)
		if err != nil {
			return deleted, err
		}
		deleted += len(keys) - len(failed)
		for _, result := range failed {
			if result.Err != nil {
				return deleted, Error.Wrap(&OpError{Op: "delete all", Key: result.Key, Err: result.Err})
			}
		}
	}
}

func listPageKeys(ctx context.Context, client Client, prefix string) ([]string, error) {
	page, err := client.List(ctx, ListOptions{Prefix: prefix, MaxKeys: MaxKeysPerPage})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(page.Contents))
	for _, info := range page.Contents {
		keys = append(keys, info.Key)
	}
	return keys, nil
}
