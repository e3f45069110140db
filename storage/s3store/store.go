// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package s3store implements storage.Client on any S3-compatible
// service using the AWS SDK.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"storj.io/s3db/storage"
)

// Config holds the connection parameters for an S3-compatible bucket.
type Config struct {
	AccessKey      string        `help:"access key id; leave empty for the default credential chain" default:""`
	SecretKey      string        `help:"secret access key" default:""`
	SessionToken   string        `help:"session token for temporary credentials" default:""`
	Region         string        `help:"bucket region" default:"us-east-1"`
	Endpoint       string        `help:"endpoint override for S3-compatible services" default:""`
	ForcePathStyle bool          `help:"use path-style addressing (required by most non-AWS services)" default:"false"`
	Bucket         string        `help:"bucket name" default:""`
	MaxSockets     int           `help:"maximum idle connections kept per host" default:"100"`
	RequestTimeout time.Duration `help:"per-request timeout applied when the caller has no deadline" default:"60s"`
}

// Client implements storage.Client against one S3 bucket.
type Client struct {
	api     *s3.Client
	bucket  string
	timeout time.Duration
}

// New builds a client from config. Static credentials are used when
// an access key is set; otherwise the SDK default chain applies.
func New(ctx context.Context, config Config) (*Client, error) {
	if config.Bucket == "" {
		return nil, storage.ErrBucketNotFound.New("no bucket configured")
	}
	if config.MaxSockets <= 0 {
		config.MaxSockets = 100
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.MaxIdleConns = config.MaxSockets
		tr.MaxIdleConnsPerHost = config.MaxSockets
	})

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if config.AccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, config.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, storage.Error.Wrap(err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.ForcePathStyle
	})

	return &Client{
		api:     api,
		bucket:  config.Bucket,
		timeout: config.RequestTimeout,
	}, nil
}

// opCtx applies the configured request timeout when the caller has
// no deadline of its own.
func (client *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, client.timeout)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (client *Client) EnsureBucket(ctx context.Context) error {
	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	_, err := client.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(client.bucket)})
	if err == nil {
		return nil
	}
	if !isAPIError(err, "NotFound", "NoSuchBucket") {
		return client.wrap("head bucket", "", err)
	}

	_, err = client.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(client.bucket)})
	if err != nil && !isAPIError(err, "BucketAlreadyOwnedByYou", "BucketAlreadyExists") {
		return client.wrap("create bucket", "", err)
	}
	return nil
}

// Put stores an object. The body is buffered so the SDK can sign and
// retry the request; objects in this system are metadata-first and
// small by design.
func (client *Client) Put(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if key == "" {
		return storage.ObjectInfo{}, storage.Error.New("empty key")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, storage.Error.Wrap(err)
	}

	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(client.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}
	if opts.IfMatch != "" {
		input.IfMatch = aws.String(quoteETag(opts.IfMatch))
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}

	out, err := client.api.PutObject(ctx, input)
	if err != nil {
		return storage.ObjectInfo{}, client.wrap("put", key, err)
	}
	return storage.ObjectInfo{
		Key:             key,
		ETag:            unquoteETag(aws.ToString(out.ETag)),
		Metadata:        opts.Metadata,
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		ContentLength:   int64(len(data)),
		LastModified:    time.Now().UTC(),
	}, nil
}

// Get returns the object content and metadata.
func (client *Client) Get(ctx context.Context, key string) (*storage.Object, error) {
	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	out, err := client.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(client.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, client.wrap("get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, client.wrap("get", key, err)
	}
	return &storage.Object{
		ObjectInfo: storage.ObjectInfo{
			Key:             key,
			ETag:            unquoteETag(aws.ToString(out.ETag)),
			Metadata:        out.Metadata,
			ContentType:     aws.ToString(out.ContentType),
			ContentEncoding: aws.ToString(out.ContentEncoding),
			ContentLength:   aws.ToInt64(out.ContentLength),
			LastModified:    aws.ToTime(out.LastModified),
		},
		Body: data,
	}, nil
}

// Head returns the object metadata.
func (client *Client) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	out, err := client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(client.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storage.ObjectInfo{}, client.wrap("head", key, err)
	}
	return storage.ObjectInfo{
		Key:             key,
		ETag:            unquoteETag(aws.ToString(out.ETag)),
		Metadata:        out.Metadata,
		ContentType:     aws.ToString(out.ContentType),
		ContentEncoding: aws.ToString(out.ContentEncoding),
		ContentLength:   aws.ToInt64(out.ContentLength),
		LastModified:    aws.ToTime(out.LastModified),
	}, nil
}

// Delete removes an object. S3 reports success for missing keys.
func (client *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	_, err := client.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(client.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return client.wrap("delete", key, err)
	}
	return nil
}

// DeleteBatch removes many objects in chunks of MaxBatchDelete.
func (client *Client) DeleteBatch(ctx context.Context, keys []string) ([]storage.DeleteResult, error) {
	var failed []storage.DeleteResult
	for len(keys) > 0 {
		chunk := keys
		if len(chunk) > storage.MaxBatchDelete {
			chunk = chunk[:storage.MaxBatchDelete]
		}
		keys = keys[len(chunk):]

		identifiers := make([]types.ObjectIdentifier, len(chunk))
		for i, key := range chunk {
			identifiers[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		reqCtx, cancel := client.opCtx(ctx)
		out, err := client.api.DeleteObjects(reqCtx, &s3.DeleteObjectsInput{
			Bucket: aws.String(client.bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		cancel()
		if err != nil {
			return failed, client.wrap("delete batch", "", err)
		}
		for _, failure := range out.Errors {
			failed = append(failed, storage.DeleteResult{
				Key: aws.ToString(failure.Key),
				Err: storage.Error.New("%s: %s", aws.ToString(failure.Code), aws.ToString(failure.Message)),
			})
		}
	}
	return failed, nil
}

// Copy duplicates an object, metadata included.
func (client *Client) Copy(ctx context.Context, from, to string) (storage.ObjectInfo, error) {
	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	source := url.URL{Path: client.bucket + "/" + from}
	_, err := client.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(client.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(source.EscapedPath()),
	})
	if err != nil {
		return storage.ObjectInfo{}, client.wrap("copy", from, err)
	}
	return client.Head(ctx, to)
}

// Move copies an object and deletes the source.
func (client *Client) Move(ctx context.Context, from, to string) (storage.ObjectInfo, error) {
	info, err := client.Copy(ctx, from, to)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := client.Delete(ctx, from); err != nil {
		return storage.ObjectInfo{}, err
	}
	return info, nil
}

// List returns a page of keys in lexicographic order.
func (client *Client) List(ctx context.Context, opts storage.ListOptions) (storage.ListResult, error) {
	ctx, cancel := client.opCtx(ctx)
	defer cancel()

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 || maxKeys > storage.MaxKeysPerPage {
		maxKeys = storage.MaxKeysPerPage
	}
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(client.bucket),
		Prefix:  aws.String(opts.Prefix),
		MaxKeys: aws.Int32(maxKeys),
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := client.api.ListObjectsV2(ctx, input)
	if err != nil {
		return storage.ListResult{}, client.wrap("list", opts.Prefix, err)
	}

	result := storage.ListResult{
		IsTruncated:           aws.ToBool(out.IsTruncated),
		NextContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, object := range out.Contents {
		result.Contents = append(result.Contents, storage.ObjectInfo{
			Key:           aws.ToString(object.Key),
			ETag:          unquoteETag(aws.ToString(object.ETag)),
			ContentLength: aws.ToInt64(object.Size),
			LastModified:  aws.ToTime(object.LastModified),
		})
	}
	return result, nil
}

// Exists reports whether the key exists.
func (client *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := client.Head(ctx, key)
	if err != nil {
		if storage.ErrNoSuchKey.Has(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close is a no-op; the SDK manages its connection pool.
func (client *Client) Close() error { return nil }

// ETags are kept unquoted internally so the same value round-trips
// through every client implementation; S3 wire format quotes them.
func unquoteETag(etag string) string { return strings.Trim(etag, `"`) }

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

func isAPIError(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// wrap maps an SDK failure onto the storage error classes with the
// operation and key attached.
func (client *Client) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}

	class := &storage.Error
	suggestion := ""

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			class = &storage.ErrNoSuchKey
		case "NoSuchBucket":
			class = &storage.ErrBucketNotFound
			suggestion = "create the bucket or fix the bucket name"
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			class = &storage.ErrAccessDenied
			suggestion = "check the credentials and the bucket policy"
		case "PreconditionFailed", "ConditionalRequestConflict":
			class = &storage.ErrPrecondition
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "ServiceUnavailable":
			class = &storage.ErrThrottled
		case "MetadataTooLarge", "EntityTooLarge":
			class = &storage.ErrLimitExceeded
		}
	}

	if class == &storage.Error {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.HTTPStatusCode() {
			case http.StatusNotFound:
				class = &storage.ErrNoSuchKey
			case http.StatusForbidden:
				class = &storage.ErrAccessDenied
				suggestion = "check the credentials and the bucket policy"
			case http.StatusPreconditionFailed:
				class = &storage.ErrPrecondition
			case http.StatusTooManyRequests, http.StatusServiceUnavailable:
				class = &storage.ErrThrottled
			}
		}
	}

	return class.Wrap(&storage.OpError{
		Op:         op,
		Bucket:     client.bucket,
		Key:        key,
		Suggestion: suggestion,
		Err:        err,
	})
}

