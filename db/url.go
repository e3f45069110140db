// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package db

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"storj.io/s3db/storage"
	"storj.io/s3db/storage/filestore"
	"storj.io/s3db/storage/memstore"
	"storj.io/s3db/storage/s3store"
)

// ConnectionInfo is a parsed connection string, before dialing.
type ConnectionInfo struct {
	Scheme string
	// Bucket is the bucket name, or the directory for file strings.
	Bucket string
	Prefix string
}

// ParseURL validates a connection string without dialing it.
//
//	s3://[ACCESS:SECRET@]BUCKET[/PREFIX][?region=...&endpoint=...&forcePathStyle=...]
//	http(s)://[ACCESS:SECRET@]HOST[:PORT]/BUCKET[/PREFIX][?forcePathStyle=...]
//	memory://BUCKET[/PREFIX]
//	file://ABSOLUTE_PATH
//
// Reserved characters in credentials must be URL-encoded.
func ParseURL(rawurl string) (ConnectionInfo, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ConnectionInfo{}, Error.New("invalid connection string: %v", err)
	}
	info := ConnectionInfo{Scheme: u.Scheme}

	switch u.Scheme {
	case "memory":
		info.Bucket = u.Host
		info.Prefix = strings.Trim(u.Path, "/")

	case "file":
		dir := u.Path
		if u.Host != "" {
			// file://dir/path parses the first component as host
			dir = "/" + u.Host + u.Path
		}
		if dir == "" {
			return ConnectionInfo{}, Error.New("connection string %q names no directory", rawurl)
		}
		info.Bucket = dir

	case "s3":
		if u.Host == "" {
			return ConnectionInfo{}, Error.New("connection string %q names no bucket", rawurl)
		}
		info.Bucket = u.Host
		info.Prefix = strings.Trim(u.Path, "/")

	case "http", "https":
		bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if bucket == "" {
			return ConnectionInfo{}, Error.New("connection string %q names no bucket", rawurl)
		}
		info.Bucket = bucket
		info.Prefix = prefix

	default:
		return ConnectionInfo{}, Error.New("unsupported connection scheme %q", u.Scheme)
	}
	return info, nil
}

// openClient dials the storage client a connection string names and
// returns it with the key prefix embedded in the string.
func openClient(ctx context.Context, rawurl string) (storage.Client, string, error) {
	info, err := ParseURL(rawurl)
	if err != nil {
		return nil, "", err
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, "", Error.New("invalid connection string: %v", err)
	}

	switch info.Scheme {
	case "memory":
		// the bucket name only disambiguates logs; every memory://
		// string opens a fresh empty store
		return memstore.New(), info.Prefix, nil

	case "file":
		client, err := filestore.New(info.Bucket)
		if err != nil {
			return nil, "", err
		}
		return client, "", nil

	case "s3":
		config := s3store.Config{Bucket: info.Bucket}
		applyCredentials(&config, u)
		config.Region = u.Query().Get("region")
		config.Endpoint = u.Query().Get("endpoint")
		if err := applyPathStyle(&config, u); err != nil {
			return nil, "", err
		}
		client, err := s3store.New(ctx, config)
		if err != nil {
			return nil, "", err
		}
		return client, info.Prefix, nil

	default: // http, https
		config := s3store.Config{
			Bucket:   info.Bucket,
			Endpoint: u.Scheme + "://" + u.Host,
			// non-AWS endpoints rarely support virtual-hosted buckets
			ForcePathStyle: true,
		}
		applyCredentials(&config, u)
		config.Region = u.Query().Get("region")
		if err := applyPathStyle(&config, u); err != nil {
			return nil, "", err
		}
		client, err := s3store.New(ctx, config)
		if err != nil {
			return nil, "", err
		}
		return client, info.Prefix, nil
	}
}

func applyCredentials(config *s3store.Config, u *url.URL) {
	if u.User == nil {
		return
	}
	config.AccessKey = u.User.Username()
	config.SecretKey, _ = u.User.Password()
}

func applyPathStyle(config *s3store.Config, u *url.URL) error {
	raw := u.Query().Get("forcePathStyle")
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return Error.New("invalid forcePathStyle value %q", raw)
	}
	config.ForcePathStyle = value
	return nil
}
