// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"storj.io/s3db/behavior"
	"storj.io/s3db/metacodec"
	"storj.io/s3db/pkg/base62"
	"storj.io/s3db/pkg/secretcrypto"
	"storj.io/s3db/schema"
	"storj.io/s3db/storage"
)

// headers are the runtime-reserved metadata values of one record.
type headers struct {
	version        int
	partitions     []string // partition entry suffixes
	createdAt      time.Time
	updatedAt      time.Time
	deletedAt      time.Time
	pendingVersion string
}

// decoded is a record read back from the store.
type decoded struct {
	id      string
	record  map[string]any
	headers headers
	etag    string
}

// deleted reports whether the record is soft-deleted.
func (d *decoded) deleted() bool { return !d.headers.deletedAt.IsZero() }

// validate normalizes the record against the schema and rejects
// unknown attributes and rule failures. It returns the normalized
// flattened leaf values alongside the normalized record.
func (r *Resource) validate(s *schema.Schema, record map[string]any) (normalized map[string]any, flat map[string]any, err error) {
	clean := make(map[string]any, len(record))
	for name, value := range record {
		if reservedFields[name] {
			continue
		}
		clean[name] = value
	}

	normalized = s.Normalize(clean)
	var ferrs schema.FieldErrors
	flat, extra := s.Flatten(normalized)
	for _, path := range sortedKeys(extra) {
		ferrs = append(ferrs, schema.FieldError{
			Field:   path,
			Rule:    "unknown",
			Message: "is not declared in the schema",
		})
	}
	ferrs = append(ferrs, s.Validate(normalized)...)
	if err := ferrs.Err(); err != nil {
		return nil, nil, err
	}
	return normalized, flat, nil
}

// encodeObject packs normalized flattened values and runtime headers
// into the (metadata, body) pair the behavior prescribes. Secret
// values in flat must already be sealed.
func (r *Resource) encodeObject(s *schema.Schema, flat map[string]any, hdr headers) (map[string]string, []byte, error) {
	reserved := r.encodeHeaders(hdr)
	reservedSize := 0
	for key, value := range reserved {
		reservedSize += metacodec.EntrySize(key, value)
	}

	packed, err := r.codec.TrySerialize(flat, s.Map, reservedSize)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	meta, body, err := r.behavior.Pack(packed, flat)
	if err != nil {
		return nil, nil, err
	}

	full := make(map[string]string, len(meta)+len(reserved))
	for key, value := range meta {
		full[key] = value
	}
	for key, value := range reserved {
		full[key] = value
	}
	return full, body, nil
}

func (r *Resource) encodeHeaders(hdr headers) map[string]string {
	reserved := map[string]string{
		headerVersion: "v" + strconv.Itoa(hdr.version),
	}
	if len(hdr.partitions) > 0 {
		reserved[headerPartitions] = strings.Join(hdr.partitions, "|")
	}
	if !hdr.createdAt.IsZero() {
		reserved[headerCreatedAt] = base62.EncodeInt64(hdr.createdAt.UnixMilli())
	}
	if !hdr.updatedAt.IsZero() {
		reserved[headerUpdatedAt] = base62.EncodeInt64(hdr.updatedAt.UnixMilli())
	}
	if !hdr.deletedAt.IsZero() {
		reserved[headerDeletedAt] = base62.EncodeInt64(hdr.deletedAt.UnixMilli())
	}
	if hdr.pendingVersion != "" {
		reserved[headerPendingVersion] = hdr.pendingVersion
	}
	return reserved
}

func decodeHeaders(meta map[string]string) (headers, error) {
	var hdr headers
	version, ok := strings.CutPrefix(meta[headerVersion], "v")
	if !ok {
		return hdr, Error.New("record has no schema version header")
	}
	var err error
	hdr.version, err = strconv.Atoi(version)
	if err != nil {
		return hdr, Error.New("invalid schema version %q", meta[headerVersion])
	}
	if encoded := meta[headerPartitions]; encoded != "" {
		hdr.partitions = strings.Split(encoded, "|")
	}
	for _, stamp := range []struct {
		key  string
		into *time.Time
	}{
		{headerCreatedAt, &hdr.createdAt},
		{headerUpdatedAt, &hdr.updatedAt},
		{headerDeletedAt, &hdr.deletedAt},
	} {
		if encoded := meta[stamp.key]; encoded != "" {
			ms, err := base62.DecodeInt64(encoded)
			if err != nil {
				return hdr, Error.New("invalid %s header: %v", stamp.key, err)
			}
			*stamp.into = time.UnixMilli(ms).UTC()
		}
	}
	hdr.pendingVersion = meta[headerPendingVersion]
	return hdr, nil
}

// readObject fetches the owner object, downloading the body only when
// the behavior needs it.
func (r *Resource) readObject(ctx context.Context, id string) (storage.ObjectInfo, []byte, error) {
	key := r.ownerKey(id)
	if r.behavior.Name() == behavior.BodyOnly {
		obj, err := r.store.Get(ctx, key)
		if err != nil {
			return storage.ObjectInfo{}, nil, err
		}
		return obj.ObjectInfo, obj.Body, nil
	}

	info, err := r.store.Head(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, nil, err
	}
	if !r.behavior.NeedsBody(info.Metadata) {
		return info, nil, nil
	}
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, nil, err
	}
	return obj.ObjectInfo, obj.Body, nil
}

// decodeObject rebuilds the record from a stored object. Secret
// values stay sealed; unsealRecord opens them.
func (r *Resource) decodeObject(id string, info storage.ObjectInfo, body []byte) (*decoded, error) {
	hdr, err := decodeHeaders(info.Metadata)
	if err != nil {
		return nil, err
	}
	s, err := r.schemaVersion(hdr.version)
	if err != nil {
		return nil, err
	}

	flat, err := r.behavior.Unpack(info.Metadata, body, func(meta map[string]string) (map[string]any, error) {
		return r.codec.DecodeMeta(meta, s.Map)
	})
	if err != nil {
		return nil, err
	}

	record := s.Normalize(schema.Unflatten(flat))
	record[FieldID] = id
	if !hdr.createdAt.IsZero() {
		record[FieldCreatedAt] = hdr.createdAt.Format(time.RFC3339Nano)
	}
	if !hdr.updatedAt.IsZero() {
		record[FieldUpdatedAt] = hdr.updatedAt.Format(time.RFC3339Nano)
	}
	if !hdr.deletedAt.IsZero() {
		record[FieldDeletedAt] = hdr.deletedAt.Format(time.RFC3339Nano)
	}
	if info.Metadata[behavior.HeaderTruncated] == "1" {
		record[FieldTruncated] = true
	}
	if hdr.pendingVersion != "" {
		record[FieldPendingVersion] = hdr.pendingVersion
	}
	return &decoded{id: id, record: record, headers: hdr, etag: info.ETag}, nil
}

// sealSecrets replaces secret attribute values with their sealed
// envelopes and hashes password attributes, both on the flattened
// values. Already-hashed passwords are left alone so merges stay
// idempotent.
func (r *Resource) sealSecrets(s *schema.Schema, flat map[string]any) error {
	for _, attr := range s.SecretAttributes() {
		value, ok := flat[attr.Path]
		if !ok || value == nil {
			continue
		}
		plaintext, err := json.Marshal(value)
		if err != nil {
			return secretcrypto.ErrEncryption.Wrap(err)
		}
		envelope, err := secretcrypto.Encrypt(r.passphrase, plaintext)
		if err != nil {
			return err
		}
		flat[attr.Path] = base64.StdEncoding.EncodeToString(envelope)
	}
	for _, attr := range s.PasswordAttributes() {
		value, ok := flat[attr.Path].(string)
		if !ok || value == "" || strings.HasPrefix(value, "$2") {
			continue
		}
		hash, err := secretcrypto.HashPassword(value)
		if err != nil {
			return err
		}
		flat[attr.Path] = hash
	}
	return nil
}

// unsealSecrets opens sealed secret values on a decoded record,
// in place.
func (r *Resource) unsealSecrets(s *schema.Schema, record map[string]any) error {
	for _, attr := range s.SecretAttributes() {
		container, name, ok := resolvePath(record, attr.Path)
		if !ok {
			continue
		}
		sealed, ok := container[name].(string)
		if !ok || sealed == "" {
			continue
		}
		envelope, err := base64.StdEncoding.DecodeString(sealed)
		if err != nil {
			return secretcrypto.ErrEncryption.New("attribute %q: %v", attr.Path, err)
		}
		plaintext, err := secretcrypto.Decrypt(r.passphrase, envelope)
		if err != nil {
			return secretcrypto.ErrEncryption.New("attribute %q: %v", attr.Path, err)
		}
		var value any
		if err := json.Unmarshal(plaintext, &value); err != nil {
			return secretcrypto.ErrEncryption.New("attribute %q: %v", attr.Path, err)
		}
		container[name] = value
	}
	return nil
}

// resolvePath walks a dotted path to its containing object.
func resolvePath(record map[string]any, path string) (map[string]any, string, bool) {
	parts := strings.Split(path, ".")
	obj := record
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]any)
		if !ok {
			return nil, "", false
		}
		obj = next
	}
	name := parts[len(parts)-1]
	_, ok := obj[name]
	return obj, name, ok
}

// persist writes the encoded owner object.
func (r *Resource) persist(ctx context.Context, id string, meta map[string]string, body []byte) (storage.ObjectInfo, error) {
	opts := storage.PutOptions{Metadata: meta}
	reader := bytes.NewReader(body)
	if body != nil {
		opts.ContentType = "application/json"
		opts.ContentLength = int64(len(body))
	}
	return r.store.Put(ctx, r.ownerKey(id), reader, opts)
}

// mergeDeep merges changes into base: plain objects merge recursively,
// arrays and scalars replace.
func mergeDeep(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	for name, value := range base {
		out[name] = value
	}
	for name, value := range changes {
		baseObj, baseIsObj := out[name].(map[string]any)
		changeObj, changeIsObj := value.(map[string]any)
		if baseIsObj && changeIsObj {
			out[name] = mergeDeep(baseObj, changeObj)
			continue
		}
		out[name] = value
	}
	return out
}

// mergeShallow replaces top-level fields only.
func mergeShallow(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	for name, value := range base {
		out[name] = value
	}
	for name, value := range changes {
		out[name] = value
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
