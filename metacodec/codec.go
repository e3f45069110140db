// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package metacodec packs typed attribute values into S3 user-metadata
// header values.
//
// Every encoded value is a one-character tag declaring the encoding
// followed by an ASCII-safe payload, so the decoder needs no schema to
// pick the payload apart; the attribute map supplies the semantics
// (which tag payload is a timestamp versus a plain integer). The codec
// picks the smallest safe encoding per value and reports which values
// do not fit the metadata byte budget, so a behavior can decide where
// the overflow lives.
package metacodec

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"storj.io/s3db/pkg/base62"
	"storj.io/s3db/schema"
)

// Error is the default metacodec error class.
var Error = errs.Class("metacodec")

// Value encoding tags.
const (
	TagInt        = 'i' // base62 signed integer
	TagDecimal    = 'f' // base62 fixed-point mantissa "." decimal places
	TagBool       = 'b' // "0" or "1"
	TagTime       = 't' // base62 signed unix milliseconds, UTC
	TagUUID       = 'u' // base62 of the 16 uuid bytes
	TagString     = 's' // raw printable ASCII
	TagBase64     = 'e' // base64 (raw std) of UTF-8 bytes
	TagStrings    = 'p' // pipe-joined string array, elements %-escaped
	TagInts       = 'n' // base62 integers joined with "_"
	TagEmbedding  = 'm' // fixed-point base62 floats joined with "_"
	TagJSON       = 'j' // base64 (raw std) of canonical JSON
	TagSecret     = 'x' // opaque base64 ciphertext envelope
	TagDictionary = 'd' // base62 index into the resource dictionary
)

const (
	// DefaultMetadataLimit is the serialized metadata byte budget,
	// matching the S3 user-metadata allowance.
	DefaultMetadataLimit = 2048
	// DefaultEmbeddingScale is the fixed-point multiplier for
	// embedding floats.
	DefaultEmbeddingScale = 1_000_000
)

// Options configure a codec. A codec belongs to one resource and is
// shared by all of its schema versions.
type Options struct {
	// MetadataLimit bounds the serialized size of the produced
	// metadata; zero means DefaultMetadataLimit.
	MetadataLimit int
	// EmbeddingScale is the fixed-point multiplier for embedding
	// floats; zero means DefaultEmbeddingScale.
	EmbeddingScale int64
	// Dictionary is the optional list of common string values
	// substituted by index. Decoding requires the same dictionary.
	Dictionary []string
}

// Codec encodes and decodes attribute values.
type Codec struct {
	limit      int
	scale      int64
	dictionary []string
	dictIndex  map[string]int
}

// New creates a codec.
func New(opts Options) *Codec {
	codec := &Codec{
		limit:      opts.MetadataLimit,
		scale:      opts.EmbeddingScale,
		dictionary: opts.Dictionary,
	}
	if codec.limit <= 0 {
		codec.limit = DefaultMetadataLimit
	}
	if codec.scale <= 0 {
		codec.scale = DefaultEmbeddingScale
	}
	if len(codec.dictionary) > 0 {
		codec.dictIndex = make(map[string]int, len(codec.dictionary))
		for i, entry := range codec.dictionary {
			codec.dictIndex[entry] = i
		}
	}
	return codec
}

// MetadataLimit returns the configured byte budget.
func (codec *Codec) MetadataLimit() int { return codec.limit }

// EncodeValue encodes a single value with the smallest safe encoding
// for its attribute type.
func (codec *Codec) EncodeValue(attrType schema.Type, value any) (string, error) {
	switch attrType.Kind {
	case schema.KindInteger:
		n, ok := asInt64(value)
		if !ok {
			return "", Error.New("integer attribute: unsupported value %T", value)
		}
		return string(TagInt) + base62.EncodeInt64(n), nil

	case schema.KindNumber:
		n, ok := asFloat64(value)
		if !ok {
			return "", Error.New("number attribute: unsupported value %T", value)
		}
		if whole, ok := asInt64(value); ok {
			return string(TagInt) + base62.EncodeInt64(whole), nil
		}
		if enc, ok := encodeDecimal(n); ok {
			return enc, nil
		}
		return encodeJSON(n)

	case schema.KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return "", Error.New("boolean attribute: unsupported value %T", value)
		}
		if b {
			return string(TagBool) + "1", nil
		}
		return string(TagBool) + "0", nil

	case schema.KindDate:
		t, ok := asTime(value)
		if !ok {
			return "", Error.New("date attribute: unsupported value %T", value)
		}
		return string(TagTime) + base62.EncodeInt64(t.UnixMilli()), nil

	case schema.KindUUID:
		s, ok := value.(string)
		if !ok {
			return "", Error.New("uuid attribute: unsupported value %T", value)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return "", Error.New("uuid attribute: %v", err)
		}
		return string(TagUUID) + base62.Encode(id[:]), nil

	case schema.KindString, schema.KindEmail, schema.KindURL, schema.KindPassword:
		s, ok := value.(string)
		if !ok {
			return "", Error.New("%s attribute: unsupported value %T", attrType.Kind, value)
		}
		return codec.encodeString(s), nil

	case schema.KindSecret, schema.KindSecretNumber, schema.KindSecretAny:
		// secret values reach the codec already sealed as base64
		s, ok := value.(string)
		if !ok {
			return "", Error.New("secret attribute: expected sealed string, got %T", value)
		}
		return string(TagSecret) + s, nil

	case schema.KindEmbedding:
		floats, ok := asFloat64Slice(value)
		if !ok {
			return "", Error.New("embedding attribute: unsupported value %T", value)
		}
		return codec.encodeEmbedding(floats)

	case schema.KindArray:
		return codec.encodeArray(attrType, value)

	case schema.KindJSON, schema.KindObject:
		return encodeJSON(value)

	default:
		return "", Error.New("unsupported attribute kind %s", attrType.Kind)
	}
}

// DecodeValue reverses EncodeValue. The attribute type recovers the
// semantics the tag alone cannot, for example that an "i" payload is a
// number attribute and must come back as float64.
func (codec *Codec) DecodeValue(attrType schema.Type, encoded string) (any, error) {
	if encoded == "" {
		return nil, Error.New("empty encoded value")
	}
	tag, payload := encoded[0], encoded[1:]

	switch tag {
	case TagInt:
		n, err := base62.DecodeInt64(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if attrType.Kind == schema.KindNumber {
			return float64(n), nil
		}
		return n, nil

	case TagDecimal:
		return decodeDecimal(payload)

	case TagBool:
		switch payload {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
		return nil, Error.New("invalid boolean payload %q", payload)

	case TagTime:
		ms, err := base62.DecodeInt64(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return time.UnixMilli(ms).UTC(), nil

	case TagUUID:
		raw, err := base62.Decode(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(raw) != 16 {
			return nil, Error.New("uuid payload has %d bytes", len(raw))
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return id.String(), nil

	case TagString:
		return payload, nil

	case TagBase64:
		raw, err := base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return string(raw), nil

	case TagStrings:
		return decodeStrings(payload)

	case TagInts:
		return decodeInts(payload)

	case TagEmbedding:
		return codec.decodeEmbedding(payload)

	case TagJSON:
		raw, err := base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, Error.Wrap(err)
		}
		return value, nil

	case TagSecret:
		return payload, nil

	case TagDictionary:
		index, err := base62.DecodeUint64(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if index >= uint64(len(codec.dictionary)) {
			return nil, Error.New("dictionary index %d out of range", index)
		}
		return codec.dictionary[index], nil
	}
	return nil, Error.New("unknown encoding tag %q", string(tag))
}

func (codec *Codec) encodeString(s string) string {
	if index, ok := codec.dictIndex[s]; ok {
		return string(TagDictionary) + base62.EncodeUint64(uint64(index))
	}
	if isPrintableASCII(s) {
		return string(TagString) + s
	}
	return string(TagBase64) + base64.RawStdEncoding.EncodeToString([]byte(s))
}

func (codec *Codec) encodeEmbedding(floats []float64) (string, error) {
	var b strings.Builder
	for i, f := range floats {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", Error.New("embedding element %d is not finite", i)
		}
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(base62.EncodeInt64(int64(math.Round(f * float64(codec.scale)))))
	}
	return string(TagEmbedding) + b.String(), nil
}

func (codec *Codec) decodeEmbedding(payload string) ([]float64, error) {
	if payload == "" {
		return []float64{}, nil
	}
	parts := strings.Split(payload, "_")
	floats := make([]float64, len(parts))
	for i, part := range parts {
		fixed, err := base62.DecodeInt64(part)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		floats[i] = float64(fixed) / float64(codec.scale)
	}
	return floats, nil
}

func (codec *Codec) encodeArray(attrType schema.Type, value any) (string, error) {
	switch attrType.Items {
	case schema.KindString, schema.KindEmail, schema.KindURL, schema.KindUUID:
		if elems, ok := asStringSlice(value); ok {
			// a lone empty string would pipe-join to the same payload as
			// the empty array; only JSON keeps them apart
			if len(elems) == 1 && elems[0] == "" {
				return encodeJSON(value)
			}
			var b strings.Builder
			b.WriteByte(TagStrings)
			for i, elem := range elems {
				if i > 0 {
					b.WriteByte('|')
				}
				b.WriteString(escapePipe(elem))
			}
			encoded := b.String()
			if isPrintableASCII(encoded) {
				return encoded, nil
			}
		}
	case schema.KindInteger:
		if elems, ok := asInt64Slice(value); ok {
			var b strings.Builder
			b.WriteByte(TagInts)
			for i, elem := range elems {
				if i > 0 {
					b.WriteByte('_')
				}
				b.WriteString(base62.EncodeInt64(elem))
			}
			return b.String(), nil
		}
	}
	return encodeJSON(value)
}

func encodeJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(TagJSON) + base64.RawStdEncoding.EncodeToString(raw), nil
}

// encodeDecimal encodes a float that has an exact short decimal
// representation as base62 fixed-point: mantissa "." decimal places.
func encodeDecimal(f float64) (string, bool) {
	formatted := strconv.FormatFloat(f, 'f', -1, 64)
	whole, frac, _ := strings.Cut(formatted, ".")
	if len(frac) == 0 || len(frac) > 9 {
		return "", false
	}
	mantissa, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return "", false
	}
	return string(TagDecimal) + base62.EncodeInt64(mantissa) + "." + strconv.Itoa(len(frac)), true
}

func decodeDecimal(payload string) (float64, error) {
	mantissaPart, expPart, ok := strings.Cut(payload, ".")
	if !ok {
		return 0, Error.New("invalid decimal payload %q", payload)
	}
	mantissa, err := base62.DecodeInt64(mantissaPart)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	decimals, err := strconv.Atoi(expPart)
	if err != nil || decimals < 0 || decimals > 18 {
		return 0, Error.New("invalid decimal places %q", expPart)
	}
	return float64(mantissa) / math.Pow10(decimals), nil
}

func escapePipe(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, "|", "%7C")
}

func unescapePipe(s string) string {
	s = strings.ReplaceAll(s, "%7C", "|")
	return strings.ReplaceAll(s, "%25", "%")
}

func decodeStrings(payload string) ([]any, error) {
	if payload == "" {
		return []any{}, nil
	}
	parts := strings.Split(payload, "|")
	elems := make([]any, len(parts))
	for i, part := range parts {
		elems[i] = unescapePipe(part)
	}
	return elems, nil
}

func decodeInts(payload string) ([]any, error) {
	if payload == "" {
		return []any{}, nil
	}
	parts := strings.Split(payload, "_")
	elems := make([]any, len(parts))
	for i, part := range parts {
		n, err := base62.DecodeInt64(part)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		elems[i] = n
	}
	return elems, nil
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
