// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package base62 implements encoding of integers and byte slices into the
// 62-character alphabet 0-9A-Za-z. The alphabet follows ASCII order, so
// encoded non-negative integers of equal length sort lexicographically.
package base62

import (
	"math"

	"github.com/zeebo/errs"
)

// Error is the default error class for base62.
var Error = errs.Class("base62")

// Digits before uppercase before lowercase, matching ASCII. Transaction
// id ordering and the packed timestamp headers depend on this; do not
// swap to the 0-9a-zA-Z variant.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = uint64(62)

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i, c := range alphabet {
		decodeMap[c] = int8(i)
	}
}

// EncodeUint64 encodes n into its base62 representation.
func EncodeUint64(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [11]byte // ceil(64 / log2(62))
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// DecodeUint64 decodes a base62 string produced by EncodeUint64.
func DecodeUint64(s string) (uint64, error) {
	if s == "" {
		return 0, Error.New("empty input")
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		digit := decodeMap[s[i]]
		if digit < 0 {
			return 0, Error.New("invalid character %q at %d", s[i], i)
		}
		if n > (math.MaxUint64-uint64(digit))/base {
			return 0, Error.New("value overflows uint64")
		}
		n = n*base + uint64(digit)
	}
	return n, nil
}

// EncodeInt64 encodes n, prefixing negative values with '-'.
func EncodeInt64(n int64) string {
	if n < 0 {
		// Negate via uint64 so math.MinInt64 round-trips.
		return "-" + EncodeUint64(uint64(-(n + 1)) + 1)
	}
	return EncodeUint64(uint64(n))
}

// DecodeInt64 decodes a base62 string produced by EncodeInt64.
func DecodeInt64(s string) (int64, error) {
	if s == "" {
		return 0, Error.New("empty input")
	}
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	u, err := DecodeUint64(s)
	if err != nil {
		return 0, err
	}
	if neg {
		if u > uint64(math.MaxInt64)+1 {
			return 0, Error.New("value overflows int64")
		}
		return -int64(u-1) - 1, nil
	}
	if u > uint64(math.MaxInt64) {
		return 0, Error.New("value overflows int64")
	}
	return int64(u), nil
}

// Encode encodes an arbitrary byte slice. Leading zero bytes are preserved as
// leading '0' characters, mirroring how base58 encoders treat them.
func Encode(bin []byte) string {
	zeros := 0
	for zeros < len(bin) && bin[zeros] == 0 {
		zeros++
	}

	// Upper bound on output size: log(256)/log(62) ≈ 1.35 digits per byte.
	size := (len(bin)-zeros)*138/100 + 1
	out := make([]byte, size)
	high := size

	for _, b := range bin[zeros:] {
		carry := uint32(b)
		i := size - 1
		for ; i >= high || carry != 0; i-- {
			carry += 256 * uint32(out[i])
			out[i] = byte(carry % 62)
			carry /= 62
		}
		high = i + 1
	}

	trimmed := out[high:]
	result := make([]byte, 0, zeros+len(trimmed))
	for i := 0; i < zeros; i++ {
		result = append(result, alphabet[0])
	}
	for _, digit := range trimmed {
		result = append(result, alphabet[digit])
	}
	return string(result)
}

// Decode decodes a string produced by Encode.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}

	zeros := 0
	for zeros < len(s) && s[zeros] == alphabet[0] {
		zeros++
	}

	size := (len(s)-zeros)*733/1000 + 1 // log(62)/log(256) ≈ 0.733
	out := make([]byte, size)
	high := size

	for i := zeros; i < len(s); i++ {
		digit := decodeMap[s[i]]
		if digit < 0 {
			return nil, Error.New("invalid character %q at %d", s[i], i)
		}
		carry := uint32(digit)
		k := size - 1
		for ; k >= high || carry != 0; k-- {
			carry += 62 * uint32(out[k])
			out[k] = byte(carry % 256)
			carry /= 256
		}
		high = k + 1
	}

	trimmed := out[high:]
	result := make([]byte, 0, zeros+len(trimmed))
	result = append(result, make([]byte, zeros)...)
	result = append(result, trimmed...)
	return result, nil
}
