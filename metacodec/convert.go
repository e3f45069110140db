// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package metacodec

import (
	"time"
)

func asInt64(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asTime(value any) (time.Time, bool) {
	switch t := value.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC(), true
		}
		if parsed, err := time.Parse("2006-01-02", t); err == nil {
			return parsed.UTC(), true
		}
	default:
		if ms, ok := asInt64(value); ok {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

func asFloat64Slice(value any) ([]float64, bool) {
	switch elems := value.(type) {
	case []float64:
		return elems, true
	case []float32:
		out := make([]float64, len(elems))
		for i, elem := range elems {
			out[i] = float64(elem)
		}
		return out, true
	case []any:
		out := make([]float64, len(elems))
		for i, elem := range elems {
			f, ok := asFloat64(elem)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func asStringSlice(value any) ([]string, bool) {
	switch elems := value.(type) {
	case []string:
		return elems, true
	case []any:
		out := make([]string, len(elems))
		for i, elem := range elems {
			s, ok := elem.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func asInt64Slice(value any) ([]int64, bool) {
	switch elems := value.(type) {
	case []int64:
		return elems, true
	case []int:
		out := make([]int64, len(elems))
		for i, elem := range elems {
			out[i] = int64(elem)
		}
		return out, true
	case []any:
		out := make([]int64, len(elems))
		for i, elem := range elems {
			n, ok := asInt64(elem)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
