// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Query scans records (preferring a partition scope when given) and
// applies the filter in memory.
//
// Filter values match by equality; a map value holds operators:
// $gt, $gte, $lt, $lte, $ne, $in, $nin, $exists and $regex. Dotted
// field names reach into nested objects. $regex always evaluates
// post-fetch; there is no server-side evaluation.
func (r *Resource) Query(ctx context.Context, filter map[string]any, opts ListOptions) (_ []map[string]any, err error) {
	defer mon.Task()(&ctx)(&err)

	predicate, err := compileFilter(filter)
	if err != nil {
		return nil, r.opFailed("query", "", err)
	}

	// scan everything in scope; offset and limit apply post-filter
	scan := opts
	scan.Limit, scan.Offset = 0, 0
	records, err := r.List(ctx, scan)
	if err != nil {
		return nil, err
	}

	var matched []map[string]any
	skip := opts.Offset
	for _, record := range records {
		if !predicate(record) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		matched = append(matched, record)
		if opts.Limit > 0 && len(matched) >= opts.Limit {
			break
		}
	}
	r.emit("query", map[string]any{"matched": len(matched)})
	return matched, nil
}

type predicate func(record map[string]any) bool

func compileFilter(filter map[string]any) (predicate, error) {
	var conditions []predicate
	for field, expected := range filter {
		condition, err := compileCondition(field, expected)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, condition)
	}
	return func(record map[string]any) bool {
		for _, condition := range conditions {
			if !condition(record) {
				return false
			}
		}
		return true
	}, nil
}

func compileCondition(field string, expected any) (predicate, error) {
	operators, isOperatorMap := expected.(map[string]any)
	if isOperatorMap && hasOperator(operators) {
		return compileOperators(field, operators)
	}
	return func(record map[string]any) bool {
		value, ok := lookupField(record, field)
		return ok && equalValues(value, expected)
	}, nil
}

func hasOperator(m map[string]any) bool {
	for key := range m {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

func compileOperators(field string, operators map[string]any) (predicate, error) {
	var conditions []predicate
	for op, arg := range operators {
		switch op {
		case "$gt", "$gte", "$lt", "$lte":
			conditions = append(conditions, compileComparison(field, op, arg))
		case "$ne":
			conditions = append(conditions, func(record map[string]any) bool {
				value, ok := lookupField(record, field)
				return !ok || !equalValues(value, arg)
			})
		case "$in", "$nin":
			options, ok := arg.([]any)
			if !ok {
				return nil, Error.New("query: %s of %q needs an array", op, field)
			}
			negate := op == "$nin"
			conditions = append(conditions, func(record map[string]any) bool {
				value, ok := lookupField(record, field)
				if !ok {
					return negate
				}
				for _, option := range options {
					if equalValues(value, option) {
						return !negate
					}
				}
				return negate
			})
		case "$exists":
			want, ok := arg.(bool)
			if !ok {
				return nil, Error.New("query: $exists of %q needs a boolean", field)
			}
			conditions = append(conditions, func(record map[string]any) bool {
				_, ok := lookupField(record, field)
				return ok == want
			})
		case "$regex":
			expr, ok := arg.(string)
			if !ok {
				return nil, Error.New("query: $regex of %q needs a string", field)
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, Error.New("query: $regex of %q: %v", field, err)
			}
			conditions = append(conditions, func(record map[string]any) bool {
				value, ok := lookupField(record, field)
				if !ok {
					return false
				}
				s, ok := value.(string)
				return ok && re.MatchString(s)
			})
		case "$increment", "$decrement":
			return nil, Error.New("query: %s is an eventual-consistency operation; use the consolidation plugin", op)
		default:
			return nil, Error.New("query: unknown operator %q on %q", op, field)
		}
	}
	return func(record map[string]any) bool {
		for _, condition := range conditions {
			if !condition(record) {
				return false
			}
		}
		return true
	}, nil
}

func compileComparison(field, op string, arg any) predicate {
	return func(record map[string]any) bool {
		value, ok := lookupField(record, field)
		if !ok {
			return false
		}
		cmp, ok := compareValues(value, arg)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		case "$lte":
			return cmp <= 0
		}
		return false
	}
}

// lookupField resolves a dotted field path within a record.
func lookupField(record map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var value any = record
	for _, part := range parts {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// equalValues compares with numeric and time coercion, so a query for
// 3 matches a stored int64(3) and float64(3) alike.
func equalValues(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return a == b
}

// compareValues orders two values when both are numbers, strings or
// times.
func compareValues(a, b any) (int, bool) {
	if an, ok := asFloat(a); ok {
		if bn, ok := asFloat(b); ok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt), true
		}
	}
	return 0, false
}

func asFloat(value any) (float64, bool) {
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
	}
	return 0, false
}
