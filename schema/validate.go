// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldError describes one failed rule on one attribute.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// FieldErrors collects validation failures in attribute order.
type FieldErrors []FieldError

// Error implements the error interface.
func (ferrs FieldErrors) Error() string {
	parts := make([]string, len(ferrs))
	for i, fe := range ferrs {
		parts[i] = fe.Field + " " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Err returns nil when there are no failures, otherwise the
// collection wrapped in ErrValidation.
func (ferrs FieldErrors) Err() error {
	if len(ferrs) == 0 {
		return nil
	}
	return ErrValidation.Wrap(ferrs)
}

// Validate checks a record against the compiled definition and
// returns the failures in depth-first attribute order. Call Normalize
// first so defaults and transforms are in place.
func (s *Schema) Validate(record map[string]any) FieldErrors {
	var ferrs FieldErrors
	validateAttrs(s.Attributes, record, "", &ferrs)
	return ferrs
}

func validateAttrs(attrs []*Attribute, obj map[string]any, base string, ferrs *FieldErrors) {
	for _, attr := range attrs {
		path := attr.Name
		if base != "" {
			path = base + "." + attr.Name
		}

		value, present := obj[attr.Name]
		if !present {
			if attr.Required {
				*ferrs = append(*ferrs, FieldError{Field: path, Rule: "required", Message: "is required"})
			}
			continue
		}
		if value == nil {
			if !attr.Nullable {
				*ferrs = append(*ferrs, FieldError{Field: path, Rule: "nullable", Message: "must not be null"})
			}
			continue
		}

		if msg := checkKind(attr, value, path, ferrs); msg != "" {
			*ferrs = append(*ferrs, FieldError{Field: path, Rule: "type", Message: msg})
			continue
		}

		for _, c := range attr.checks {
			if msg := c.fn(value); msg != "" {
				*ferrs = append(*ferrs, FieldError{Field: path, Rule: c.rule, Message: msg})
			}
		}
	}
}

// checkKind verifies the value shape for the attribute kind. Object
// and array-of-object children are validated recursively through
// ferrs; for all other mismatches the message is returned.
func checkKind(attr *Attribute, value any, path string, ferrs *FieldErrors) string {
	switch attr.Type.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case KindNumber, KindSecretNumber:
		if _, ok := asFloat(value); !ok {
			return "must be a number"
		}
	case KindInteger:
		if _, ok := asInt(value); !ok {
			return "must be an integer"
		}
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case KindDate:
		if _, ok := asTime(value); !ok {
			return "must be a date"
		}
	case KindUUID:
		s, ok := value.(string)
		if !ok {
			return "must be a uuid string"
		}
		if _, err := uuid.Parse(s); err != nil {
			return "must be a valid uuid"
		}
	case KindEmail:
		s, ok := value.(string)
		if !ok || !validEmail(s) {
			return "must be a valid email address"
		}
	case KindURL:
		s, ok := value.(string)
		if !ok || !validURL(s) {
			return "must be a valid url"
		}
	case KindJSON, KindSecretAny:
		// any value works
	case KindEmbedding:
		floats, ok := asFloatSlice(value)
		if !ok {
			return "must be an array of numbers"
		}
		if attr.Type.Dimension > 0 && len(floats) != attr.Type.Dimension {
			return fmt.Sprintf("must have exactly %d dimensions", attr.Type.Dimension)
		}
	case KindSecret, KindPassword:
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case KindArray:
		items, ok := asAnySlice(value)
		if !ok {
			return "must be an array"
		}
		checkArrayItems(attr, items, path, ferrs)
	case KindObject:
		child, ok := value.(map[string]any)
		if !ok {
			return "must be an object"
		}
		validateAttrs(attr.Children, child, path, ferrs)
	}
	return ""
}

func checkArrayItems(attr *Attribute, items []any, path string, ferrs *FieldErrors) {
	for i, item := range items {
		itemPath := path + "." + strconv.Itoa(i)
		switch attr.Type.Items {
		case KindObject:
			child, ok := item.(map[string]any)
			if !ok {
				*ferrs = append(*ferrs, FieldError{Field: itemPath, Rule: "type", Message: "must be an object"})
				continue
			}
			validateAttrs(attr.Children, child, itemPath, ferrs)
		default:
			itemAttr := &Attribute{Name: attr.Name, Path: attr.Path, Type: Type{Kind: attr.Type.Items}}
			if msg := checkKind(itemAttr, item, itemPath, ferrs); msg != "" {
				*ferrs = append(*ferrs, FieldError{Field: itemPath, Rule: "type", Message: msg})
			}
		}
	}
}

// Normalize returns a deep copy of the record with defaults injected,
// string transforms applied and value representations canonicalized:
// dates become time.Time, uuids their canonical form, integers int64,
// numbers float64 and embeddings []float64.
func (s *Schema) Normalize(record map[string]any) map[string]any {
	out, _ := deepCopy(record).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	normalizeAttrs(s.Attributes, out)
	return out
}

func normalizeAttrs(attrs []*Attribute, obj map[string]any) {
	for _, attr := range attrs {
		value, present := obj[attr.Name]
		if !present {
			if attr.HasDefault {
				obj[attr.Name] = deepCopy(attr.Default)
			}
			continue
		}
		if value == nil {
			continue
		}
		obj[attr.Name] = normalizeValue(attr, value)
	}
}

func normalizeValue(attr *Attribute, value any) any {
	if s, ok := value.(string); ok {
		for _, transform := range attr.transforms {
			switch transform {
			case "trim":
				s = strings.TrimSpace(s)
			case "lowercase":
				s = strings.ToLower(s)
			case "uppercase":
				s = strings.ToUpper(s)
			}
		}
		value = s
	}

	switch attr.Type.Kind {
	case KindInteger:
		if n, ok := asInt(value); ok {
			return n
		}
	case KindNumber:
		if n, ok := asFloat(value); ok {
			return n
		}
	case KindDate:
		if t, ok := asTime(value); ok {
			return t
		}
	case KindUUID:
		if s, ok := value.(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return id.String()
			}
		}
	case KindEmbedding:
		if floats, ok := asFloatSlice(value); ok {
			return floats
		}
	case KindObject:
		if child, ok := value.(map[string]any); ok {
			normalizeAttrs(attr.Children, child)
		}
	case KindArray:
		if attr.Type.Items == KindObject {
			if items, ok := asAnySlice(value); ok {
				for _, item := range items {
					if child, ok := item.(map[string]any); ok {
						normalizeAttrs(attr.Children, child)
					}
				}
				return items
			}
		}
	}
	return value
}

// Flatten splits a record into schema-known leaf values keyed by
// dotted path and everything else. Object containers recurse; unknown
// subtrees are returned whole under their top-level dotted path.
func (s *Schema) Flatten(record map[string]any) (known map[string]any, extra map[string]any) {
	known = map[string]any{}
	extra = map[string]any{}
	flattenAttrs(s.Attributes, record, "", known, extra)
	return known, extra
}

func flattenAttrs(attrs []*Attribute, obj map[string]any, base string, known, extra map[string]any) {
	byName := make(map[string]*Attribute, len(attrs))
	for _, attr := range attrs {
		byName[attr.Name] = attr
	}

	for name, value := range obj {
		path := name
		if base != "" {
			path = base + "." + name
		}
		attr, ok := byName[name]
		if !ok {
			extra[path] = value
			continue
		}
		if attr.Type.Kind == KindObject {
			if child, isMap := value.(map[string]any); isMap {
				flattenAttrs(attr.Children, child, path, known, extra)
				continue
			}
		}
		known[path] = value
	}
}

// Unflatten rebuilds a nested record from dotted paths.
func Unflatten(flat map[string]any) map[string]any {
	record := map[string]any{}
	for path, value := range flat {
		parts := strings.Split(path, ".")
		obj := record
		for _, part := range parts[:len(parts)-1] {
			next, ok := obj[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				obj[part] = next
			}
			obj = next
		}
		obj[parts[len(parts)-1]] = value
	}
	return record
}

func asAnySlice(value any) ([]any, bool) {
	switch items := value.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, true
	case []int64:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func asFloatSlice(value any) ([]float64, bool) {
	switch items := value.(type) {
	case []float64:
		return items, true
	case []float32:
		out := make([]float64, len(items))
		for i, item := range items {
			out[i] = float64(item)
		}
		return out, true
	case []any:
		out := make([]float64, len(items))
		for i, item := range items {
			n, ok := asFloat(item)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// deepCopy copies the JSON-shaped value graph so normalization never
// aliases caller data.
func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out
	case []int64:
		out := make([]int64, len(v))
		copy(out, v)
		return out
	case time.Time:
		return v
	default:
		return v
	}
}
