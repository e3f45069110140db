// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resource

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Runtime metadata header keys. Everything starting with "_" is
// reserved; schema attribute names may not use the prefix.
const (
	headerVersion        = "_v"  // schema version tag, "v<N>"
	headerPartitions     = "_ps" // current partition entry suffixes
	headerCreatedAt      = "_ca" // base62 unix milliseconds
	headerUpdatedAt      = "_ua"
	headerDeletedAt      = "_da"
	headerPendingVersion = "_pv" // consolidator two-phase marker
)

// Record fields maintained by the runtime rather than the schema.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"
	// FieldTruncated flags records whose overflow was dropped by the
	// truncate-data behavior.
	FieldTruncated = "_truncated"
	// FieldPendingVersion exposes the consolidator marker on decoded
	// records.
	FieldPendingVersion = "_pendingVersion"
)

var reservedFields = map[string]bool{
	FieldID:             true,
	FieldCreatedAt:      true,
	FieldUpdatedAt:      true,
	FieldDeletedAt:      true,
	FieldTruncated:      true,
	FieldPendingVersion: true,
}

// escapeComponent makes a key component safe: "/", "=", "?", "&" and
// friends round-trip through the escaping.
func escapeComponent(s string) string { return url.QueryEscape(s) }

func unescapeComponent(s string) (string, error) {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return "", Error.New("malformed key component %q: %v", s, err)
	}
	return out, nil
}

// resourceRoot returns "{prefix}/resource={name}" without a trailing
// slash.
func (r *Resource) resourceRoot() string {
	root := "resource=" + escapeComponent(r.config.Name)
	if r.prefix != "" {
		root = strings.TrimSuffix(r.prefix, "/") + "/" + root
	}
	return root
}

// ownerPrefix returns the listing prefix of owner objects.
func (r *Resource) ownerPrefix() string {
	return r.resourceRoot() + "/id="
}

// ownerKey returns the owner object key of a record.
func (r *Resource) ownerKey(id string) string {
	return r.ownerPrefix() + escapeComponent(id)
}

// idFromOwnerKey extracts the record id from an owner object key.
func (r *Resource) idFromOwnerKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, r.ownerPrefix())
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	id, err := unescapeComponent(rest)
	if err != nil {
		return "", false
	}
	return id, true
}

// partitionRoot returns the listing prefix of one partition's entries:
// "{root}/partition={name}/".
func (r *Resource) partitionRoot(name string) string {
	return r.resourceRoot() + "/partition=" + escapeComponent(name) + "/"
}

// partitionSuffix builds the entry suffix "partition={p}/{k}={v}/..."
// for a record, or ok=false when a partition field is absent or null.
// Fields are ordered by name so the suffix is deterministic.
func partitionSuffix(partition Partition, flat map[string]any) (string, bool) {
	names := make([]string, 0, len(partition.Fields))
	for name := range partition.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("partition=")
	b.WriteString(escapeComponent(partition.Name))
	for _, name := range names {
		value, ok := flat[name]
		if !ok || value == nil {
			return "", false
		}
		formatted, ok := formatPartitionValue(partition.Fields[name], value)
		if !ok {
			return "", false
		}
		b.WriteByte('/')
		b.WriteString(escapeComponent(name))
		b.WriteByte('=')
		b.WriteString(escapeComponent(formatted))
	}
	return b.String(), true
}

// formatPartitionValue renders a partition field value per its type
// spec, for example "date|maxlength:7" truncates an ISO date to the
// month.
func formatPartitionValue(spec string, value any) (string, bool) {
	kind := "string"
	maxLength := 0
	for _, token := range strings.Split(spec, "|") {
		base, arg, _ := strings.Cut(strings.TrimSpace(token), ":")
		switch base {
		case "maxlength":
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return "", false
			}
			maxLength = n
		case "":
		default:
			kind = base
		}
	}

	var formatted string
	switch kind {
	case "date":
		t, ok := asPartitionTime(value)
		if !ok {
			return "", false
		}
		formatted = t.UTC().Format("2006-01-02T15:04:05Z")
	case "number", "integer":
		switch n := value.(type) {
		case int64:
			formatted = strconv.FormatInt(n, 10)
		case int:
			formatted = strconv.Itoa(n)
		case float64:
			formatted = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			return "", false
		}
	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return "", false
		}
		formatted = strconv.FormatBool(b)
	default:
		s, ok := value.(string)
		if !ok {
			return "", false
		}
		formatted = s
	}

	if maxLength > 0 {
		runes := []rune(formatted)
		if len(runes) > maxLength {
			formatted = string(runes[:maxLength])
		}
	}
	return formatted, true
}

func asPartitionTime(value any) (time.Time, bool) {
	switch t := value.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02", t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// entryKey turns a partition suffix into the full index object key of
// a record.
func (r *Resource) entryKey(suffix, id string) string {
	return r.resourceRoot() + "/" + suffix + "/id=" + escapeComponent(id)
}
