// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package schema

import (
	"sort"

	"storj.io/s3db/pkg/base62"
)

// Map is the bijection between attribute paths and the short keys
// used in object metadata. It is persisted with every schema version
// so records written under old versions keep decoding.
type Map struct {
	byName  map[string]*Attribute
	byShort map[string]*Attribute
	leaves  []*Attribute
}

// assignShortKeys walks attributes depth-first and assigns positional
// short keys: base62 of the index within the level, joined with dots
// across object nesting ("4.0" is the first child of the fifth
// top-level attribute).
func assignShortKeys(attrs []*Attribute, parent string) {
	for i, attr := range attrs {
		index := base62.EncodeUint64(uint64(i))
		if parent == "" {
			attr.ShortKey = index
		} else {
			attr.ShortKey = parent + "." + index
		}
		if attr.Type.Kind == KindObject {
			assignShortKeys(attr.Children, attr.ShortKey)
		}
	}
}

// NewMap indexes a compiled attribute tree.
func NewMap(attrs []*Attribute) *Map {
	m := &Map{
		byName:  make(map[string]*Attribute),
		byShort: make(map[string]*Attribute),
	}
	m.index(attrs)
	return m
}

func (m *Map) index(attrs []*Attribute) {
	for _, attr := range attrs {
		m.byName[attr.Path] = attr
		m.byShort[attr.ShortKey] = attr
		if attr.Type.Kind == KindObject {
			m.index(attr.Children)
			continue
		}
		m.leaves = append(m.leaves, attr)
	}
}

// ByName returns the attribute with the given dotted path.
func (m *Map) ByName(path string) (*Attribute, bool) {
	attr, ok := m.byName[path]
	return attr, ok
}

// ByShort returns the attribute with the given short key.
func (m *Map) ByShort(short string) (*Attribute, bool) {
	attr, ok := m.byShort[short]
	return attr, ok
}

// Leaves returns the value-carrying attributes (everything except
// object containers) in short-key order.
func (m *Map) Leaves() []*Attribute { return m.leaves }

// Pairs returns the short key → path pairs for persistence, sorted
// by short key.
func (m *Map) Pairs() map[string]string {
	pairs := make(map[string]string, len(m.byShort))
	for short, attr := range m.byShort {
		pairs[short] = attr.Path
	}
	return pairs
}

// RestoreShortKeys overrides the positional assignment with a
// persisted short key → path map, so a stored version keeps its keys
// even if assignment rules evolve. Every attribute must be covered.
func RestoreShortKeys(attrs []*Attribute, pairs map[string]string) error {
	byPath := make(map[string]string, len(pairs))
	for short, path := range pairs {
		if previous, ok := byPath[path]; ok && previous != short {
			return Error.New("attribute map: duplicate path %q", path)
		}
		byPath[path] = short
	}

	var restore func(attrs []*Attribute) error
	restore = func(attrs []*Attribute) error {
		for _, attr := range attrs {
			short, ok := byPath[attr.Path]
			if !ok {
				return Error.New("attribute map: no short key for %q", attr.Path)
			}
			attr.ShortKey = short
			if attr.Type.Kind == KindObject {
				if err := restore(attr.Children); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return restore(attrs)
}

// SortedLeafPaths returns the leaf attribute paths sorted for stable
// iteration in encoders and tests.
func (m *Map) SortedLeafPaths() []string {
	paths := make([]string, 0, len(m.leaves))
	for _, attr := range m.leaves {
		paths = append(paths, attr.Path)
	}
	sort.Strings(paths)
	return paths
}
