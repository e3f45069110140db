// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package schema compiles the attribute definition DSL into
// validators and attribute maps.
//
// A definition is a map of attribute names to pipe-separated rule
// strings ("email|required|string|min:3"), nested maps for objects,
// or {type: "array", items: ...} maps for arrays. Compiling assigns
// every attribute a short metadata key and produces a validator that
// reports failures per field.
package schema

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default schema error class.
	Error = errs.Class("schema")

	// ErrValidation wraps FieldErrors produced by Validate.
	ErrValidation = errs.Class("validation")
)

// Schema is one compiled version of a resource definition.
type Schema struct {
	// Definition is the raw definition as given by the caller; it is
	// persisted verbatim in the root document.
	Definition map[string]any
	// Version is the 1-based version number within the resource.
	Version int
	// Dictionary is the optional compression dictionary declared at
	// resource creation, shared by all versions.
	Dictionary []string

	Attributes []*Attribute
	Map        *Map
}

// Compile parses and compiles a definition. Short keys are assigned
// positionally; use CompileVersion to restore persisted assignments.
func Compile(definition map[string]any) (*Schema, error) {
	attrs, err := parseAttributes("", definition)
	if err != nil {
		return nil, err
	}
	assignShortKeys(attrs, "")
	return &Schema{
		Definition: definition,
		Version:    1,
		Attributes: attrs,
		Map:        NewMap(attrs),
	}, nil
}

// CompileVersion compiles a persisted definition and restores its
// stored short key assignment.
func CompileVersion(definition map[string]any, version int, pairs map[string]string) (*Schema, error) {
	attrs, err := parseAttributes("", definition)
	if err != nil {
		return nil, err
	}
	if err := RestoreShortKeys(attrs, pairs); err != nil {
		return nil, err
	}
	return &Schema{
		Definition: definition,
		Version:    version,
		Attributes: attrs,
		Map:        NewMap(attrs),
	}, nil
}

// SecretAttributes returns the attributes whose values are encrypted
// before persisting, in short-key order.
func (s *Schema) SecretAttributes() []*Attribute {
	var secret []*Attribute
	for _, attr := range s.Map.Leaves() {
		if attr.Type.Kind.IsSecret() {
			secret = append(secret, attr)
		}
	}
	return secret
}

// PasswordAttributes returns the attributes hashed before persisting,
// in short-key order.
func (s *Schema) PasswordAttributes() []*Attribute {
	var passwords []*Attribute
	for _, attr := range s.Map.Leaves() {
		if attr.Type.Kind == KindPassword {
			passwords = append(passwords, attr)
		}
	}
	return passwords
}
