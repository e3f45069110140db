// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package schema

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Attribute is one node of a compiled definition: a leaf value, an
// object with children, or an array.
type Attribute struct {
	Name       string // leaf name within its parent
	Path       string // full dotted path from the record root
	ShortKey   string // metadata key assigned by Compile
	Type       Type
	Required   bool
	Nullable   bool
	HasDefault bool
	Default    any
	Children   []*Attribute // object children or array-of-object item attributes

	transforms []string
	checks     []check
}

type check struct {
	rule string
	fn   func(v any) string // empty string when the value passes
}

// parseAttributes parses one nesting level of a definition. Walk
// order is lexicographic by attribute name, which keeps short key
// assignment deterministic.
func parseAttributes(prefix string, definition map[string]any) ([]*Attribute, error) {
	names := make([]string, 0, len(definition))
	for name := range definition {
		names = append(names, name)
	}
	sort.Strings(names)

	attrs := make([]*Attribute, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, Error.New("empty attribute name")
		}
		if strings.HasPrefix(name, "_") {
			return nil, Error.New("attribute %q: names starting with _ are reserved", name)
		}
		if strings.Contains(name, ".") {
			return nil, Error.New("attribute %q: names must not contain dots", name)
		}

		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		attr, err := parseAttribute(name, path, definition[name])
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func parseAttribute(name, path string, raw any) (*Attribute, error) {
	switch value := raw.(type) {
	case string:
		return parseRule(name, path, value)

	case map[string]any:
		if typeName, ok := value["type"].(string); ok {
			return parseTypedMap(name, path, typeName, value)
		}
		// plain nested object definition
		children, err := parseAttributes(path, value)
		if err != nil {
			return nil, err
		}
		return &Attribute{
			Name:     name,
			Path:     path,
			Type:     Type{Kind: KindObject},
			Children: children,
		}, nil

	default:
		return nil, Error.New("attribute %q: unsupported definition %T", path, raw)
	}
}

// parseTypedMap handles the {type: "array", items: {...}} map form.
func parseTypedMap(name, path, typeName string, value map[string]any) (*Attribute, error) {
	if typeName != "array" {
		return nil, Error.New("attribute %q: map form supports only type \"array\", got %q", path, typeName)
	}

	attr := &Attribute{
		Name: name,
		Path: path,
		Type: Type{Kind: KindArray, Items: KindString},
	}
	if required, ok := value["required"].(bool); ok {
		attr.Required = required
	}

	switch items := value["items"].(type) {
	case nil:
	case string:
		kind, ok := kindsByName[items]
		if !ok {
			return nil, Error.New("attribute %q: unknown item type %q", path, items)
		}
		attr.Type.Items = kind
	case map[string]any:
		children, err := parseAttributes(path, items)
		if err != nil {
			return nil, err
		}
		attr.Type.Items = KindObject
		attr.Children = children
	default:
		return nil, Error.New("attribute %q: unsupported items definition %T", path, items)
	}
	return attr, nil
}

// splitRule splits a pipe rule string, keeping pattern:/…/ arguments
// whole even when the expression contains pipes.
func splitRule(rule string) []string {
	parts := strings.Split(rule, "|")
	var tokens []string
	for i := 0; i < len(parts); i++ {
		token := parts[i]
		if strings.HasPrefix(token, "pattern:/") && !strings.HasSuffix(strings.TrimPrefix(token, "pattern:/"), "/") {
			for i+1 < len(parts) {
				i++
				token += "|" + parts[i]
				if strings.HasSuffix(token, "/") {
					break
				}
			}
		}
		tokens = append(tokens, strings.TrimSpace(token))
	}
	return tokens
}

func parseRule(name, path, rule string) (*Attribute, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, Error.New("attribute %q: empty rule", path)
	}

	attr := &Attribute{
		Name: name,
		Path: path,
		Type: Type{Kind: KindString, Items: KindString},
	}

	tokens := splitRule(rule)

	// first pass: find the type so rule arguments can be interpreted;
	// "integer" doubles as a numeric rule when a type is already set
	typeToken := -1
	for i, token := range tokens {
		base, arg, hasArg := strings.Cut(token, ":")
		kind, isKind := kindsByName[base]
		if !isKind || (hasArg && base != "embedding") {
			continue
		}
		if typeToken >= 0 {
			if base == "integer" {
				continue
			}
			return nil, Error.New("attribute %q: multiple types in rule %q", path, rule)
		}
		typeToken = i
		attr.Type.Kind = kind
		if base == "embedding" && hasArg {
			dim, err := strconv.Atoi(arg)
			if err != nil || dim <= 0 {
				return nil, Error.New("attribute %q: invalid embedding dimension %q", path, arg)
			}
			attr.Type.Dimension = dim
		}
	}

	// second pass: modifiers and rules in declaration order
	for i, token := range tokens {
		if i == typeToken {
			continue
		}
		base, arg, _ := strings.Cut(token, ":")

		switch base {
		case "required":
			attr.Required = true
		case "optional":
			attr.Required = false
		case "nullable":
			attr.Nullable = true
		case "default":
			def, err := parseDefault(attr.Type, arg)
			if err != nil {
				return nil, Error.New("attribute %q: %v", path, err)
			}
			attr.HasDefault, attr.Default = true, def
		case "trim", "lowercase", "uppercase":
			if !attr.Type.Kind.IsStringLike() {
				return nil, Error.New("attribute %q: %s applies only to string attributes", path, base)
			}
			attr.transforms = append(attr.transforms, base)
		case "min", "max":
			if err := attr.addBoundCheck(base, arg); err != nil {
				return nil, Error.New("attribute %q: %v", path, err)
			}
		case "pattern":
			expr := strings.TrimSuffix(strings.TrimPrefix(arg, "/"), "/")
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, Error.New("attribute %q: invalid pattern: %v", path, err)
			}
			attr.addStringCheck("pattern", func(s string) string {
				if !re.MatchString(s) {
					return fmt.Sprintf("must match pattern %s", re)
				}
				return ""
			})
		case "enum":
			allowed := strings.Split(arg, ",")
			attr.addStringCheck("enum", func(s string) string {
				for _, option := range allowed {
					if s == option {
						return ""
					}
				}
				return "must be one of: " + strings.Join(allowed, ", ")
			})
		case "alphanum":
			attr.addStringCheck("alphanum", func(s string) string {
				for _, r := range s {
					alpha := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
					if !alpha {
						return "must contain only letters and digits"
					}
				}
				return ""
			})
		case "positive":
			attr.checks = append(attr.checks, check{rule: "positive", fn: func(v any) string {
				if n, ok := asFloat(v); ok && n <= 0 {
					return "must be positive"
				}
				return ""
			}})
		case "integer":
			attr.checks = append(attr.checks, check{rule: "integer", fn: func(v any) string {
				if _, ok := asInt(v); !ok {
					return "must be an integer"
				}
				return ""
			}})
		case "items":
			if attr.Type.Kind != KindArray {
				return nil, Error.New("attribute %q: items applies only to arrays", path)
			}
			kind, ok := kindsByName[arg]
			if !ok {
				return nil, Error.New("attribute %q: unknown item type %q", path, arg)
			}
			attr.Type.Items = kind
		case "empty":
			if arg != "false" {
				return nil, Error.New("attribute %q: empty supports only empty:false", path)
			}
			attr.checks = append(attr.checks, check{rule: "empty", fn: func(v any) string {
				if items, ok := asAnySlice(v); ok && len(items) == 0 {
					return "must not be empty"
				}
				return ""
			}})
		default:
			return nil, Error.New("attribute %q: unknown rule %q", path, token)
		}
	}
	return attr, nil
}

// addBoundCheck builds a min or max check appropriate for the
// attribute type: value bounds for numbers, length bounds for
// strings and arrays.
func (attr *Attribute) addBoundCheck(rule, arg string) error {
	bound, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return errs.New("invalid %s bound %q", rule, arg)
	}
	isMin := rule == "min"

	switch {
	case attr.Type.Kind.IsNumeric():
		attr.checks = append(attr.checks, check{rule: rule, fn: func(v any) string {
			n, ok := asFloat(v)
			if !ok {
				return ""
			}
			if isMin && n < bound {
				return fmt.Sprintf("must be at least %v", bound)
			}
			if !isMin && n > bound {
				return fmt.Sprintf("must be at most %v", bound)
			}
			return ""
		}})
	case attr.Type.Kind == KindArray:
		length := int(bound)
		attr.checks = append(attr.checks, check{rule: rule, fn: func(v any) string {
			items, ok := asAnySlice(v)
			if !ok {
				return ""
			}
			if isMin && len(items) < length {
				return fmt.Sprintf("must have at least %d items", length)
			}
			if !isMin && len(items) > length {
				return fmt.Sprintf("must have at most %d items", length)
			}
			return ""
		}})
	default:
		length := int(bound)
		attr.addStringCheck(rule, func(s string) string {
			runes := len([]rune(s))
			if isMin && runes < length {
				return fmt.Sprintf("must be at least %d characters", length)
			}
			if !isMin && runes > length {
				return fmt.Sprintf("must be at most %d characters", length)
			}
			return ""
		})
	}
	return nil
}

func (attr *Attribute) addStringCheck(rule string, fn func(string) string) {
	attr.checks = append(attr.checks, check{rule: rule, fn: func(v any) string {
		if s, ok := v.(string); ok {
			return fn(s)
		}
		return ""
	}})
}

func parseDefault(t Type, raw string) (any, error) {
	switch t.Kind {
	case KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errs.New("invalid numeric default %q", raw)
		}
		return n, nil
	case KindInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errs.New("invalid integer default %q", raw)
		}
		return n, nil
	case KindBoolean:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, errs.New("invalid boolean default %q", raw)
	case KindDate:
		if t, ok := asTime(raw); ok {
			return t, nil
		}
		return nil, errs.New("invalid date default %q", raw)
	case KindArray, KindObject, KindJSON, KindEmbedding:
		return nil, errs.New("defaults are not supported for %s attributes", t.Kind)
	default:
		return raw, nil
	}
}

// builtin format checks used during kind validation

var emailish = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(s string) bool {
	if _, err := mail.ParseAddress(s); err != nil {
		return false
	}
	return emailish.MatchString(s)
}

func validURL(s string) bool {
	parsed, err := url.Parse(s)
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}
