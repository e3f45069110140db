// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Bind fills the config struct from its `default:` tags and declares
// one flag per leaf field, named by the hyphenated dotted field path,
// with help text from the `help:` tag. Fields tagged `setup:"true"` or
// `hidden:"true"` carry the matching flag annotation; hidden fields
// are also hidden from usage output.
//
// Library users skip Bind and fill the struct directly, with
// SetDefaults for the tag defaults.
func Bind(cmd *cobra.Command, config interface{}) {
	value := reflect.ValueOf(config)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("process: Bind requires a pointer to a struct, got %T", config))
	}
	SetDefaults(config)
	bindStruct(cmd.Flags(), "", value.Elem())
}

// SetDefaults fills the struct's zero leaf fields from their
// `default:` tags, recursing into nested structs.
func SetDefaults(config interface{}) {
	value := reflect.ValueOf(config)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("process: SetDefaults requires a pointer to a struct, got %T", config))
	}
	defaultStruct(value.Elem())
}

func defaultStruct(value reflect.Value) {
	structType := value.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldValue := value.Field(i)
		if fieldValue.Kind() == reflect.Struct {
			defaultStruct(fieldValue)
			continue
		}
		def, ok := field.Tag.Lookup("default")
		if !ok || !fieldValue.IsZero() {
			continue
		}
		if err := setLeaf(fieldValue, def); err != nil {
			panic(fmt.Sprintf("process: bad default for %s.%s: %v", structType.Name(), field.Name, err))
		}
	}
}

func setLeaf(value reflect.Value, raw string) error {
	switch ptr := value.Addr().Interface().(type) {
	case *string:
		*ptr = raw
	case *bool:
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*ptr = parsed
	case *time.Duration:
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*ptr = parsed
	case *int:
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*ptr = parsed
	case *int64:
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*ptr = parsed
	case *float64:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*ptr = parsed
	default:
		return fmt.Errorf("unsupported field type %s", value.Type())
	}
	return nil
}

func bindStruct(flags *pflag.FlagSet, prefix string, value reflect.Value) {
	structType := value.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldValue := value.Field(i)
		name := prefix + hyphenate(field.Name)
		if fieldValue.Kind() == reflect.Struct {
			bindStruct(flags, name+".", fieldValue)
			continue
		}

		help := field.Tag.Get("help")
		switch ptr := fieldValue.Addr().Interface().(type) {
		case *string:
			flags.StringVar(ptr, name, *ptr, help)
		case *bool:
			flags.BoolVar(ptr, name, *ptr, help)
		case *time.Duration:
			flags.DurationVar(ptr, name, *ptr, help)
		case *int:
			flags.IntVar(ptr, name, *ptr, help)
		case *int64:
			flags.Int64Var(ptr, name, *ptr, help)
		case *float64:
			flags.Float64Var(ptr, name, *ptr, help)
		default:
			panic(fmt.Sprintf("process: unsupported field type %s for %s", field.Type, name))
		}

		for _, annotation := range []string{"setup", "hidden", "user"} {
			if field.Tag.Get(annotation) == "true" {
				_ = flags.SetAnnotation(name, annotation, []string{"true"})
			}
		}
		if field.Tag.Get("hidden") == "true" {
			_ = flags.MarkHidden(name)
		}
	}
}

// hyphenate maps a CamelCase field name onto its flag form:
// MaxRetries becomes max-retries, URL stays url.
func hyphenate(name string) string {
	var out strings.Builder
	for i, r := range name {
		if 'A' <= r && r <= 'Z' {
			if i > 0 && (name[i-1] < 'A' || name[i-1] > 'Z') {
				out.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		out.WriteRune(r)
	}
	return out.String()
}
