// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema declares the runtime shape checks applied to every JSON
// payload that crosses the API boundary.
//
// A Schema decodes raw JSON into a Go value and validates it with
// go-playground/validator struct tags. Request factories and streaming
// subscriptions both hold a Schema so that REST responses and server-sent
// events are checked the same way.
//
// # Examples
//
//	type namespaceList struct {
//	    Data []Namespace `json:"data" validate:"dive"`
//	}
//
//	s := schema.Object[namespaceList]()
//	list, err := s.Parse(body)
//
// Endpoints that answer 204 No Content use Nullable:
//
//	s := schema.Nullable(schema.Object[struct{}]())
//	v, err := s.Parse(nil) // v == nil, err == nil
package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate is shared by every schema. validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate *validator.Validate

// namespaceNamePattern matches the names the Direktiv API accepts for
// namespaces: lowercase, starting with a letter, no trailing separator.
var namespaceNamePattern = regexp.MustCompile(`^(([a-z][a-z0-9_\-.]*[a-z0-9])|([a-z]))$`)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report json names in validation errors rather than Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("nsname", func(fl validator.FieldLevel) bool {
		return namespaceNamePattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("nodepath", func(fl validator.FieldLevel) bool {
		p := fl.Field().String()
		return strings.HasPrefix(p, "/") && !strings.Contains(p, "//")
	})
	_ = validate.RegisterValidation("b64", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := base64.StdEncoding.DecodeString(s)
		return err == nil
	})
}

// ErrNull is returned when a non-nullable schema receives null or an
// empty body.
var ErrNull = errors.New("expected a value, received null")

// =============================================================================
// Schema
// =============================================================================

// Schema parses and validates one JSON document.
type Schema[T any] interface {
	Parse(raw []byte) (T, error)
}

// Func adapts a plain function to Schema.
type Func[T any] func(raw []byte) (T, error)

// Parse calls f.
func (f Func[T]) Parse(raw []byte) (T, error) { return f(raw) }

// Object returns a schema that decodes into T and validates the result.
//
// Unknown fields are ignored, matching how the API adds fields over time.
// null and empty input are rejected with ErrNull.
func Object[T any]() Schema[T] {
	return Func[T](func(raw []byte) (T, error) {
		var out T
		if isNull(raw) {
			return out, ErrNull
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("decode: %w", err)
		}
		if err := Validate(out); err != nil {
			return out, err
		}
		return out, nil
	})
}

// Nullable wraps inner so that null or an empty body parse to a nil pointer.
func Nullable[T any](inner Schema[T]) Schema[*T] {
	return Func[*T](func(raw []byte) (*T, error) {
		if isNull(raw) {
			return nil, nil
		}
		v, err := inner.Parse(raw)
		if err != nil {
			return nil, err
		}
		return &v, nil
	})
}

// Text returns a schema for a JSON string document. It pairs with
// request.TextParser, which wraps a plain-text body as a JSON string.
func Text() Schema[string] {
	return Func[string](func(raw []byte) (string, error) {
		if isNull(raw) {
			return "", ErrNull
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode: %w", err)
		}
		return s, nil
	})
}

// Validate runs struct tag validation on v. Structs (and pointers to
// structs) are validated directly, slices, arrays and maps element-wise.
// Other kinds carry no tags and always pass.
func Validate(v any) error {
	return validateValue(reflect.ValueOf(v))
}

func validateValue(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return validateValue(rv.Elem())
	case reflect.Struct:
		if !rv.CanInterface() {
			return nil
		}
		if err := validate.Struct(rv.Interface()); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		return nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validateValue(rv.Index(i)); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := validateValue(iter.Value()); err != nil {
				return fmt.Errorf("[%v]: %w", iter.Key(), err)
			}
		}
		return nil
	default:
		return nil
	}
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
