// Copyright 2026 The Trackio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codec translates metric values to and from a JSON-safe encoding.
//
// JSON cannot represent the IEEE-754 non-finite values, and several JSON
// libraries emit bare Infinity/NaN tokens that other parsers reject. The
// codec therefore maps non-finite floats to the quoted string markers
// "Infinity", "-Infinity" and "NaN" on the way in and restores them on the
// way out.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	trkerrors "github.com/trackio/trackio/pkg/errors"
)

// Non-finite float markers. Stored as quoted JSON strings so the encoded
// document stays valid JSON on every platform.
const (
	MarkerInf    = "Infinity"
	MarkerNegInf = "-Infinity"
	MarkerNaN    = "NaN"
)

// MaxDepth bounds recursion during encoding. Inputs deeper than this are
// assumed to contain a cycle.
const MaxDepth = 100

// TypeKey marks a map value as an artifact descriptor. Descriptors pass
// through the codec unchanged, including unknown types.
const TypeKey = "_type"

// Encode converts v into a JSON-safe value tree: non-finite floats become
// string markers, structs become flat maps of their exported fields, and
// nested maps and slices are recursed.
func Encode(v any) (any, error) {
	return encode(v, 0)
}

// EncodeMetrics encodes every value of a metrics mapping.
func EncodeMetrics(metrics map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(metrics))
	for k, v := range metrics {
		enc, err := encode(v, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metric %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// Marshal encodes a metrics mapping and serializes it to JSON.
func Marshal(metrics map[string]any) ([]byte, error) {
	enc, err := EncodeMetrics(metrics)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// Unmarshal parses a JSON metrics document and restores non-finite floats.
func Unmarshal(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	decoded := Decode(raw)
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("metrics document is not an object")
	}
	return m, nil
}

// Decode walks a decoded JSON value tree and replaces every string equal
// to one of the non-finite markers with the corresponding float. All other
// structure is preserved.
func Decode(v any) any {
	switch val := v.(type) {
	case string:
		switch val {
		case MarkerInf:
			return math.Inf(1)
		case MarkerNegInf:
			return math.Inf(-1)
		case MarkerNaN:
			return math.NaN()
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Decode(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Decode(e)
		}
		return out
	default:
		return v
	}
}

func encode(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, &trkerrors.EncodingCycleError{Depth: MaxDepth}
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	case float32:
		return encodeFloat(float64(val)), nil
	case float64:
		return encodeFloat(val), nil
	case json.Number:
		return val, nil
	case map[string]any:
		// Artifact descriptors pass through unchanged, unknown _type
		// values included.
		if _, ok := val[TypeKey]; ok {
			return val, nil
		}
		out := make(map[string]any, len(val))
		for k, e := range val {
			enc, err := encode(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			enc, err := encode(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	}

	return encodeReflect(reflect.ValueOf(v), depth)
}

// encodeReflect handles maps with non-string-any signatures, slices of
// concrete element types, pointers and structs.
func encodeReflect(rv reflect.Value, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, &trkerrors.EncodingCycleError{Depth: MaxDepth}
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeReflect(rv.Elem(), depth+1)
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			enc, err := encode(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = enc
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			enc, err := encode(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case reflect.Struct:
		return encodeStruct(rv, depth)
	case reflect.Float32, reflect.Float64:
		return encodeFloat(rv.Float()), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.String:
		return rv.String(), nil
	default:
		return nil, fmt.Errorf("unsupported value kind: %s", rv.Kind())
	}
}

// encodeStruct flattens a struct into a mapping of its exported fields.
// Field names are taken from the json tag when present; fields tagged "-"
// or named with a leading underscore are dropped.
func encodeStruct(rv reflect.Value, depth int) (any, error) {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		if strings.HasPrefix(name, "_") {
			continue
		}

		enc, err := encode(rv.Field(i).Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[name] = enc
	}

	return out, nil
}

func encodeFloat(f float64) any {
	switch {
	case math.IsInf(f, 1):
		return MarkerInf
	case math.IsInf(f, -1):
		return MarkerNegInf
	case math.IsNaN(f):
		return MarkerNaN
	default:
		return f
	}
}
