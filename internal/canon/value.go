package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the normalized value tree.
// Only Null, Bool, String, Number, Array and Object implement it.
type Value interface {
	canonValue() // Sealed - only these types implement it
}

// Null is the canonical null.
type Null struct{}

func (Null) canonValue() {}

// Bool is a canonical boolean.
type Bool bool

func (Bool) canonValue() {}

// String is a canonical string. Normalize stores it NFC normalized.
type String string

func (String) canonValue() {}

// Number holds the canonical decimal spelling of a number.
// Two numbers are equal exactly when their spellings are equal.
type Number string

func (Number) canonValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) canonValue() {}

// Object maps keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) canonValue() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's native string comparison orders by UTF-8 bytes, which differs for
// characters outside the Basic Multilingual Plane.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// ErrTrailingData is returned by Decode when the input holds more than one JSON value.
var ErrTrailingData = errors.New("trailing data after JSON value")

// Decode parses JSON text into a normalized Value.
// Numbers are read as json.Number so no precision is lost before normalization.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, ErrTrailingData
	}

	return Normalize(raw)
}

// Interface converts a Value back to plain Go values
// (map[string]any, []any, string, bool, json.Number, nil).
func Interface(v Value) any {
	switch val := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(val)
	case String:
		return string(val)
	case Number:
		return json.Number(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Interface(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Interface(elem)
		}
		return out
	default:
		return nil
	}
}
