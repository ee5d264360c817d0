package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielhendel/oli-sub001/internal/canon"
)

// timeLayout is fixed width so that text comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalCanonical converts v to canonical JSON TEXT for storage.
// Stored documents are always canonical so their hashes can be recomputed.
func marshalCanonical(v any) (string, error) {
	data, err := canon.Serialize(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalObject parses stored JSON TEXT into a map.
// Numbers stay json.Number so values beyond 2^53 keep their precision.
func unmarshalObject(data string) (map[string]any, error) {
	v, err := canon.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	obj, ok := canon.Interface(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored value is not an object")
	}
	return obj, nil
}

// unmarshalJSON decodes stored metadata columns into typed fields.
func unmarshalJSON(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

// marshalObject stores a nil map as {} so reads always yield an object.
func marshalObject(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalCanonical(m)
}
