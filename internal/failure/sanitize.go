package failure

import (
	"strings"
	"unicode/utf8"

	"github.com/danielhendel/oli-sub001/internal/canon"
)

const (
	maxStringRunes  = 256
	maxDetailsDepth = 4
	depthMarker     = "[truncated]"
)

// sensitiveKeys are matched as case-insensitive substrings of detail keys.
var sensitiveKeys = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"cookie",
	"api_key",
	"apikey",
	"payload",
	"raw",
	"body",
}

// Sanitize returns a copy of details safe to persist. Keys that may carry
// credentials or health payloads are dropped, byte slices are dropped,
// strings are truncated and deep nesting is cut off. The result only holds
// plain JSON values so it reads back from storage unchanged.
// A nil map yields an empty one.
func Sanitize(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitive(k) {
			continue
		}
		if clean, ok := sanitizeValue(v, 1); ok {
			out[k] = clean
		}
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func sanitizeValue(v any, depth int) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case []byte:
		return nil, false
	case error:
		return truncate(val.Error()), true
	case string:
		return truncate(val), true
	case map[string]any:
		return sanitizeMap(val, depth), true
	case []any:
		return sanitizeList(val, depth), true
	}

	normalized, err := canon.Normalize(v)
	if err != nil {
		return nil, false
	}
	switch plain := canon.Interface(normalized).(type) {
	case map[string]any:
		return sanitizeMap(plain, depth), true
	case []any:
		return sanitizeList(plain, depth), true
	case string:
		return truncate(plain), true
	default:
		return plain, true
	}
}

func sanitizeMap(m map[string]any, depth int) any {
	if depth >= maxDetailsDepth {
		return depthMarker
	}
	out := make(map[string]any, len(m))
	for k, elem := range m {
		if isSensitive(k) {
			continue
		}
		if clean, ok := sanitizeValue(elem, depth+1); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeList(list []any, depth int) any {
	if depth >= maxDetailsDepth {
		return depthMarker
	}
	out := make([]any, 0, len(list))
	for _, elem := range list {
		if clean, ok := sanitizeValue(elem, depth+1); ok {
			out = append(out, clean)
		}
	}
	return out
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxStringRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxStringRunes])
}
