package failure

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_DropsSensitiveKeys(t *testing.T) {
	out := Sanitize(map[string]any{
		"access_token":  "t",
		"client_SECRET": "s",
		"Password":      "p",
		"authorization": "a",
		"set-cookie":    "c",
		"api_key":       "k",
		"payload":       map[string]any{"value_kg": 80},
		"raw_body":      "{}",
		"stage":         "compute",
	})
	assert.Equal(t, map[string]any{"stage": "compute"}, out)
}

func TestSanitize_DropsBytes(t *testing.T) {
	out := Sanitize(map[string]any{
		"blob":   []byte("secret"),
		"nested": map[string]any{"blob": []byte("x"), "ok": "y"},
	})
	assert.Equal(t, map[string]any{"nested": map[string]any{"ok": "y"}}, out)
}

func TestSanitize_TruncatesStrings(t *testing.T) {
	out := Sanitize(map[string]any{"message": strings.Repeat("a", 300)})
	assert.Len(t, out["message"], maxStringRunes)
}

func TestSanitize_CapsNesting(t *testing.T) {
	deep := map[string]any{"l1": map[string]any{"l2": map[string]any{"l3": map[string]any{"l4": map[string]any{"l5": "x"}}}}}
	out := Sanitize(deep)

	l1 := out["l1"].(map[string]any)
	l2 := l1["l2"].(map[string]any)
	l3 := l2["l3"].(map[string]any)
	assert.Equal(t, depthMarker, l3["l4"])
}

func TestSanitize_PlainValues(t *testing.T) {
	type limits struct {
		Max int `json:"max"`
	}
	out := Sanitize(map[string]any{
		"count":  3,
		"err":    errors.New("boom"),
		"limits": limits{Max: 5},
		"none":   nil,
		"ok":     true,
	})
	require.Len(t, out, 5)
	assert.Equal(t, json.Number("3"), out["count"])
	assert.Equal(t, "boom", out["err"])
	assert.Equal(t, map[string]any{"max": json.Number("5")}, out["limits"])
	assert.Nil(t, out["none"])
	assert.Equal(t, true, out["ok"])
}

func TestSanitize_Nil(t *testing.T) {
	out := Sanitize(nil)
	require.NotNil(t, out)
	assert.Empty(t, out)
}
