package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/middleware"
)

func TestWithContext_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	ctx := middleware.WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "ingested", UserID("u1"), RawEventID("k1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-42", entry[FieldRequestID])
	assert.Equal(t, "u1", entry[FieldUserID])
	assert.Equal(t, "k1", entry[FieldRawEventID])
	assert.Equal(t, "ingested", entry["msg"])
}

func TestWithContext_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")
	logger.WarnContext(context.Background(), "hello", Error(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, has := entry[FieldRequestID]
	assert.False(t, has)
	assert.Equal(t, "boom", entry[FieldError])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "text")
	logger.InfoContext(context.Background(), "dropped")
	assert.Empty(t, buf.String())

	logger.ErrorContext(context.Background(), "kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
