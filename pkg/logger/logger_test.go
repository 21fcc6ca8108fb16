package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: DebugLevel, Output: &buf, JSON: true})

	l.Error(errors.New("smtp down"), "reminder dispatch failed", "medication_id", "abc", "attempt", 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "reminder dispatch failed", entry["message"])
	assert.Equal(t, "smtp down", entry["error"])
	assert.Equal(t, "abc", entry["medication_id"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})

	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	l.WithContext(ctx).Info("dose logged")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}
