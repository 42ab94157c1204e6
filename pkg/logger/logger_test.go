package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedFieldsAreEmitted(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", JSON: true, Output: &buf})

	log.WithSenderID("buyer-1").WithMessageID("m-1").LogError(errors.New("boom"), "pipeline failed", "stage", "analyzed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline failed", entry["msg"])
	assert.Equal(t, "buyer-1", entry["sender_id"])
	assert.Equal(t, "m-1", entry["message_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "analyzed", entry["stage"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestEmptyScopeReturnsSameLogger(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithSenderID(""))
	assert.Same(t, log, log.WithRequestID(""))
}

func TestGetGlobalNeverNil(t *testing.T) {
	SetGlobal(nil)
	assert.NotNil(t, GetGlobal())
}
