package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	require.NoError(t, err)

	logger.Debug("peer launched", "pid", 42)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "peer launched", record["msg"])
	assert.EqualValues(t, 42, record["pid"])
}

func TestNewAutoUsesJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", "auto", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "text", &bytes.Buffer{})
	require.Error(t, err)

	_, err = New("info", "xml", &bytes.Buffer{})
	require.Error(t, err)
}
