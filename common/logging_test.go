package common

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{
		JSON:    true,
		Service: "artifacts",
		Version: "v1.2.3",
		Output:  &buf,
	})

	log.Info("hello", "key", "value")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "artifacts", record["service"])
	assert.Equal(t, "v1.2.3", record["version"])
	assert.Equal(t, "value", record["key"])
}

func TestSetupLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogger(&LoggingOpts{Output: &buf})
	log.Debug("hidden")
	assert.Empty(t, buf.String())

	buf.Reset()
	log = SetupLogger(&LoggingOpts{Debug: true, Output: &buf})
	log.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
