package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/quota-relay/internal/config"
)

func TestNew_FileOutputJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.log")
	logger, closer, err := New(config.LoggingConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("api", "taapi").Msg("quota exceeded")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"api":"taapi"`)
	assert.Contains(t, string(data), `"level":"warn"`)
}

func TestNew_BadOutputPath(t *testing.T) {
	t.Parallel()

	_, _, err := New(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "relay.log")})
	require.Error(t, err)
}

func TestNew_StdStreamsAreNotClosed(t *testing.T) {
	t.Parallel()

	_, closer, err := New(config.LoggingConfig{Output: "stderr"})
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	_, err = os.Stderr.Stat()
	require.NoError(t, err)
}

func TestShouldUsePretty(t *testing.T) {
	t.Parallel()

	assert.True(t, shouldUsePretty(config.LoggingConfig{Pretty: true, Format: "json"}, nil))
	assert.True(t, shouldUsePretty(config.LoggingConfig{Format: "pretty"}, nil))
	assert.False(t, shouldUsePretty(config.LoggingConfig{Format: "json"}, os.Stdout))
	assert.False(t, shouldUsePretty(config.LoggingConfig{Format: "console"}, nil))
}

func TestConsoleWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(buildConsoleWriter(&buf))
	logger.Warn().Str("api", "grok").Msg("backing off")

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "-> backing off")
	assert.Contains(t, out, "grok")
}
