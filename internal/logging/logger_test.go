package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"agrosync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{}, config.AppConfig{Name: "agrosync"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewParsesLevel(t *testing.T) {
	logger, _, err := New(config.LoggingConfig{Level: "debug"}, config.AppConfig{})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, closer, err := New(
		config.LoggingConfig{Output: "file", FilePath: path},
		config.AppConfig{Name: "agrosync", Environment: "test"},
	)
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()

	logger.Info().Str("event", "started").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "agrosync", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "hello", entry["message"])
}

func TestNewFileOutputRequiresPath(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "file"}, config.AppConfig{})
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	base := zerolog.Nop()
	child := Component(&base, "syncer")
	assert.Equal(t, zerolog.Disabled, child.GetLevel())
}
