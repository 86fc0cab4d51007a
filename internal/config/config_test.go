package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configuration.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"serverPort": 7070`)
	assert.Contains(t, string(data), `"jwtExpireSeconds": 604800`)
}

func TestLoadExistingFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configuration.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"serverPort": 9000, "updateDatabase": false}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.False(t, cfg.UpdateDatabase)

	// Fields the file leaves out keep their defaults.
	assert.Equal(t, "smtp.gmail.com", cfg.SMTPHost)
	assert.Equal(t, "abc123", cfg.JWTSecretKey)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configuration.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
