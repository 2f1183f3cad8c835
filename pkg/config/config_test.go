package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_AppliesPortDefault(t *testing.T) {
	path := writeTempConfig(t, `
models:
  providers:
    fake:
      adapterType: custom
      endpoint: http://localhost:9999
      models:
        - {type: llm, name: fake-llm}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, "custom", cfg.Models.Providers["fake"].AdapterType)
	assert.Equal(t, []AdvertisedModel{{Type: "llm", Name: "fake-llm"}}, cfg.Models.Providers["fake"].Models)
}

func TestLoad_RejectsUnknownAdapterType(t *testing.T) {
	path := writeTempConfig(t, `
port: 4000
models:
  providers:
    bad:
      adapterType: gemini
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	path := writeTempConfig(t, `port: 70000`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
