package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileConfigMissingFile(t *testing.T) {
	cfg, err := LoadFileConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &FileConfig{}, cfg)
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	data := `
state-dir: /var/lib/cloudlink
claim-url: https://claim.example.com
time-sync: true
ntp-server: time.example.com
node-name: Garden Light
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cloudlink", cfg.StateDir)
	assert.Equal(t, "https://claim.example.com", cfg.ClaimURL)
	assert.True(t, cfg.TimeSync)
	assert.Equal(t, "time.example.com", cfg.NTPServer)
	assert.Equal(t, "Garden Light", cfg.NodeName)
}

func TestLoadFileConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state-dir: [broken"), 0600))

	_, err := LoadFileConfig(path)
	assert.Error(t, err)
}
