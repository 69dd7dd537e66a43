package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spartan/internal/config"
)

func withTempHome(t *testing.T) func() {
	t.Helper()
	tmp := t.TempDir()
	config.SetConfigDir(tmp)
	return func() { config.SetConfigDir("") }
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	defer withTempHome(t)()

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.NumCPU)
	assert.Equal(t, int32(3), cfg.QuantumTicks)
	assert.Len(t, cfg.Zones, 1)
}

func TestLoadValidConfig(t *testing.T) {
	defer withTempHome(t)()

	content := `num_cpu = 4
quantum_ticks = 5

[[zones]]
class = "lowmem"
available = true
start_pfn = 0
frames = 1024
`
	require.NoError(t, os.WriteFile(config.ConfigPath(), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumCPU)
	assert.Equal(t, int32(5), cfg.QuantumTicks)
	require.Len(t, cfg.Zones, 1)
	assert.Equal(t, uint32(1024), cfg.Zones[0].Frames)
}

func TestLoadMalformedTOML(t *testing.T) {
	defer withTempHome(t)()

	require.NoError(t, os.WriteFile(config.ConfigPath(), []byte("not valid [[ toml"), 0o644))

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config.toml")
}

func TestSetThenGetRoundtrip(t *testing.T) {
	defer withTempHome(t)()

	require.NoError(t, config.Set("num_cpu", "8"))

	val, err := config.Get("num_cpu")
	require.NoError(t, err)
	assert.Equal(t, "8", val)
}

func TestGetUnknownKey(t *testing.T) {
	defer withTempHome(t)()

	_, err := config.Get("nonexistent_key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestSetUnknownKey(t *testing.T) {
	defer withTempHome(t)()

	err := config.Set("nonexistent_key", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestEnsureDirCreatesDirectory(t *testing.T) {
	tmp := t.TempDir()
	newDir := filepath.Join(tmp, "subdir", ".spartan")
	config.SetConfigDir(newDir)
	defer config.SetConfigDir("")

	require.NoError(t, config.EnsureDir())

	info, err := os.Stat(newDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSetQuantumTicksRejectsNonInteger(t *testing.T) {
	defer withTempHome(t)()

	err := config.Set("quantum_ticks", "not-a-number")
	require.Error(t, err)
}
