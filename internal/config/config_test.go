package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Relays, cfg.Relays)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("relays:\n  - wss://example.com\npatch_size_threshold_bytes: 1024\n"), 0o600)
	require.NoError(t, err)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://example.com"}, cfg.Relays)
	assert.EqualValues(t, 1024, cfg.PatchSizeThresholdBytes)
}

func TestResolvePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ResolvePath("~/.config/ngit")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "ngit"), resolved)
}
