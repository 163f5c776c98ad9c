package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	d := Default()
	require.Equal(t, 64, d.CacheCapacity)
	require.Equal(t, int64(2000), d.WriteBehindIntervalMs)
	require.Equal(t, 8, d.SectorsPerSlot())
	require.Equal(t, 64, d.FrameCapacity)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_capacity: 2\ntimer_freq: 19\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.CacheCapacity)
	require.Equal(t, 19, cfg.TimerFreq)
	// Untouched fields keep their defaults.
	require.Equal(t, int64(2000), cfg.WriteBehindIntervalMs)
	require.Equal(t, 512, cfg.SectorSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
