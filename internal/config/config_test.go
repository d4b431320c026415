package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50, cfg.Collector.MaxStalls)
	assert.Equal(t, 10, cfg.Collector.ProgressEvery)
	assert.Equal(t, 2*time.Second, Ms(cfg.Collector.LoadWaitMs))
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "full", cfg.Export.CSVLayout)
	assert.Equal(t, ".", cfg.OutputDir())
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Collector.MaxStalls = 20
	cfg.Watch.Notes = []string{"https://www.xiaohongshu.com/explore/abc"}
	cfg.Selectors.Modal = "#noteContainer"
	require.NoError(t, cfg.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 20, loaded.Collector.MaxStalls)
	assert.Equal(t, cfg.Watch.Notes, loaded.Watch.Notes)
	assert.Equal(t, "#noteContainer", loaded.SelectorSet().Modal)
	// overrides do not wipe the rest of the table
	assert.NotEmpty(t, loaded.SelectorSet().Items)
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[collector]\nmax_stalls = 5\n"), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Collector.MaxStalls)
	assert.Equal(t, 1200, cfg.Collector.ScrollWaitMs)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("XHSC_LOG_LEVEL", "debug")
	t.Setenv("XHSC_HEADLESS", "false")
	t.Setenv("XHSC_OUTPUT_DIR", "/tmp/out")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/tmp/out", cfg.OutputDir())
}
