package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  page_size: 8192
  page_count: 64
  directory: /tmp/pages
logger:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8192, cfg.Storage.PageSize)
	require.Equal(t, 64, cfg.Storage.PageCount)
	require.Equal(t, "/tmp/pages", cfg.Storage.Directory)
	require.Equal(t, "debug", cfg.Logger.Level)
	// Untouched fields keep their defaults.
	require.Equal(t, "console", cfg.Logger.Format)
	require.Equal(t, "buffer-manager", cfg.Telemetry.ServiceName)
}

func TestLoadRejectsInvalidStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  page_size: 0
`), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}
