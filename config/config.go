// Package config loads the YAML configuration for the buffer manager's
// binaries: the storage pool parameters plus the logging and telemetry setup.
package config

import (
	"fmt"
	"os"

	"github.com/matthewmarion/buffer-manager/pkg/logger"
	"github.com/matthewmarion/buffer-manager/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// StorageConfig describes the buffer pool and its backing segment files.
type StorageConfig struct {
	// PageSize is the size in bytes of every page.
	PageSize int `yaml:"page_size"`
	// PageCount is the maximum number of pages resident in memory at once.
	PageCount int `yaml:"page_count"`
	// Directory holds the per-segment data files.
	Directory string `yaml:"directory"`
}

// Config is the root configuration document.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a configuration suitable for local use.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			PageSize:  4096,
			PageCount: 1024,
			Directory: "data",
		},
		Logger: logger.Config{
			Level:   "info",
			Format:  "console",
			Service: logger.DefaultService,
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "buffer-manager",
			PrometheusPort: 9090,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the storage parameters.
func (c Config) Validate() error {
	if c.Storage.PageSize < 1 {
		return fmt.Errorf("storage.page_size must be at least 1, got %d", c.Storage.PageSize)
	}
	if c.Storage.PageCount < 1 {
		return fmt.Errorf("storage.page_count must be at least 1, got %d", c.Storage.PageCount)
	}
	if c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory must not be empty")
	}
	return nil
}
