// Package config provides the Config struct and loader for .robopack.yaml
// project-level configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values for project configuration. These are the single source of
// truth — New() references them and no other code should duplicate them.
const (
	ConfigFileName = ".robopack.yaml"

	DefaultDataDir   = "data"
	DefaultChunkSize = 1000

	// DefaultWorkers of zero means one worker per available CPU.
	DefaultWorkers = 0

	DefaultNoopThreshold = 0.0
)

// Config is the top-level configuration loaded from .robopack.yaml. Zero
// values mean "use the default"; Load fills them in.
type Config struct {
	// DataDir is the dataset root holding raw/ and processed/ trees.
	DataDir string `yaml:"data_dir,omitempty"`
	// ChunkSize is the leading-dimension chunk length for store channels.
	ChunkSize int `yaml:"chunk_size,omitempty"`
	// Workers bounds the decode and write pools. Zero means NumCPU.
	Workers int `yaml:"workers,omitempty"`
	// NoopThreshold is recorded in the store attrs (reserved for no-op
	// action filtering).
	NoopThreshold *float64 `yaml:"noop_threshold,omitempty"`
}

// New returns a Config populated with defaults.
func New() *Config {
	noop := DefaultNoopThreshold
	return &Config{
		DataDir:       DefaultDataDir,
		ChunkSize:     DefaultChunkSize,
		Workers:       DefaultWorkers,
		NoopThreshold: &noop,
	}
}

// Load reads <dir>/.robopack.yaml and applies defaults for every unset
// field. A missing file yields the defaults without error.
func Load(dir string) (*Config, error) {
	cfg := New()

	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.DataDir != "" {
		cfg.DataDir = loaded.DataDir
	}
	if loaded.ChunkSize != 0 {
		cfg.ChunkSize = loaded.ChunkSize
	}
	if loaded.Workers != 0 {
		cfg.Workers = loaded.Workers
	}
	if loaded.NoopThreshold != nil {
		cfg.NoopThreshold = loaded.NoopThreshold
	}

	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("%s: chunk_size must be positive, got %d", path, cfg.ChunkSize)
	}
	return cfg, nil
}
