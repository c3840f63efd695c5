// Package config handles library configuration loading and management.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all tunable settings for the batching subsystem.
type Config struct {
	Batching Batching `yaml:"batching"`
	Picking  Picking  `yaml:"picking"`
	Logging  Logging  `yaml:"logging"`
}

// Batching holds bucket and batch construction settings.
type Batching struct {
	// CapacityBytes caps the accumulated byte size of a single bucket. Zero
	// means "ask the device for its maximum safe buffer size at first use".
	CapacityBytes uint64 `yaml:"capacity_bytes"`
	// ComputeWorkers sets the worker pool size for parallel merge work.
	// Zero selects a default based on the CPU count.
	ComputeWorkers int `yaml:"compute_workers"`
	// ZUpSource converts incoming geometry from Z-up to Y-up at admission.
	ZUpSource bool `yaml:"z_up_source"`
	// Profiling enables interval-gated ingest/rebuild statistics logging.
	Profiling bool `yaml:"profiling"`
}

// Picking holds raycast settings.
type Picking struct {
	// MaxDistance discards hits farther than this value. Zero means unlimited.
	MaxDistance float32 `yaml:"max_distance"`
}

// Logging holds logging settings.
type Logging struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Batching: Batching{
			CapacityBytes:  0,
			ComputeWorkers: 0,
			ZUpSource:      false,
			Profiling:      false,
		},
		Picking: Picking{
			MaxDistance: 0,
		},
		Logging: Logging{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Load reads a YAML configuration file, applying defaults for any field the
// file does not set. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
