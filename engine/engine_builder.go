package engine

import (
	"github.com/Carmen-Shannon/oxy-mesh/config"
)

// MeshManagerBuilderOption is a functional option for configuring a
// MeshManager. Use the With* functions to create options that are applied
// directly to the manager instance.
type MeshManagerBuilderOption func(*meshManager)

// WithCapacityBytes overrides the bucket capacity used for splitting. Zero
// (the default) takes the device's MaxBufferSize at first use.
//
// Parameters:
//   - capacity: the bucket capacity in bytes
//
// Returns:
//   - MeshManagerBuilderOption: option function to apply
func WithCapacityBytes(capacity uint64) MeshManagerBuilderOption {
	return func(m *meshManager) {
		m.capacityBytes = capacity
	}
}

// WithComputeWorkers sets the worker pool size for parallel merge work during
// rebuilds. Values <= 0 keep the default (CPU count - 1, minimum 1).
//
// Parameters:
//   - workers: the worker count
//
// Returns:
//   - MeshManagerBuilderOption: option function to apply
func WithComputeWorkers(workers int) MeshManagerBuilderOption {
	return func(m *meshManager) {
		if workers > 0 {
			m.computeWorkers = workers
		}
	}
}

// WithZUpSource converts incoming geometry from Z-up to Y-up at admission.
// Building-model exporters typically emit Z-up data.
//
// Parameters:
//   - enabled: whether incoming geometry is Z-up
//
// Returns:
//   - MeshManagerBuilderOption: option function to apply
func WithZUpSource(enabled bool) MeshManagerBuilderOption {
	return func(m *meshManager) {
		m.zUpSource = enabled
	}
}

// WithProfiling enables interval-gated ingest and rebuild statistics logging.
//
// Parameters:
//   - enabled: if true, enables statistics logging
//
// Returns:
//   - MeshManagerBuilderOption: option function to apply
func WithProfiling(enabled bool) MeshManagerBuilderOption {
	return func(m *meshManager) {
		m.profilingEnabled = enabled
	}
}

// WithPickingMaxDistance sets a default hit-distance cutoff for raycasts.
// Values <= 0 mean unlimited.
//
// Parameters:
//   - distance: the default cutoff distance
//
// Returns:
//   - MeshManagerBuilderOption: option function to apply
func WithPickingMaxDistance(distance float32) MeshManagerBuilderOption {
	return func(m *meshManager) {
		if distance > 0 {
			m.pickerMaxDistance = distance
		}
	}
}

// WithConfig applies a loaded configuration file to the manager. Individual
// With* options given after this one still win.
//
// Parameters:
//   - cfg: the configuration to apply (nil is ignored)
//
// Returns:
//   - MeshManagerBuilderOption: option function to apply
func WithConfig(cfg *config.Config) MeshManagerBuilderOption {
	return func(m *meshManager) {
		if cfg == nil {
			return
		}
		m.capacityBytes = cfg.Batching.CapacityBytes
		if cfg.Batching.ComputeWorkers > 0 {
			m.computeWorkers = cfg.Batching.ComputeWorkers
		}
		m.zUpSource = cfg.Batching.ZUpSource
		m.profilingEnabled = cfg.Batching.Profiling
		if cfg.Picking.MaxDistance > 0 {
			m.pickerMaxDistance = cfg.Picking.MaxDistance
		}
	}
}
