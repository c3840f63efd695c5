// Package overlay builds the independent recolor batches used for temporary
// analysis display. Overlay batches are structurally ordinary batches kept in
// their own collection; the original batches are never touched, which is what
// makes clearing an overlay instant. The host draws overlay batches with an
// equal-depth comparison against already-rendered geometry so they recolor
// only pixels the original batch already wrote.
package overlay

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/bucket"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
	"github.com/Carmen-Shannon/oxy-mesh/logger"
	"go.uber.org/zap"
)

// manager is the implementation of the Manager interface.
type manager struct {
	mu            *sync.Mutex
	store         geometry.Store
	batches       []batch.Batch
	capacityBytes uint64
	overlayCount  uint64
}

// Manager owns the current set of overlay batches. Setting overrides is the
// expensive direction (geometry is re-merged per override color); clearing is
// O(batches) and never requires touching or rebuilding the originals. That
// asymmetry is intentional for interactive lens toggling.
type Manager interface {
	// SetOverrides replaces the current overlay with one batch per override
	// color (split further if a color group exceeds device capacity). Every
	// piece of each overridden owner is pulled from the geometry store and
	// merged with the override color in the batch uniform. Previous overlay
	// batches are released first; original batches are never modified.
	//
	// Parameters:
	//   - overrides: owner id to override color
	//   - dev: the device to allocate on
	//   - pipe: the pipeline supplying uniform size and binding layout
	//
	// Returns:
	//   - error: the first device error encountered; no overlay is left active
	SetOverrides(overrides map[uint32][4]float32, dev device.Device, pipe device.Pipeline) error

	// ClearOverrides releases every overlay batch. O(batches).
	ClearOverrides()

	// Batches returns a copy of the live overlay batches for drawing.
	Batches() []batch.Batch

	// Active reports whether any overlay batches are live.
	Active() bool
}

var _ Manager = &manager{}

// NewManager creates an overlay manager over a geometry store. Panics if
// store is nil.
//
// Parameters:
//   - store: the geometry store overridden geometry is read from (must not be nil)
//   - options: a variadic list of ManagerBuilderOption functions
//
// Returns:
//   - Manager: the new manager
func NewManager(store geometry.Store, options ...ManagerBuilderOption) Manager {
	if store == nil {
		panic("overlay: NewManager requires a non-nil geometry.Store")
	}
	m := &manager{
		mu:    &sync.Mutex{},
		store: store,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *manager) SetOverrides(overrides map[uint32][4]float32, dev device.Device, pipe device.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked()
	if len(overrides) == 0 {
		return nil
	}

	capacity := m.capacityBytes
	if capacity == 0 {
		capacity = dev.MaxBufferSize()
	}

	// Group overridden owners by quantized target color, preserving the
	// store's admission order for deterministic batch contents.
	type colorGroup struct {
		color     [4]float32
		fragments []common.MeshFragment
	}
	groups := make(map[string]*colorGroup)
	var order []string
	for _, ownerID := range m.store.AllOwnerIDs() {
		color, overridden := overrides[ownerID]
		if !overridden {
			continue
		}
		key := bucket.ColorKey(color)
		group, seen := groups[key]
		if !seen {
			group = &colorGroup{color: color}
			groups[key] = group
			order = append(order, key)
		}
		group.fragments = append(group.fragments, m.store.Pieces(ownerID)...)
	}

	built := 0
	for _, colorKey := range order {
		group := groups[colorKey]

		var chunk []common.MeshFragment
		chunkBytes := uint64(0)
		flush := func() error {
			if len(chunk) == 0 {
				return nil
			}
			m.overlayCount++
			key := fmt.Sprintf("%s~o%d", colorKey, m.overlayCount)
			b, err := batch.New(key, batch.MergeGeometry(chunk), group.color, dev, pipe)
			if err != nil {
				return err
			}
			m.batches = append(m.batches, b)
			built++
			chunk = nil
			chunkBytes = 0
			return nil
		}

		for i := range group.fragments {
			fragBytes := bucket.FragmentByteSize(&group.fragments[i])
			if len(chunk) > 0 && chunkBytes+fragBytes > capacity {
				if err := flush(); err != nil {
					m.clearLocked()
					return err
				}
			}
			chunk = append(chunk, group.fragments[i])
			chunkBytes += fragBytes
		}
		if err := flush(); err != nil {
			m.clearLocked()
			return err
		}
	}

	logger.Log.Debug("color overrides set",
		zap.Int("owners", len(overrides)),
		zap.Int("colors", len(order)),
		zap.Int("overlayBatches", built))
	return nil
}

func (m *manager) ClearOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *manager) Batches() []batch.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]batch.Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

func (m *manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches) > 0
}

// clearLocked releases every overlay batch. Caller holds the lock.
func (m *manager) clearLocked() {
	for _, b := range m.batches {
		b.Release()
	}
	m.batches = nil
}
