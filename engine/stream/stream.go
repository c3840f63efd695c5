// Package stream manages the disposable fragment-batches built during
// progressive ingestion. Each streamed increment becomes one or more small
// batches for immediate display instead of triggering a full re-merge, which
// keeps incremental loading linear instead of quadratic. At finalization every
// fragment-batch is released and the owning manager performs the single full
// rebuild.
package stream

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/bucket"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
	"github.com/Carmen-Shannon/oxy-mesh/logger"
	"go.uber.org/zap"
)

// coordinator is the implementation of the Coordinator interface.
type coordinator struct {
	mu            *sync.Mutex
	outstanding   []batch.Batch
	capacityBytes uint64
	fragCounter   uint64
}

// Coordinator builds and tracks the temporary fragment-batches of a streaming
// ingestion session. Fragment-batch keys live in a "~fN" suffix namespace so
// they can share the live draw collection with bucket batches without
// colliding.
type Coordinator interface {
	// IngestIncrement groups an increment's fragments by quantized color,
	// splits any group that alone would exceed device capacity, and builds one
	// disposable fragment-batch per (possibly split) group. The returned
	// batches are also tracked as outstanding until ReleaseAll. On a device
	// error the batches already built for this increment are released before
	// the error is returned.
	//
	// Parameters:
	//   - fragments: the increment's fragments
	//   - dev: the device to allocate on
	//   - pipe: the pipeline supplying uniform size and binding layout
	//
	// Returns:
	//   - []batch.Batch: the fragment-batches built for this increment
	//   - error: the first device error encountered
	IngestIncrement(fragments []common.MeshFragment, dev device.Device, pipe device.Pipeline) ([]batch.Batch, error)

	// Outstanding returns a copy of every live fragment-batch.
	Outstanding() []batch.Batch

	// Active reports whether any fragment-batches are outstanding.
	Active() bool

	// ReleaseAll releases every outstanding fragment-batch's device resources
	// and returns their keys so the caller can evict them from its live draw
	// collection. This is the first step of streaming finalization.
	//
	// Returns:
	//   - []string: the keys of the batches that were released
	ReleaseAll() []string

	// Clear is ReleaseAll plus a reset of the fragment-batch key counter. Used
	// by full scene clears.
	Clear()
}

var _ Coordinator = &coordinator{}

// NewCoordinator creates a streaming coordinator with no outstanding batches.
//
// Parameters:
//   - options: a variadic list of CoordinatorBuilderOption functions
//
// Returns:
//   - Coordinator: the new coordinator
func NewCoordinator(options ...CoordinatorBuilderOption) Coordinator {
	c := &coordinator{
		mu: &sync.Mutex{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *coordinator) IngestIncrement(fragments []common.MeshFragment, dev device.Device, pipe device.Pipeline) ([]batch.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacity := c.capacityBytes
	if capacity == 0 {
		capacity = dev.MaxBufferSize()
	}

	// Group the increment by quantized color, preserving first-seen group
	// order so repeated increments of one model stream deterministically.
	groups := make(map[string][]common.MeshFragment)
	var order []string
	for i := range fragments {
		key := bucket.ColorKey(fragments[i].Color)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], fragments[i])
	}

	var built []batch.Batch
	releaseBuilt := func() {
		for _, b := range built {
			b.Release()
		}
	}

	for _, colorKey := range order {
		group := groups[colorKey]
		color := group[0].Color

		// Split the group so no single fragment-batch exceeds capacity. A
		// chunk always takes at least one fragment; a lone oversized fragment
		// is passed through and fails at buffer creation like any other
		// oversized allocation.
		var chunk []common.MeshFragment
		chunkBytes := uint64(0)
		flush := func() error {
			if len(chunk) == 0 {
				return nil
			}
			c.fragCounter++
			key := fmt.Sprintf("%s~f%d", colorKey, c.fragCounter)
			b, err := batch.New(key, batch.MergeGeometry(chunk), color, dev, pipe)
			if err != nil {
				return err
			}
			built = append(built, b)
			chunk = nil
			chunkBytes = 0
			return nil
		}

		for i := range group {
			fragBytes := bucket.FragmentByteSize(&group[i])
			if len(chunk) > 0 && chunkBytes+fragBytes > capacity {
				if err := flush(); err != nil {
					releaseBuilt()
					return nil, err
				}
			}
			chunk = append(chunk, group[i])
			chunkBytes += fragBytes
		}
		if err := flush(); err != nil {
			releaseBuilt()
			return nil, err
		}
	}

	c.outstanding = append(c.outstanding, built...)
	logger.Log.Debug("streamed increment",
		zap.Int("fragments", len(fragments)),
		zap.Int("fragmentBatches", len(built)),
		zap.Int("outstanding", len(c.outstanding)))
	return built, nil
}

func (c *coordinator) Outstanding() []batch.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]batch.Batch, len(c.outstanding))
	copy(out, c.outstanding)
	return out
}

func (c *coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding) > 0
}

func (c *coordinator) ReleaseAll() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseAllLocked()
}

func (c *coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseAllLocked()
	c.fragCounter = 0
}

// releaseAllLocked releases every outstanding fragment-batch. Caller holds the
// lock.
func (c *coordinator) releaseAllLocked() []string {
	keys := make([]string, 0, len(c.outstanding))
	for _, b := range c.outstanding {
		keys = append(keys, b.Key())
		b.Release()
	}
	c.outstanding = nil
	return keys
}
