// Package visibility caches per-bucket sub-batches that contain only the
// currently visible members of a bucket. A partially hidden bucket then still
// renders as one draw call instead of one per element. Cache identity is the
// bucket key plus an FNV-1a hash over the sorted visible-id set, so repeated
// queries with the same visibility reuse the existing device resources with no
// allocation.
package visibility

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/bucket"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
)

// entry is one cached sub-batch and the visibility hash it was built for.
type entry struct {
	visibleHash uint64
	subBatch    batch.Batch
}

// cache is the implementation of the Cache interface.
type cache struct {
	mu      *sync.Mutex
	store   geometry.Store
	index   bucket.Index
	entries map[string]*entry
}

// Cache builds and reuses partial-visibility sub-batches, one cached entry per
// bucket key. A changed visible set for a bucket releases and replaces that
// bucket's previous sub-batch; other buckets' entries are untouched.
type Cache interface {
	// GetOrCreate returns the sub-batch drawing only the visible members of a
	// bucket. Fragments are filtered to bucket members whose owner is in
	// visibleIDs and whose color matches the bucket's base color within the
	// merge tolerance, so differently-colored pieces of a visible owner are
	// not imported from other buckets. An identical bucket key and visible set
	// returns the cached batch with no allocation. An empty filtered set
	// returns (nil, nil) and releases any prior entry for the key. The input
	// slice is never mutated.
	//
	// Parameters:
	//   - bucketKey: the bucket to filter
	//   - visibleIDs: the owner ids currently visible
	//   - dev: the device to allocate on
	//   - pipe: the pipeline supplying uniform size and binding layout
	//
	// Returns:
	//   - batch.Batch: the cached or freshly built sub-batch, nil when empty
	//   - error: the first device error encountered
	GetOrCreate(bucketKey string, visibleIDs []uint32, dev device.Device, pipe device.Pipeline) (batch.Batch, error)

	// Invalidate releases and forgets the cached sub-batch for one bucket.
	// Called whenever the bucket's membership or geometry changes.
	//
	// Parameters:
	//   - bucketKey: the bucket whose entry to drop
	Invalidate(bucketKey string)

	// ReleaseAll releases every cached sub-batch.
	ReleaseAll()

	// Len returns the number of cached entries.
	Len() int
}

var _ Cache = &cache{}

// NewCache creates an empty partial-visibility cache over a geometry store and
// bucket index. Panics if either is nil.
//
// Parameters:
//   - store: the geometry store fragments are read from (must not be nil)
//   - index: the bucket index supplying membership and base colors (must not be nil)
//
// Returns:
//   - Cache: the new cache
func NewCache(store geometry.Store, index bucket.Index) Cache {
	if store == nil {
		panic("visibility: NewCache requires a non-nil geometry.Store")
	}
	if index == nil {
		panic("visibility: NewCache requires a non-nil bucket.Index")
	}
	return &cache{
		mu:      &sync.Mutex{},
		store:   store,
		index:   index,
		entries: make(map[string]*entry),
	}
}

func (c *cache) GetOrCreate(bucketKey string, visibleIDs []uint32, dev device.Device, pipe device.Pipeline) (batch.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := hashVisibleSet(visibleIDs)
	if cached, ok := c.entries[bucketKey]; ok && cached.visibleHash == hash {
		return cached.subBatch, nil
	}

	baseColor, ok := c.index.BaseColor(bucketKey)
	if !ok {
		c.invalidateLocked(bucketKey)
		return nil, nil
	}

	visible := make(map[uint32]struct{}, len(visibleIDs))
	for _, id := range visibleIDs {
		visible[id] = struct{}{}
	}

	var fragments []common.MeshFragment
	for _, h := range c.index.Members(bucketKey) {
		frag, ok := c.store.Fragment(h)
		if !ok {
			continue
		}
		if _, isVisible := visible[frag.OwnerID]; !isVisible {
			continue
		}
		if !common.ColorsWithinTolerance(frag.Color, baseColor, common.ColorMergeTolerance) {
			continue
		}
		fragments = append(fragments, frag)
	}

	// The previous sub-batch for this key is stale either way: destroyed and
	// replaced on a non-empty result, destroyed on an empty one.
	c.invalidateLocked(bucketKey)

	if len(fragments) == 0 {
		return nil, nil
	}

	key := fmt.Sprintf("%s~v%x", bucketKey, hash)
	sub, err := batch.New(key, batch.MergeGeometry(fragments), baseColor, dev, pipe)
	if err != nil {
		return nil, err
	}
	c.entries[bucketKey] = &entry{visibleHash: hash, subBatch: sub}
	return sub, nil
}

func (c *cache) Invalidate(bucketKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(bucketKey)
}

func (c *cache) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, cached := range c.entries {
		cached.subBatch.Release()
		delete(c.entries, key)
	}
}

func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// invalidateLocked releases one entry. Caller holds the lock.
func (c *cache) invalidateLocked(bucketKey string) {
	if cached, ok := c.entries[bucketKey]; ok {
		cached.subBatch.Release()
		delete(c.entries, bucketKey)
	}
}

// hashVisibleSet is the FNV-1a 64-bit hash over the ascending-sorted visible
// ids, little-endian encoded. Sorting happens on a copy so the caller's slice
// order is preserved.
func hashVisibleSet(visibleIDs []uint32) uint64 {
	sorted := common.SortedCopy(visibleIDs)
	hasher := fnv.New64a()
	var buf [4]byte
	for _, id := range sorted {
		binary.LittleEndian.PutUint32(buf[:], id)
		hasher.Write(buf[:])
	}
	return hasher.Sum64()
}
