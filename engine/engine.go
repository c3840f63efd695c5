// Package engine exposes the batched-mesh management subsystem: one
// MeshManager per scene owns the geometry store, the color bucket index, the
// live batch collection, the streaming coordinator, the partial-visibility
// cache, the color-overlay manager, and the spatial picker, and coordinates
// every operation between them.
package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"cogentcore.org/core/math32"
	"github.com/Carmen-Shannon/automation/tools/worker"
	"go.uber.org/zap"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/bucket"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
	"github.com/Carmen-Shannon/oxy-mesh/engine/overlay"
	"github.com/Carmen-Shannon/oxy-mesh/engine/picking"
	"github.com/Carmen-Shannon/oxy-mesh/engine/profiler"
	"github.com/Carmen-Shannon/oxy-mesh/engine/stream"
	"github.com/Carmen-Shannon/oxy-mesh/engine/visibility"
	"github.com/Carmen-Shannon/oxy-mesh/logger"
)

// ErrNoDevice is returned by operations that need a remembered device before
// any device has been supplied to the manager.
var ErrNoDevice = errors.New("engine: no device has been supplied yet")

// meshManager is the implementation of the MeshManager interface.
type meshManager struct {
	mu *sync.RWMutex

	store       geometry.Store
	index       bucket.Index
	coordinator stream.Coordinator
	partial     visibility.Cache
	overlays    overlay.Manager
	picker      picking.Picker

	// liveBatches and batchPos form the live draw collection: the slice is
	// what the host iterates per frame, the map gives O(1) lookup and
	// swap-removal by key.
	liveBatches []batch.Batch
	batchPos    map[string]int

	// lastDev and lastPipe are remembered from the most recent operation that
	// received them, so RebuildPendingBuckets can run without arguments.
	lastDev  device.Device
	lastPipe device.Pipeline

	capacityBytes     uint64
	zUpSource         bool
	pickerMaxDistance float32
	computeWorkers    int
	computePool       worker.DynamicWorkerPool
	prof              *profiler.Profiler
	profilingEnabled  bool
}

// MeshManager is the operation surface consumed by the rendering and
// application loop. All operations run to completion before returning; the
// manager never holds device work across calls.
type MeshManager interface {
	// AddFragment admits a fragment into the geometry store and its color
	// bucket. No GPU work happens here; batches are built lazily by the next
	// rebuild.
	//
	// Parameters:
	//   - f: the fragment to admit
	//
	// Returns:
	//   - geometry.Handle: the fragment's stable handle
	AddFragment(f common.MeshFragment) geometry.Handle

	// AppendFragments admits a group of fragments and makes them drawable.
	// When isStreaming is true the group becomes disposable fragment-batches
	// for immediate display and the full rebuild is deferred to
	// FinalizeStreaming; otherwise the affected buckets are rebuilt before the
	// call returns.
	//
	// Parameters:
	//   - fragments: the fragments to admit
	//   - dev: the device to allocate on (remembered for later operations)
	//   - pipe: the pipeline supplying uniform size and binding layout
	//   - isStreaming: whether this is one increment of a streaming ingestion
	//
	// Returns:
	//   - error: the first device error encountered
	AppendFragments(fragments []common.MeshFragment, dev device.Device, pipe device.Pipeline, isStreaming bool) error

	// RebuildPendingBuckets rebuilds the batch of every bucket marked dirty,
	// using the device and pipeline remembered from earlier calls. Buckets
	// found empty are torn down and removed. Returns ErrNoDevice if no device
	// has been seen yet.
	//
	// Returns:
	//   - error: ErrNoDevice or the first device error encountered
	RebuildPendingBuckets() error

	// FinalizeStreaming ends a streaming session: every outstanding
	// fragment-batch is released and evicted from the live collection, every
	// non-empty bucket is marked dirty, and exactly one full rebuild runs.
	//
	// Parameters:
	//   - dev: the device to allocate on
	//   - pipe: the pipeline supplying uniform size and binding layout
	//
	// Returns:
	//   - error: the first device error encountered
	FinalizeStreaming(dev device.Device, pipe device.Pipeline) error

	// UpdateColors recolors every fragment of each given owner, relocating
	// the fragments between buckets so forward and reverse indices stay in
	// agreement, then rebuilds all affected buckets.
	//
	// Parameters:
	//   - updates: owner id to new RGBA color
	//   - dev: the device to allocate on
	//   - pipe: the pipeline supplying uniform size and binding layout
	//
	// Returns:
	//   - error: the first device error encountered
	UpdateColors(updates map[uint32][4]float32, dev device.Device, pipe device.Pipeline) error

	// GetOrCreatePartialBatch returns the sub-batch drawing only the visible
	// members of a bucket, cached per bucket key. See visibility.Cache.
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
	GetOrCreatePartialBatch(bucketKey string, visibleIDs []uint32, dev device.Device, pipe device.Pipeline) (batch.Batch, error)

	// SetOverrides builds the overlay batches recoloring the given owners for
	// temporary analysis display. Original batches are never touched. See
	// overlay.Manager.
	//
	// Parameters:
	//   - overrides: owner id to override color
	//   - dev: the device to allocate on
	//   - pipe: the pipeline supplying uniform size and binding layout
	//
	// Returns:
	//   - error: the first device error encountered
	SetOverrides(overrides map[uint32][4]float32, dev device.Device, pipe device.Pipeline) error

	// ClearOverrides releases every overlay batch. O(batches).
	ClearOverrides()

	// Raycast finds the closest picked element along a ray. See
	// picking.Picker.
	//
	// Parameters:
	//   - origin: the ray origin
	//   - dir: the ray direction (any non-zero length)
	//   - opts: per-call filters (hidden set, isolation set, max distance)
	//
	// Returns:
	//   - picking.Hit: the closest hit
	//   - bool: false if nothing was hit
	Raycast(origin, dir math32.Vector3, opts ...picking.RaycastOption) (picking.Hit, bool)

	// ComputeSceneBounds returns the union of every owner's bounding box.
	ComputeSceneBounds() math32.Box3

	// BoundingBoxFor returns an owner's cached bounding box.
	//
	// Parameters:
	//   - ownerID: the owning element id
	//
	// Returns:
	//   - math32.Box3: the owner's bounds
	//   - bool: false if the owner has no vertices
	BoundingBoxFor(ownerID uint32) (math32.Box3, bool)

	// Batches returns a copy of the live draw collection, including
	// fragment-batches while a streaming session is in progress. Overlay
	// batches are separate; see OverlayBatches.
	Batches() []batch.Batch

	// OverlayBatches returns a copy of the live overlay batches.
	OverlayBatches() []batch.Batch

	// BatchFor returns the live batch for a bucket key.
	//
	// Parameters:
	//   - bucketKey: the key to look up
	//
	// Returns:
	//   - batch.Batch: the live batch
	//   - bool: false if no batch is live for the key
	BatchFor(bucketKey string) (batch.Batch, bool)

	// Store exposes the geometry store for CPU-side consumers.
	Store() geometry.Store

	// Clear releases every live batch, overlay batch, cached partial batch,
	// and outstanding fragment-batch, then resets the store, the bucket
	// index, and all counters.
	Clear()
}

var _ MeshManager = &meshManager{}

// NewMeshManager creates a manager with an empty geometry store and bucket
// index.
//
// Parameters:
//   - options: a variadic list of MeshManagerBuilderOption functions
//
// Returns:
//   - MeshManager: the new manager
func NewMeshManager(options ...MeshManagerBuilderOption) MeshManager {
	m := &meshManager{
		mu:             &sync.RWMutex{},
		index:          bucket.NewIndex(),
		batchPos:       make(map[string]int),
		computeWorkers: max(runtime.NumCPU()-1, 1),
	}
	for _, option := range options {
		option(m)
	}

	m.store = geometry.NewStore(geometry.WithZUpSource(m.zUpSource))
	m.coordinator = stream.NewCoordinator(stream.WithCapacityBytes(m.capacityBytes))
	m.partial = visibility.NewCache(m.store, m.index)
	m.overlays = overlay.NewManager(m.store, overlay.WithCapacityBytes(m.capacityBytes))
	m.picker = picking.NewPicker(m.store, picking.WithDefaultMaxDistance(m.pickerMaxDistance))

	// The pool is sized after options so WithComputeWorkers and WithConfig can
	// override the default. Merge fan-out is bursty, so workers idle-exit.
	m.computePool = worker.NewDynamicWorkerPool(m.computeWorkers, 256, 1*time.Second)

	if m.profilingEnabled {
		m.prof = profiler.NewProfiler()
	}
	return m
}

func (m *meshManager) AddFragment(f common.MeshFragment) geometry.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitLocked(f)
}

func (m *meshManager) AppendFragments(fragments []common.MeshFragment, dev device.Device, pipe device.Pipeline, isStreaming bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rememberLocked(dev, pipe)
	for i := range fragments {
		m.admitLocked(fragments[i])
	}
	if m.prof != nil {
		m.prof.RecordIngest(len(fragments))
	}

	if isStreaming {
		// Fragment admission marked buckets dirty, but the full rebuild is
		// deferred to FinalizeStreaming; the increment draws through
		// disposable fragment-batches until then.
		built, err := m.coordinator.IngestIncrement(fragments, dev, pipe)
		if err != nil {
			return err
		}
		for _, b := range built {
			m.insertBatchLocked(b)
		}
		m.tickProfilerLocked()
		return nil
	}

	if err := m.rebuildDirtyLocked(dev, pipe); err != nil {
		return err
	}
	m.tickProfilerLocked()
	return nil
}

func (m *meshManager) RebuildPendingBuckets() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastDev == nil {
		return ErrNoDevice
	}
	return m.rebuildDirtyLocked(m.lastDev, m.lastPipe)
}

func (m *meshManager) FinalizeStreaming(dev device.Device, pipe device.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rememberLocked(dev, pipe)
	released := m.coordinator.ReleaseAll()
	for _, key := range released {
		m.removeBatchLocked(key)
	}
	m.index.MarkAllDirty()

	logger.Log.Info("finalizing streaming session",
		zap.Int("fragmentBatchesReleased", len(released)),
		zap.Int("bucketsToRebuild", len(m.index.DirtyKeys())))

	if err := m.rebuildDirtyLocked(dev, pipe); err != nil {
		return err
	}
	m.tickProfilerLocked()
	return nil
}

func (m *meshManager) UpdateColors(updates map[uint32][4]float32, dev device.Device, pipe device.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rememberLocked(dev, pipe)
	capacity := m.capacityLocked()
	for ownerID, color := range updates {
		for _, h := range m.store.FragmentsOf(ownerID) {
			if !m.store.SetColor(h, color) {
				continue
			}
			frag, _ := m.store.Fragment(h)
			// Relocation: removal marks the old bucket dirty, admission marks
			// the new one, so both batches rebuild below.
			m.index.Remove(h)
			m.index.Admit(h, color, bucket.FragmentByteSize(&frag), capacity)
		}
	}
	return m.rebuildDirtyLocked(dev, pipe)
}

func (m *meshManager) GetOrCreatePartialBatch(bucketKey string, visibleIDs []uint32, dev device.Device, pipe device.Pipeline) (batch.Batch, error) {
	m.mu.Lock()
	m.rememberLocked(dev, pipe)
	m.mu.Unlock()

	return m.partial.GetOrCreate(bucketKey, visibleIDs, dev, pipe)
}

func (m *meshManager) SetOverrides(overrides map[uint32][4]float32, dev device.Device, pipe device.Pipeline) error {
	m.mu.Lock()
	m.rememberLocked(dev, pipe)
	m.mu.Unlock()

	return m.overlays.SetOverrides(overrides, dev, pipe)
}

func (m *meshManager) ClearOverrides() {
	m.overlays.ClearOverrides()
}

func (m *meshManager) Raycast(origin, dir math32.Vector3, opts ...picking.RaycastOption) (picking.Hit, bool) {
	return m.picker.Raycast(origin, dir, opts...)
}

func (m *meshManager) ComputeSceneBounds() math32.Box3 {
	return m.store.SceneBounds()
}

func (m *meshManager) BoundingBoxFor(ownerID uint32) (math32.Box3, bool) {
	return m.store.BoundingBoxFor(ownerID)
}

func (m *meshManager) Batches() []batch.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]batch.Batch, len(m.liveBatches))
	copy(out, m.liveBatches)
	return out
}

func (m *meshManager) OverlayBatches() []batch.Batch {
	return m.overlays.Batches()
}

func (m *meshManager) BatchFor(bucketKey string) (batch.Batch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.batchPos[bucketKey]
	if !ok {
		return nil, false
	}
	return m.liveBatches[pos], true
}

func (m *meshManager) Store() geometry.Store {
	return m.store
}

func (m *meshManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.liveBatches {
		b.Release()
	}
	m.liveBatches = nil
	m.batchPos = make(map[string]int)

	m.coordinator.Clear()
	m.partial.ReleaseAll()
	m.overlays.ClearOverrides()
	m.index.Clear()
	m.store.Clear()
	m.lastDev = nil
	m.lastPipe = nil
}

// admitLocked stores a fragment and routes it into its color bucket. Caller
// holds the write lock.
func (m *meshManager) admitLocked(f common.MeshFragment) geometry.Handle {
	fragBytes := bucket.FragmentByteSize(&f)
	h := m.store.AddFragment(f)
	m.index.Admit(h, f.Color, fragBytes, m.capacityLocked())
	return h
}

// rememberLocked retains the device and pipeline for device-argument-free
// operations. Caller holds the write lock.
func (m *meshManager) rememberLocked(dev device.Device, pipe device.Pipeline) {
	if dev != nil {
		m.lastDev = dev
	}
	if pipe != nil {
		m.lastPipe = pipe
	}
}

// capacityLocked resolves the bucket capacity: the configured override, then
// the remembered device's limit, then the conservative WebGPU default when
// fragments arrive before any device has been seen.
func (m *meshManager) capacityLocked() uint64 {
	if m.capacityBytes > 0 {
		return m.capacityBytes
	}
	if m.lastDev != nil {
		return m.lastDev.MaxBufferSize()
	}
	return device.DefaultMaxBufferSize
}

// rebuildDirtyLocked re-merges and re-uploads every dirty bucket. CPU merge
// work fans out across the compute pool; device buffer creation stays on the
// calling goroutine. Empty buckets are torn down and removed. Caller holds
// the write lock.
func (m *meshManager) rebuildDirtyLocked(dev device.Device, pipe device.Pipeline) error {
	dirty := m.index.DirtyKeys()
	if len(dirty) == 0 {
		return nil
	}

	type rebuildJob struct {
		key       string
		color     [4]float32
		fragments []common.MeshFragment
		merged    batch.MergedGeometry
	}
	jobs := make([]rebuildJob, 0, len(dirty))
	for _, key := range dirty {
		members := m.index.Members(key)
		if len(members) == 0 {
			// An emptied bucket is a removal, not an error.
			m.removeBatchLocked(key)
			m.partial.Invalidate(key)
			m.index.DropBucket(key)
			continue
		}
		color, _ := m.index.BaseColor(key)
		job := rebuildJob{key: key, color: color}
		for _, h := range members {
			if frag, ok := m.store.Fragment(h); ok {
				job.fragments = append(job.fragments, frag)
			}
		}
		jobs = append(jobs, job)
	}

	// Phase 1: parallel CPU merge. Workers are reused across rebuilds; a
	// WaitGroup gives the per-call barrier since the operation must complete
	// before returning.
	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		job := &jobs[i]
		m.computePool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				job.merged = batch.MergeGeometry(job.fragments)
				return nil, nil
			},
		})
	}
	wg.Wait()

	// Phase 2: serial device uploads. The old batch for a reused key is
	// always released before its replacement is installed.
	rebuilt := 0
	for i := range jobs {
		job := &jobs[i]
		b, err := batch.New(job.key, job.merged, job.color, dev, pipe)
		if err != nil {
			// Device exhaustion is fatal for this operation; remaining dirty
			// buckets stay dirty so a later rebuild can retry them.
			return fmt.Errorf("engine: rebuild bucket %q: %w", job.key, err)
		}
		m.removeBatchLocked(job.key)
		m.insertBatchLocked(b)
		m.partial.Invalidate(job.key)
		m.index.ClearDirty(job.key)
		rebuilt++
	}

	if m.prof != nil {
		m.prof.RecordRebuild(rebuilt)
	}
	logger.Log.Debug("rebuilt dirty buckets",
		zap.Int("rebuilt", rebuilt),
		zap.Int("liveBatches", len(m.liveBatches)))
	return nil
}

// insertBatchLocked appends a batch to the live collection. Caller holds the
// write lock.
func (m *meshManager) insertBatchLocked(b batch.Batch) {
	m.batchPos[b.Key()] = len(m.liveBatches)
	m.liveBatches = append(m.liveBatches, b)
}

// removeBatchLocked releases and swap-removes the live batch for a key, if
// any. Caller holds the write lock.
func (m *meshManager) removeBatchLocked(key string) {
	pos, ok := m.batchPos[key]
	if !ok {
		return
	}
	m.liveBatches[pos].Release()

	last := len(m.liveBatches) - 1
	if pos != last {
		moved := m.liveBatches[last]
		m.liveBatches[pos] = moved
		m.batchPos[moved.Key()] = pos
	}
	m.liveBatches = m.liveBatches[:last]
	delete(m.batchPos, key)
}

// tickProfilerLocked reports interval-gated statistics when profiling is
// enabled. Caller holds the write lock.
func (m *meshManager) tickProfilerLocked() {
	if m.prof != nil {
		m.prof.Tick(len(m.liveBatches), m.store.Len())
	}
}
