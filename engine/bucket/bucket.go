// Package bucket maintains the color bucket index: the mapping from quantized
// fragment colors to capacity-bounded buckets, the reverse mapping from
// fragment handles back to their bucket, and the dirty set that drives batch
// rebuilds. Splitting happens at admission time, so a bucket that has stopped
// receiving fragments never needs retroactive splitting.
package bucket

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
	"github.com/Carmen-Shannon/oxy-mesh/logger"
	"go.uber.org/zap"
)

// QuantizationLevels is the number of integer levels each color channel is
// quantized to when forming a bucket key. Colors that land on the same level
// in every channel share a bucket; that lossy grouping is the point.
const QuantizationLevels = 1000

// ColorKey quantizes an RGBA color into the delimited string key that names
// its base bucket, e.g. "500-500-500-1000" for half-gray.
//
// Parameters:
//   - color: the RGBA color, channels in [0, 1]
//
// Returns:
//   - string: the quantized key
func ColorKey(color [4]float32) string {
	q := func(c float32) int {
		level := int(math.Round(float64(c) * QuantizationLevels))
		if level < 0 {
			return 0
		}
		if level > QuantizationLevels {
			return QuantizationLevels
		}
		return level
	}
	return fmt.Sprintf("%d-%d-%d-%d", q(color[0]), q(color[1]), q(color[2]), q(color[3]))
}

// FragmentByteSize is the capacity cost of one fragment: its vertex count
// times the interleaved vertex stride. Tracked incrementally by the index,
// never recomputed by rescanning fragments.
//
// Parameters:
//   - f: the fragment to size
//
// Returns:
//   - uint64: the fragment's vertex-buffer byte cost
func FragmentByteSize(f *common.MeshFragment) uint64 {
	return uint64(f.VertexCount()) * batch.VertexStrideBytes
}

// bucketState holds one bucket's bookkeeping.
type bucketState struct {
	baseColor        [4]float32
	accumulatedBytes uint64
	members          []geometry.Handle
	memberPos        map[geometry.Handle]int
	dirty            bool
}

// index is the implementation of the Index interface.
type index struct {
	mu            *sync.RWMutex
	buckets       map[string]*bucketState
	activeByColor map[string]string
	handleBucket  map[geometry.Handle]string
	handleBytes   map[geometry.Handle]uint64
	suffixCounter uint64
	oversizeOnce  sync.Once
}

// Index routes fragments into capacity-bounded color buckets and answers the
// forward (bucket key to members) and reverse (handle to bucket key) lookups
// that must always agree. A color maps to at most one active bucket at a
// time; earlier buckets for the same color stay closed once a split occurs.
type Index interface {
	// Admit routes a fragment into the active bucket for its color, splitting
	// to a new suffixed bucket first when the active one would exceed
	// capacity. The fragment's bytes are accumulated and the receiving bucket
	// is marked dirty. A single fragment larger than capacity on its own is
	// admitted into a fresh solo bucket with a one-time warning; buffer
	// creation is where such a bucket will fail, and that error stays with
	// the caller.
	//
	// Parameters:
	//   - h: the fragment's handle
	//   - color: the fragment's color (quantized internally)
	//   - fragBytes: the fragment's byte cost (FragmentByteSize)
	//   - capacity: the device's safe buffer capacity in bytes
	//
	// Returns:
	//   - string: the bucket key the fragment now belongs to
	Admit(h geometry.Handle, color [4]float32, fragBytes, capacity uint64) string

	// Remove takes a fragment out of its bucket, returning the bytes it
	// contributed and marking the bucket dirty. Removal uses O(1)
	// swap-removal on the member slice.
	//
	// Parameters:
	//   - h: the fragment's handle
	//
	// Returns:
	//   - string: the bucket key the fragment was removed from
	//   - bool: false if the handle was not assigned anywhere
	Remove(h geometry.Handle) (string, bool)

	// BucketOf is the reverse lookup from handle to bucket key.
	BucketOf(h geometry.Handle) (string, bool)

	// Members returns a copy of a bucket's member handles.
	Members(key string) []geometry.Handle

	// BaseColor returns the un-quantized color of the first fragment admitted
	// to the bucket, which batch construction uses as the bucket's color.
	BaseColor(key string) ([4]float32, bool)

	// AccumulatedBytes returns a bucket's current byte accounting.
	AccumulatedBytes(key string) uint64

	// NonEmptyKeys returns the sorted keys of every bucket that currently has
	// members.
	NonEmptyKeys() []string

	// DirtyKeys returns the sorted keys of every bucket marked dirty.
	DirtyKeys() []string

	// MarkDirty flags one bucket for rebuild. Unknown keys are ignored.
	MarkDirty(key string)

	// MarkAllDirty flags every non-empty bucket for rebuild. This is the
	// streaming finalization step that forces the single full rebuild.
	MarkAllDirty()

	// ClearDirty unflags one bucket after its batch has been rebuilt.
	ClearDirty(key string)

	// DropBucket removes a bucket's bookkeeping entirely. Used when a rebuild
	// finds the bucket empty. Dropping a bucket that is still some color's
	// active target also retires that active pointer so the next admission
	// mints a fresh bucket.
	DropBucket(key string)

	// Len returns the number of buckets currently tracked.
	Len() int

	// Clear resets all buckets, reverse maps, and the suffix counter.
	Clear()
}

var _ Index = &index{}

// NewIndex creates an empty color bucket index.
//
// Returns:
//   - Index: the new index
func NewIndex() Index {
	return &index{
		mu:            &sync.RWMutex{},
		buckets:       make(map[string]*bucketState),
		activeByColor: make(map[string]string),
		handleBucket:  make(map[geometry.Handle]string),
		handleBytes:   make(map[geometry.Handle]uint64),
	}
}

func (ix *index) Admit(h geometry.Handle, color [4]float32, fragBytes, capacity uint64) string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	baseKey := ColorKey(color)
	key, ok := ix.activeByColor[baseKey]
	if !ok {
		key = baseKey
		ix.buckets[key] = newBucketState(color)
		ix.activeByColor[baseKey] = key
	}

	b := ix.buckets[key]
	if len(b.members) > 0 && b.accumulatedBytes+fragBytes > capacity {
		// The active bucket would overflow: close it and mint a suffixed
		// sub-bucket for this color.
		ix.suffixCounter++
		key = fmt.Sprintf("%s#%d", baseKey, ix.suffixCounter)
		b = newBucketState(color)
		ix.buckets[key] = b
		ix.activeByColor[baseKey] = key
	}

	if len(b.members) == 0 && fragBytes > capacity {
		ix.oversizeOnce.Do(func() {
			logger.Log.Warn("fragment exceeds device buffer capacity on its own; admitting to a solo bucket, buffer creation may fail",
				zap.Uint64("fragmentBytes", fragBytes),
				zap.Uint64("capacityBytes", capacity),
				zap.String("bucketKey", key))
		})
	}

	b.memberPos[h] = len(b.members)
	b.members = append(b.members, h)
	b.accumulatedBytes += fragBytes
	b.dirty = true
	ix.handleBucket[h] = key
	ix.handleBytes[h] = fragBytes
	return key
}

func (ix *index) Remove(h geometry.Handle) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key, ok := ix.handleBucket[h]
	if !ok {
		return "", false
	}
	b := ix.buckets[key]

	pos := b.memberPos[h]
	last := len(b.members) - 1
	if pos != last {
		moved := b.members[last]
		b.members[pos] = moved
		b.memberPos[moved] = pos
	}
	b.members = b.members[:last]
	delete(b.memberPos, h)

	b.accumulatedBytes -= ix.handleBytes[h]
	b.dirty = true
	delete(ix.handleBucket, h)
	delete(ix.handleBytes, h)
	return key, true
}

func (ix *index) BucketOf(h geometry.Handle) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	key, ok := ix.handleBucket[h]
	return key, ok
}

func (ix *index) Members(key string) []geometry.Handle {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	b, ok := ix.buckets[key]
	if !ok {
		return nil
	}
	out := make([]geometry.Handle, len(b.members))
	copy(out, b.members)
	return out
}

func (ix *index) BaseColor(key string) ([4]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	b, ok := ix.buckets[key]
	if !ok {
		return [4]float32{}, false
	}
	return b.baseColor, true
}

func (ix *index) AccumulatedBytes(key string) uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	b, ok := ix.buckets[key]
	if !ok {
		return 0
	}
	return b.accumulatedBytes
}

func (ix *index) NonEmptyKeys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	keys := make([]string, 0, len(ix.buckets))
	for key, b := range ix.buckets {
		if len(b.members) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (ix *index) DirtyKeys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	keys := make([]string, 0, len(ix.buckets))
	for key, b := range ix.buckets {
		if b.dirty {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (ix *index) MarkDirty(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if b, ok := ix.buckets[key]; ok {
		b.dirty = true
	}
}

func (ix *index) MarkAllDirty() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, b := range ix.buckets {
		if len(b.members) > 0 {
			b.dirty = true
		}
	}
}

func (ix *index) ClearDirty(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if b, ok := ix.buckets[key]; ok {
		b.dirty = false
	}
}

func (ix *index) DropBucket(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	b, ok := ix.buckets[key]
	if !ok {
		return
	}
	for _, h := range b.members {
		delete(ix.handleBucket, h)
		delete(ix.handleBytes, h)
	}
	delete(ix.buckets, key)

	baseKey := ColorKey(b.baseColor)
	if ix.activeByColor[baseKey] == key {
		delete(ix.activeByColor, baseKey)
	}
}

func (ix *index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.buckets)
}

func (ix *index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.buckets = make(map[string]*bucketState)
	ix.activeByColor = make(map[string]string)
	ix.handleBucket = make(map[geometry.Handle]string)
	ix.handleBytes = make(map[geometry.Handle]uint64)
	ix.suffixCounter = 0
}

func newBucketState(color [4]float32) *bucketState {
	return &bucketState{
		baseColor: color,
		memberPos: make(map[geometry.Handle]int),
	}
}
