package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
)

var gray = [4]float32{0.8, 0.8, 0.8, 1}

func fragmentWithVertices(verts int) common.MeshFragment {
	return common.MeshFragment{
		OwnerID:   1,
		Positions: make([]float32, verts*3),
		Normals:   make([]float32, verts*3),
		Color:     gray,
	}
}

func TestColorKeyQuantization(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float32
		same bool
	}{
		{"identical", [4]float32{0.5, 0.5, 0.5, 1}, [4]float32{0.5, 0.5, 0.5, 1}, true},
		{"within one level", [4]float32{0.5, 0.5, 0.5, 1}, [4]float32{0.5004, 0.5, 0.5, 1}, true},
		{"one level apart", [4]float32{0.5, 0.5, 0.5, 1}, [4]float32{0.501, 0.5, 0.5, 1}, false},
		{"alpha differs", [4]float32{0.5, 0.5, 0.5, 1}, [4]float32{0.5, 0.5, 0.5, 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, ColorKey(tt.a), ColorKey(tt.b))
			} else {
				assert.NotEqual(t, ColorKey(tt.a), ColorKey(tt.b))
			}
		})
	}

	assert.Equal(t, "500-0-1000-1000", ColorKey([4]float32{0.5, -0.2, 1.7, 1}))
}

func TestFragmentByteSize(t *testing.T) {
	f := fragmentWithVertices(3)
	assert.Equal(t, uint64(3*batch.VertexStrideBytes), FragmentByteSize(&f))
}

func TestAdmitAccumulatesWithoutSplitAtExactCapacity(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(100 * batch.VertexStrideBytes)

	// Two fragments summing to exactly the capacity must share one bucket.
	k1 := ix.Admit(1, gray, 60*batch.VertexStrideBytes, capacity)
	k2 := ix.Admit(2, gray, 40*batch.VertexStrideBytes, capacity)
	assert.Equal(t, k1, k2)
	assert.Equal(t, capacity, ix.AccumulatedBytes(k1))
	assert.Equal(t, 1, ix.Len())
}

func TestAdmitSplitsPastCapacity(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(100 * batch.VertexStrideBytes)

	k1 := ix.Admit(1, gray, 60*batch.VertexStrideBytes, capacity)
	ix.Admit(2, gray, 40*batch.VertexStrideBytes, capacity)

	// One more byte-bearing fragment must open a suffixed sub-bucket.
	k3 := ix.Admit(3, gray, 1*batch.VertexStrideBytes, capacity)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, k1+"#1", k3)

	assert.LessOrEqual(t, ix.AccumulatedBytes(k1), capacity)
	assert.LessOrEqual(t, ix.AccumulatedBytes(k3), capacity)

	// The old bucket is closed: further admissions in this color land in the
	// new active bucket.
	k4 := ix.Admit(4, gray, 1*batch.VertexStrideBytes, capacity)
	assert.Equal(t, k3, k4)
}

func TestAdmitOversizedSoloFragment(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(10)

	// A fragment bigger than capacity on its own still gets a bucket; the
	// device, not the index, is where it will fail.
	key := ix.Admit(1, gray, 400, capacity)
	assert.Equal(t, []geometry.Handle{1}, ix.Members(key))
	assert.Equal(t, uint64(400), ix.AccumulatedBytes(key))

	// The oversized bucket still splits before admitting a second member.
	key2 := ix.Admit(2, gray, 4, capacity)
	assert.NotEqual(t, key, key2)
}

func TestForwardAndReverseLookupsAgree(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(1 << 20)
	red := [4]float32{1, 0, 0, 1}

	handles := []geometry.Handle{1, 2, 3, 4, 5}
	for _, h := range handles {
		color := gray
		if h%2 == 0 {
			color = red
		}
		ix.Admit(h, color, 28, capacity)
	}

	verify := func() {
		for _, h := range handles {
			key, ok := ix.BucketOf(h)
			if !ok {
				continue
			}
			assert.Contains(t, ix.Members(key), h, "handle %d missing from forward index", h)
		}
		for _, key := range ix.NonEmptyKeys() {
			for _, h := range ix.Members(key) {
				got, ok := ix.BucketOf(h)
				require.True(t, ok)
				assert.Equal(t, key, got, "reverse index disagrees for handle %d", h)
			}
		}
	}
	verify()

	// Relocate handle 2 from red to gray, as a color update would.
	oldKey, ok := ix.Remove(2)
	require.True(t, ok)
	assert.Equal(t, ColorKey(red), oldKey)
	ix.Admit(2, gray, 28, capacity)
	verify()

	_, ok = ix.Remove(99)
	assert.False(t, ok)
}

func TestRemoveUpdatesBytesAndDirty(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(1 << 20)

	key := ix.Admit(1, gray, 100, capacity)
	ix.Admit(2, gray, 50, capacity)
	ix.ClearDirty(key)

	gone, ok := ix.Remove(1)
	require.True(t, ok)
	assert.Equal(t, key, gone)
	assert.Equal(t, uint64(50), ix.AccumulatedBytes(key))
	assert.Equal(t, []geometry.Handle{2}, ix.Members(key))
	assert.Equal(t, []string{key}, ix.DirtyKeys())
}

func TestDirtyTracking(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(1 << 20)
	red := [4]float32{1, 0, 0, 1}

	k1 := ix.Admit(1, gray, 28, capacity)
	k2 := ix.Admit(2, red, 28, capacity)

	// Admission dirties the receiving bucket.
	assert.ElementsMatch(t, []string{k1, k2}, ix.DirtyKeys())

	ix.ClearDirty(k1)
	ix.ClearDirty(k2)
	assert.Empty(t, ix.DirtyKeys())

	ix.MarkDirty(k1)
	assert.Equal(t, []string{k1}, ix.DirtyKeys())

	ix.ClearDirty(k1)
	ix.MarkAllDirty()
	assert.ElementsMatch(t, []string{k1, k2}, ix.DirtyKeys())
}

func TestDropBucketRetiresActivePointer(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(1 << 20)

	key := ix.Admit(1, gray, 28, capacity)
	ix.Remove(1)
	ix.DropBucket(key)
	assert.Equal(t, 0, ix.Len())

	_, ok := ix.BaseColor(key)
	assert.False(t, ok)

	// A fresh admission for the color mints a new bucket rather than
	// resurrecting the dropped one.
	again := ix.Admit(2, gray, 28, capacity)
	assert.Equal(t, key, again)
	assert.Equal(t, []geometry.Handle{2}, ix.Members(again))
}

func TestClearResetsSuffixCounter(t *testing.T) {
	ix := NewIndex()
	capacity := uint64(50)

	ix.Admit(1, gray, 40, capacity)
	split := ix.Admit(2, gray, 40, capacity)
	assert.Equal(t, ColorKey(gray)+"#1", split)

	ix.Clear()
	assert.Equal(t, 0, ix.Len())

	ix.Admit(3, gray, 40, capacity)
	split = ix.Admit(4, gray, 40, capacity)
	assert.Equal(t, ColorKey(gray)+"#1", split)
}
