package visibility

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/bucket"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
)

func triangleFragment(ownerID uint32, color [4]float32) common.MeshFragment {
	return common.MeshFragment{
		OwnerID:   ownerID,
		Color:     color,
		Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Normals:   []float32{0, 0, 1, 0, 0, 1, 0, 0, 1},
		Indices:   []uint32{0, 1, 2},
	}
}

// fixture admits three owners of one color into a single bucket and returns
// the wiring.
func fixture(t *testing.T) (geometry.Store, bucket.Index, string, device.NullDevice) {
	t.Helper()

	store := geometry.NewStore()
	index := bucket.NewIndex()
	dev := device.NewNullDevice()
	color := [4]float32{0.8, 0.2, 0.2, 1}

	var key string
	for id := uint32(1); id <= 3; id++ {
		f := triangleFragment(id, color)
		h := store.AddFragment(f)
		key = index.Admit(h, color, bucket.FragmentByteSize(&f), dev.MaxBufferSize())
	}
	return store, index, key, dev
}

func TestGetOrCreateCachesIdenticalVisibleSet(t *testing.T) {
	store, index, key, dev := fixture(t)
	c := NewCache(store, index)

	first, err := c.GetOrCreate(key, []uint32{1, 2}, dev, testPipeline{})
	require.NoError(t, err)
	require.NotNil(t, first)
	buffersAfterFirst := dev.LiveBuffers()

	// Same set in a different order must hit the cache: same batch reference,
	// no new allocations.
	second, err := c.GetOrCreate(key, []uint32{2, 1}, dev, testPipeline{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, buffersAfterFirst, dev.LiveBuffers())
}

func TestGetOrCreateReplacesOnChangedVisibleSet(t *testing.T) {
	store, index, key, dev := fixture(t)
	c := NewCache(store, index)

	first, err := c.GetOrCreate(key, []uint32{1, 2}, dev, testPipeline{})
	require.NoError(t, err)

	second, err := c.GetOrCreate(key, []uint32{1, 2, 3}, dev, testPipeline{})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.Released())
	assert.False(t, second.Released())
	// Only the replacement's three buffers remain.
	assert.Equal(t, 3, dev.LiveBuffers())
	assert.Equal(t, 1, dev.LiveBindings())
}

func TestGetOrCreateFiltersMembers(t *testing.T) {
	store, index, key, dev := fixture(t)
	c := NewCache(store, index)

	sub, err := c.GetOrCreate(key, []uint32{2, 99}, dev, testPipeline{})
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, []uint32{2}, sub.MemberOwnerIDs())
}

func TestGetOrCreateSkipsOffColorPieces(t *testing.T) {
	store, index, key, dev := fixture(t)

	// Owner 1 gains a second piece in a different color. Its handle lands in
	// another bucket, but even if it shared this bucket the color filter must
	// exclude it: simulate by admitting into the same index and asking for the
	// original bucket.
	offColor := triangleFragment(1, [4]float32{0.1, 0.9, 0.1, 1})
	h := store.AddFragment(offColor)
	index.Admit(h, offColor.Color, bucket.FragmentByteSize(&offColor), dev.MaxBufferSize())

	c := NewCache(store, index)
	sub, err := c.GetOrCreate(key, []uint32{1}, dev, testPipeline{})
	require.NoError(t, err)
	require.NotNil(t, sub)
	// One triangle only: the red piece of owner 1, not the green one.
	assert.Equal(t, 3, sub.IndexCount())
}

func TestGetOrCreateEmptyFilteredSet(t *testing.T) {
	store, index, key, dev := fixture(t)
	c := NewCache(store, index)

	// Build a real entry first so the empty query has something to release.
	sub, err := c.GetOrCreate(key, []uint32{1}, dev, testPipeline{})
	require.NoError(t, err)
	require.NotNil(t, sub)

	none, err := c.GetOrCreate(key, []uint32{42}, dev, testPipeline{})
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.True(t, sub.Released())
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.Equal(t, 0, c.Len())
}

func TestGetOrCreateUnknownBucket(t *testing.T) {
	store, index, _, dev := fixture(t)
	c := NewCache(store, index)

	sub, err := c.GetOrCreate("no-such-bucket", []uint32{1}, dev, testPipeline{})
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestInvalidateAndReleaseAll(t *testing.T) {
	store, index, key, dev := fixture(t)
	c := NewCache(store, index)

	sub, err := c.GetOrCreate(key, []uint32{1, 2, 3}, dev, testPipeline{})
	require.NoError(t, err)

	c.Invalidate(key)
	assert.True(t, sub.Released())
	assert.Equal(t, 0, c.Len())

	sub, err = c.GetOrCreate(key, []uint32{1}, dev, testPipeline{})
	require.NoError(t, err)
	require.NotNil(t, sub)

	c.ReleaseAll()
	assert.True(t, sub.Released())
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.Equal(t, 0, dev.LiveBindings())
}

func TestGetOrCreatePropagatesDeviceError(t *testing.T) {
	store, index, key, dev := fixture(t)
	c := NewCache(store, index)

	boom := errors.New("out of device memory")
	dev.SetCreateError(boom)
	_, err := c.GetOrCreate(key, []uint32{1}, dev, testPipeline{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

// testPipeline is a minimal device.Pipeline for cache tests.
type testPipeline struct{}

func (p testPipeline) PipelineKey() string {
	return "visibility"
}

func (p testPipeline) UniformSize() uint64 {
	return uint64((&batch.GPUBatchParams{}).Size())
}

func (p testPipeline) BindingLayout() any {
	return nil
}
