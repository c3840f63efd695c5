package engine

import (
	"strings"
	"testing"

	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/batch"
	"github.com/Carmen-Shannon/oxy-mesh/engine/bucket"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
	"github.com/Carmen-Shannon/oxy-mesh/engine/picking"
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

func newTestManager() (MeshManager, device.NullDevice, device.Pipeline) {
	return NewMeshManager(WithComputeWorkers(2)), device.NewNullDevice(), testPipeline{}
}

func TestAppendFragmentsBuildsOneBatchPerColor(t *testing.T) {
	m, dev, pipe := newTestManager()

	red := [4]float32{1, 0, 0, 1}
	blue := [4]float32{0, 0, 1, 1}
	err := m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, red),
		triangleFragment(2, red),
		triangleFragment(3, blue),
	}, dev, pipe, false)
	require.NoError(t, err)

	batches := m.Batches()
	require.Len(t, batches, 2)

	redBatch, ok := m.BatchFor(bucket.ColorKey(red))
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{1, 2}, redBatch.MemberOwnerIDs())
	assert.Equal(t, 6, redBatch.IndexCount())

	blueBatch, ok := m.BatchFor(bucket.ColorKey(blue))
	require.True(t, ok)
	assert.Equal(t, []uint32{3}, blueBatch.MemberOwnerIDs())
}

func TestUpdateColorsRelocatesBetweenBuckets(t *testing.T) {
	m, dev, pipe := newTestManager()

	red := [4]float32{1, 0, 0, 1}
	blue := [4]float32{0, 0, 1, 1}
	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, red),
		triangleFragment(2, red),
	}, dev, pipe, false))

	redBefore, _ := m.BatchFor(bucket.ColorKey(red))

	require.NoError(t, m.UpdateColors(map[uint32][4]float32{2: blue}, dev, pipe))

	// Owner 2 now draws from the blue bucket only; the red batch was rebuilt
	// without it.
	redAfter, ok := m.BatchFor(bucket.ColorKey(red))
	require.True(t, ok)
	assert.True(t, redBefore.Released())
	assert.Equal(t, []uint32{1}, redAfter.MemberOwnerIDs())

	blueBatch, ok := m.BatchFor(bucket.ColorKey(blue))
	require.True(t, ok)
	assert.Equal(t, []uint32{2}, blueBatch.MemberOwnerIDs())

	// Recolor everything away from red: the red bucket empties and its batch
	// is torn down.
	require.NoError(t, m.UpdateColors(map[uint32][4]float32{1: blue}, dev, pipe))
	_, ok = m.BatchFor(bucket.ColorKey(red))
	assert.False(t, ok)
	blueBatch, ok = m.BatchFor(bucket.ColorKey(blue))
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{1, 2}, blueBatch.MemberOwnerIDs())

	// Two buffers sets released, one batch live: vertex + index + uniform.
	assert.Equal(t, 3, dev.LiveBuffers())
	assert.Equal(t, 1, dev.LiveBindings())
}

func TestBucketSplitAtCapacityBoundary(t *testing.T) {
	frag := triangleFragment(1, [4]float32{1, 1, 1, 1})
	fragBytes := bucket.FragmentByteSize(&frag)

	m := NewMeshManager(WithCapacityBytes(fragBytes*2), WithComputeWorkers(1))
	dev := device.NewNullDevice()
	pipe := testPipeline{}
	white := [4]float32{1, 1, 1, 1}

	// Two fragments sum to exactly the capacity: no split.
	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, white),
		triangleFragment(2, white),
	}, dev, pipe, false))
	require.Len(t, m.Batches(), 1)

	// One byte-bearing fragment beyond the threshold mints a suffixed bucket.
	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(3, white),
	}, dev, pipe, false))
	batches := m.Batches()
	require.Len(t, batches, 2)
	for _, b := range batches {
		assert.LessOrEqual(t, b.VertexBuffer().Size(), fragBytes*2)
	}

	base := bucket.ColorKey(white)
	_, baseOK := m.BatchFor(base)
	_, splitOK := m.BatchFor(base + "#1")
	assert.True(t, baseOK)
	assert.True(t, splitOK)
}

func TestStreamingFinalizeLeavesOneBatchPerColor(t *testing.T) {
	m, dev, pipe := newTestManager()
	red := [4]float32{1, 0, 0, 1}

	// Five streamed increments of the same color.
	for id := uint32(1); id <= 5; id++ {
		require.NoError(t, m.AppendFragments([]common.MeshFragment{
			triangleFragment(id, red),
		}, dev, pipe, true))
	}
	// While streaming, each increment draws through its own fragment-batch.
	require.Len(t, m.Batches(), 5)
	for _, b := range m.Batches() {
		assert.Contains(t, b.Key(), "~f")
	}

	require.NoError(t, m.FinalizeStreaming(dev, pipe))

	batches := m.Batches()
	require.Len(t, batches, 1)
	assert.False(t, strings.Contains(batches[0].Key(), "~f"))
	assert.ElementsMatch(t, []uint32{1, 2, 3, 4, 5}, batches[0].MemberOwnerIDs())
	assert.Equal(t, 15, batches[0].IndexCount())

	// All fragment-batch resources are gone: one merged batch remains.
	assert.Equal(t, 3, dev.LiveBuffers())
	assert.Equal(t, 1, dev.LiveBindings())
}

func TestRebuildPendingBucketsRequiresDevice(t *testing.T) {
	m := NewMeshManager(WithComputeWorkers(1))
	m.AddFragment(triangleFragment(1, [4]float32{1, 0, 0, 1}))

	err := m.RebuildPendingBuckets()
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestAddFragmentIsLazyUntilRebuild(t *testing.T) {
	m, dev, pipe := newTestManager()

	m.AddFragment(triangleFragment(1, [4]float32{1, 0, 0, 1}))
	assert.Empty(t, m.Batches())
	assert.Equal(t, 0, dev.LiveBuffers())

	// Seed the remembered device through an empty streaming append (which
	// never rebuilds), then rebuild explicitly.
	require.NoError(t, m.AppendFragments(nil, dev, pipe, true))
	assert.Empty(t, m.Batches())
	require.NoError(t, m.RebuildPendingBuckets())
	assert.Len(t, m.Batches(), 1)
}

func TestClearOverridesLeavesOriginalsUntouched(t *testing.T) {
	m, dev, pipe := newTestManager()
	red := [4]float32{1, 0, 0, 1}

	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, red),
		triangleFragment(2, red),
	}, dev, pipe, false))

	original, ok := m.BatchFor(bucket.ColorKey(red))
	require.True(t, ok)
	vertexBytesBefore := append([]byte(nil), dev.BufferBytes(original.VertexBuffer())...)

	require.NoError(t, m.SetOverrides(map[uint32][4]float32{1: {0, 1, 0, 1}}, dev, pipe))
	require.Len(t, m.OverlayBatches(), 1)

	m.ClearOverrides()
	assert.Empty(t, m.OverlayBatches())

	// The original batch still holds the same buffers with the same content.
	after, ok := m.BatchFor(bucket.ColorKey(red))
	require.True(t, ok)
	assert.Same(t, original, after)
	assert.False(t, after.Released())
	assert.Equal(t, vertexBytesBefore, dev.BufferBytes(after.VertexBuffer()))
}

func TestGetOrCreatePartialBatchThroughManager(t *testing.T) {
	m, dev, pipe := newTestManager()
	red := [4]float32{1, 0, 0, 1}

	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, red),
		triangleFragment(2, red),
		triangleFragment(3, red),
	}, dev, pipe, false))

	key := bucket.ColorKey(red)
	first, err := m.GetOrCreatePartialBatch(key, []uint32{1, 2}, dev, pipe)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.GetOrCreatePartialBatch(key, []uint32{2, 1}, dev, pipe)
	require.NoError(t, err)
	assert.Same(t, first, second)

	third, err := m.GetOrCreatePartialBatch(key, []uint32{3}, dev, pipe)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.True(t, first.Released())

	// A rebuild of the bucket invalidates its cached partial batch.
	require.NoError(t, m.UpdateColors(map[uint32][4]float32{3: {0, 0, 1, 1}}, dev, pipe))
	assert.True(t, third.Released())
}

func TestRaycastThroughManager(t *testing.T) {
	m, dev, pipe := newTestManager()

	cube := common.MeshFragment{
		OwnerID: 9,
		Color:   [4]float32{1, 1, 1, 1},
		Positions: []float32{
			-0.5, -0.5, 0.5, 0.5, -0.5, 0.5, 0.5, 0.5, 0.5, -0.5, 0.5, 0.5,
		},
		Normals: []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
	require.NoError(t, m.AppendFragments([]common.MeshFragment{cube}, dev, pipe, false))

	hit, ok := m.Raycast(math32.Vec3(0, 0, 5), math32.Vec3(0, 0, -1))
	require.True(t, ok)
	assert.Equal(t, uint32(9), hit.OwnerID)
	assert.InDelta(t, 4.5, hit.Distance, 1e-5)

	_, ok = m.Raycast(math32.Vec3(0, 0, 5), math32.Vec3(0, 0, -1), picking.WithHidden([]uint32{9}))
	assert.False(t, ok)
}

func TestSceneBoundsAndOwnerBox(t *testing.T) {
	m, dev, pipe := newTestManager()
	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, [4]float32{1, 0, 0, 1}),
	}, dev, pipe, false))

	box, ok := m.BoundingBoxFor(1)
	require.True(t, ok)
	assert.Equal(t, float32(0), box.Min.X)
	assert.Equal(t, float32(1), box.Max.X)

	bounds := m.ComputeSceneBounds()
	assert.Equal(t, box, bounds)
}

func TestClearReleasesEverything(t *testing.T) {
	m, dev, pipe := newTestManager()
	red := [4]float32{1, 0, 0, 1}

	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(1, red),
		triangleFragment(2, red),
	}, dev, pipe, false))
	require.NoError(t, m.AppendFragments([]common.MeshFragment{
		triangleFragment(3, red),
	}, dev, pipe, true))
	require.NoError(t, m.SetOverrides(map[uint32][4]float32{1: {0, 1, 0, 1}}, dev, pipe))
	_, err := m.GetOrCreatePartialBatch(bucket.ColorKey(red), []uint32{1}, dev, pipe)
	require.NoError(t, err)

	m.Clear()

	assert.Empty(t, m.Batches())
	assert.Empty(t, m.OverlayBatches())
	assert.Equal(t, 0, m.Store().Len())
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.Equal(t, 0, dev.LiveBindings())

	// After a clear, device-argument-free operations need a new device.
	m.AddFragment(triangleFragment(1, red))
	require.ErrorIs(t, m.RebuildPendingBuckets(), ErrNoDevice)
}

// testPipeline is a minimal device.Pipeline for manager tests.
type testPipeline struct{}

func (p testPipeline) PipelineKey() string {
	return "mesh"
}

func (p testPipeline) UniformSize() uint64 {
	return uint64((&batch.GPUBatchParams{}).Size())
}

func (p testPipeline) BindingLayout() any {
	return nil
}
