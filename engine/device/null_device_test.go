package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullDeviceBufferLifecycle(t *testing.T) {
	d := NewNullDevice(WithNullMaxBufferSize(1024))

	vb, err := d.CreateVertexBuffer("verts", []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), vb.Size())
	assert.Equal(t, "verts", vb.Label())
	assert.Equal(t, []byte{1, 2, 3, 4}, d.BufferBytes(vb))
	assert.Equal(t, 1, d.LiveBuffers())

	require.NoError(t, d.WriteBuffer(vb, 2, []byte{9, 9}))
	assert.Equal(t, []byte{1, 2, 9, 9}, d.BufferBytes(vb))

	vb.Release()
	assert.Equal(t, 0, d.LiveBuffers())
	assert.Nil(t, d.BufferBytes(vb))

	// Release is idempotent; the live count must not go negative.
	vb.Release()
	assert.Equal(t, 0, d.LiveBuffers())

	err = d.WriteBuffer(vb, 0, []byte{1})
	assert.ErrorIs(t, err, ErrReleasedBuffer)
}

func TestNullDeviceCapacity(t *testing.T) {
	d := NewNullDevice(WithNullMaxBufferSize(8))

	_, err := d.CreateVertexBuffer("small", make([]byte, 8))
	require.NoError(t, err)

	_, err = d.CreateVertexBuffer("big", make([]byte, 9))
	assert.ErrorIs(t, err, ErrBufferTooLarge)

	_, err = d.CreateUniformBuffer("uniform", 9)
	assert.ErrorIs(t, err, ErrBufferTooLarge)
}

func TestNullDeviceWriteBounds(t *testing.T) {
	d := NewNullDevice()

	buf, err := d.CreateUniformBuffer("u", 16)
	require.NoError(t, err)

	assert.NoError(t, d.WriteBuffer(buf, 12, []byte{1, 2, 3, 4}))
	assert.Error(t, d.WriteBuffer(buf, 13, []byte{1, 2, 3, 4}))
}

func TestNullDeviceForeignBuffer(t *testing.T) {
	a := NewNullDevice()
	b := NewNullDevice()

	buf, err := a.CreateVertexBuffer("v", []byte{1})
	require.NoError(t, err)

	assert.ErrorIs(t, b.WriteBuffer(buf, 0, []byte{2}), ErrForeignBuffer)
	assert.Nil(t, b.BufferBytes(buf))
}

func TestNullDeviceBindingLifecycle(t *testing.T) {
	d := NewNullDevice()
	pipe := testPipeline{key: "batch-pipeline", uniformSize: 16}

	uniform, err := d.CreateUniformBuffer("u", pipe.UniformSize())
	require.NoError(t, err)

	binding, err := d.CreateBinding(pipe, uniform)
	require.NoError(t, err)
	assert.Equal(t, 1, d.LiveBindings())

	binding.Release()
	binding.Release()
	assert.Equal(t, 0, d.LiveBindings())
}

func TestNullDeviceCreateError(t *testing.T) {
	d := NewNullDevice()
	boom := errors.New("out of device memory")

	d.SetCreateError(boom)
	_, err := d.CreateVertexBuffer("v", []byte{1})
	assert.ErrorIs(t, err, boom)

	d.SetCreateError(nil)
	_, err = d.CreateVertexBuffer("v", []byte{1})
	assert.NoError(t, err)
}

// testPipeline is a minimal Pipeline for binding tests.
type testPipeline struct {
	key         string
	uniformSize uint64
}

func (p testPipeline) PipelineKey() string {
	return p.key
}

func (p testPipeline) UniformSize() uint64 {
	return p.uniformSize
}

func (p testPipeline) BindingLayout() any {
	return nil
}
