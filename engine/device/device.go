// Package device abstracts the graphics device and pipeline consumed by the
// batching subsystem. The subsystem only ever allocates, writes, and destroys
// fixed-size buffers and binding objects; everything else about rendering
// stays with the host application. Two implementations ship with the package:
// a production adapter over WebGPU (NewWGPUDevice) and a headless in-process
// device for servers, CI, and capacity planning (NewNullDevice).
package device

import "errors"

var (
	// ErrBufferTooLarge is returned when a requested allocation exceeds the
	// device's maximum safe buffer size.
	ErrBufferTooLarge = errors.New("device: requested buffer exceeds max buffer size")

	// ErrForeignBuffer is returned when a buffer created by a different
	// device implementation is passed back in.
	ErrForeignBuffer = errors.New("device: buffer was not created by this device")

	// ErrReleasedBuffer is returned when writing to a buffer whose device
	// memory has already been released.
	ErrReleasedBuffer = errors.New("device: buffer already released")
)

// Buffer is a single device-resident allocation. Buffers are exclusively
// owned by whoever created them and must be released explicitly; nothing in
// this library relies on garbage collection for device memory.
type Buffer interface {
	// Label returns the debug label the buffer was created with.
	//
	// Returns:
	//   - string: the buffer label
	Label() string

	// Size returns the allocation size in bytes.
	//
	// Returns:
	//   - uint64: the buffer size in bytes
	Size() uint64

	// Release frees the device memory. Safe to call more than once; all calls
	// after the first are no-ops.
	Release()
}

// Binding ties a batch's uniform buffer to a pipeline's binding layout so the
// host render loop can bind it in one call. Like Buffer, it is explicitly
// released.
type Binding interface {
	// Release frees the binding object. Idempotent.
	Release()
}

// Pipeline describes the draw pipeline batches will be rendered with, reduced
// to the two things batch construction needs: the uniform size to allocate
// per batch and the layout to build the binding object from.
type Pipeline interface {
	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// UniformSize returns the byte size of the per-batch uniform resource this
	// pipeline expects.
	//
	// Returns:
	//   - uint64: the uniform buffer size in bytes
	UniformSize() uint64

	// BindingLayout returns the implementation-specific binding layout object.
	// The batching subsystem treats it as opaque; device adapters type-assert
	// it back (the WebGPU adapter expects a *wgpu.BindGroupLayout).
	//
	// Returns:
	//   - any: the underlying binding layout object
	BindingLayout() any
}

// Device is the capacity-limited graphics device the subsystem allocates
// against. Uploads are synchronous from the caller's perspective; the
// underlying transfer may complete asynchronously on the device without the
// subsystem waiting on it.
type Device interface {
	// MaxBufferSize reports the maximum safe size for a single buffer
	// allocation. Bucket capacity planning is driven by this value.
	//
	// Returns:
	//   - uint64: the maximum buffer size in bytes
	MaxBufferSize() uint64

	// CreateVertexBuffer allocates a vertex buffer sized exactly to data and
	// uploads data into it.
	//
	// Parameters:
	//   - label: debug label for the allocation
	//   - data: the interleaved vertex bytes to upload
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: ErrBufferTooLarge or the device's creation/upload error
	CreateVertexBuffer(label string, data []byte) (Buffer, error)

	// CreateIndexBuffer allocates an index buffer sized exactly to data and
	// uploads data into it.
	//
	// Parameters:
	//   - label: debug label for the allocation
	//   - data: the little-endian u32 index bytes to upload
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: ErrBufferTooLarge or the device's creation/upload error
	CreateIndexBuffer(label string, data []byte) (Buffer, error)

	// CreateUniformBuffer allocates a zeroed uniform buffer of the given size.
	//
	// Parameters:
	//   - label: debug label for the allocation
	//   - size: allocation size in bytes
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: ErrBufferTooLarge or the device's creation error
	CreateUniformBuffer(label string, size uint64) (Buffer, error)

	// WriteBuffer uploads data into an existing buffer at the given offset.
	//
	// Parameters:
	//   - buf: a buffer previously created by this device
	//   - offset: byte offset into the buffer
	//   - data: the bytes to upload
	//
	// Returns:
	//   - error: ErrForeignBuffer, ErrReleasedBuffer, or the device's write error
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	// CreateBinding builds the binding object that ties a batch's uniform
	// buffer to the pipeline's layout at binding slot 0.
	//
	// Parameters:
	//   - pipe: the pipeline supplying the binding layout
	//   - uniform: the per-batch uniform buffer
	//
	// Returns:
	//   - Binding: the created binding object
	//   - error: the device's creation error
	CreateBinding(pipe Pipeline, uniform Buffer) (Binding, error)
}
