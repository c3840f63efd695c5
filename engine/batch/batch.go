// Package batch builds and owns the GPU-resident draw units of the subsystem.
// A Batch is the merged form of exactly one bucket's fragments: one vertex
// buffer, one index buffer, one uniform resource, one binding object. Batches
// exclusively own their device resources and must be released explicitly at
// every replacement or removal site; nothing here is garbage-collected.
package batch

import (
	"fmt"

	"cogentcore.org/core/math32"
	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/engine/device"
)

// batch is the implementation of the Batch interface.
type batch struct {
	key            string
	color          [4]float32
	vertexCount    int
	indexCount     int
	memberOwnerIDs []uint32
	ownerSet       map[uint32]struct{}
	bounds         math32.Box3

	vertexBuffer device.Buffer
	indexBuffer  device.Buffer
	uniform      device.Buffer
	binding      device.Binding
	released     bool
}

// Batch is one GPU-resident merged draw unit. After a completed rebuild there
// is exactly one live Batch per non-empty bucket key; streaming and overlay
// batches share the type but live in their own collections.
type Batch interface {
	// Key returns the bucket key (or fragment/overlay key) this batch was
	// built for.
	//
	// Returns:
	//   - string: the batch key
	Key() string

	// Color returns the batch's base color, also uploaded in the uniform.
	//
	// Returns:
	//   - [4]float32: the RGBA color
	Color() [4]float32

	// VertexCount returns the number of interleaved vertices uploaded.
	VertexCount() int

	// IndexCount returns the number of indices to draw.
	//
	// Returns:
	//   - int: the index count
	IndexCount() int

	// MemberOwnerIDs returns the distinct owners merged into this batch, in
	// first-seen order. The slice is shared; treat it as read-only.
	MemberOwnerIDs() []uint32

	// ContainsOwner reports whether an owner contributed fragments.
	//
	// Parameters:
	//   - ownerID: the owner to look up
	//
	// Returns:
	//   - bool: true if the owner is part of this batch
	ContainsOwner(ownerID uint32) bool

	// Bounds returns the axis-aligned box over the merged vertices.
	Bounds() math32.Box3

	// VertexBuffer returns the device vertex buffer.
	VertexBuffer() device.Buffer

	// IndexBuffer returns the device index buffer.
	IndexBuffer() device.Buffer

	// Uniform returns the per-batch uniform buffer.
	Uniform() device.Buffer

	// Binding returns the binding object tying the uniform to the pipeline.
	Binding() device.Binding

	// Released reports whether Release has run.
	Released() bool

	// Release frees every device resource the batch owns. Idempotent; the
	// batch is unusable for drawing afterwards.
	Release()
}

var _ Batch = &batch{}

// New merges nothing itself: it takes already-merged geometry, allocates
// device buffers sized exactly to it, uploads, and wires the per-batch
// uniform and binding. On any device error all partially created resources
// are released before the error is returned.
//
// Parameters:
//   - key: the bucket key this batch represents
//   - merged: the merged geometry streams
//   - color: the batch color, written to the uniform
//   - dev: the device to allocate on
//   - pipe: the pipeline supplying uniform size and binding layout
//
// Returns:
//   - Batch: the live batch
//   - error: the first device error encountered
func New(key string, merged MergedGeometry, color [4]float32, dev device.Device, pipe device.Pipeline) (Batch, error) {
	vertexBuffer, err := dev.CreateVertexBuffer(key+" Vertex Buffer", merged.VertexData)
	if err != nil {
		return nil, fmt.Errorf("batch %q: %w", key, err)
	}

	indexBuffer, err := dev.CreateIndexBuffer(key+" Index Buffer", merged.IndexData)
	if err != nil {
		vertexBuffer.Release()
		return nil, fmt.Errorf("batch %q: %w", key, err)
	}

	params := GPUBatchParams{Color: color}
	uniformSize := common.Coalesce(pipe.UniformSize(), uint64(params.Size()))
	uniform, err := dev.CreateUniformBuffer(key+" Params", uniformSize)
	if err != nil {
		indexBuffer.Release()
		vertexBuffer.Release()
		return nil, fmt.Errorf("batch %q: %w", key, err)
	}
	if err := dev.WriteBuffer(uniform, 0, params.Marshal()); err != nil {
		uniform.Release()
		indexBuffer.Release()
		vertexBuffer.Release()
		return nil, fmt.Errorf("batch %q: %w", key, err)
	}

	binding, err := dev.CreateBinding(pipe, uniform)
	if err != nil {
		uniform.Release()
		indexBuffer.Release()
		vertexBuffer.Release()
		return nil, fmt.Errorf("batch %q: %w", key, err)
	}

	ownerSet := make(map[uint32]struct{}, len(merged.OwnerIDs))
	for _, id := range merged.OwnerIDs {
		ownerSet[id] = struct{}{}
	}

	return &batch{
		key:            key,
		color:          color,
		vertexCount:    merged.VertexCount,
		indexCount:     merged.IndexCount,
		memberOwnerIDs: merged.OwnerIDs,
		ownerSet:       ownerSet,
		bounds:         merged.Bounds,
		vertexBuffer:   vertexBuffer,
		indexBuffer:    indexBuffer,
		uniform:        uniform,
		binding:        binding,
	}, nil
}

func (b *batch) Key() string {
	return b.key
}

func (b *batch) Color() [4]float32 {
	return b.color
}

func (b *batch) VertexCount() int {
	return b.vertexCount
}

func (b *batch) IndexCount() int {
	return b.indexCount
}

func (b *batch) MemberOwnerIDs() []uint32 {
	return b.memberOwnerIDs
}

func (b *batch) ContainsOwner(ownerID uint32) bool {
	_, ok := b.ownerSet[ownerID]
	return ok
}

func (b *batch) Bounds() math32.Box3 {
	return b.bounds
}

func (b *batch) VertexBuffer() device.Buffer {
	return b.vertexBuffer
}

func (b *batch) IndexBuffer() device.Buffer {
	return b.indexBuffer
}

func (b *batch) Uniform() device.Buffer {
	return b.uniform
}

func (b *batch) Binding() device.Binding {
	return b.binding
}

func (b *batch) Released() bool {
	return b.released
}

func (b *batch) Release() {
	if b.released {
		return
	}
	b.released = true

	if b.binding != nil {
		b.binding.Release()
		b.binding = nil
	}
	if b.uniform != nil {
		b.uniform.Release()
		b.uniform = nil
	}
	if b.indexBuffer != nil {
		b.indexBuffer.Release()
		b.indexBuffer = nil
	}
	if b.vertexBuffer != nil {
		b.vertexBuffer.Release()
		b.vertexBuffer = nil
	}
}
