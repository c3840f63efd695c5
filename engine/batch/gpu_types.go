package batch

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// VertexStrideBytes is the byte size of one interleaved batch vertex:
// position (12) + normal (12) + owner-id lane (4). Bucket capacity accounting
// is derived from this stride.
const VertexStrideBytes = 28

// IndexSizeBytes is the byte size of one index buffer entry (u32).
const IndexSizeBytes = 4

// GPUVertex is the GPU-aligned representation of a single merged-batch vertex.
// Every vertex of a fragment carries the same OwnerRef so a shader (or a
// readback) can recover which element wrote a pixel without per-fragment draw
// calls. Size: 28 bytes, std430 aligned, no padding required.
type GPUVertex struct {
	Position [3]float32 // offset  0: vertex position (12 bytes)
	Normal   [3]float32 // offset 12: vertex normal (12 bytes)
	OwnerRef float32    // offset 24: owner id as an exactly-representable float integer (4 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 28-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, VertexStrideBytes)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto serializes the vertex into the first 28 bytes of buf. Used by
// the merge path to stream millions of vertices without per-vertex
// allocations.
//
// Parameters:
//   - buf: destination slice, at least VertexStrideBytes long
func (g *GPUVertex) MarshalInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.Position[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.Position[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.Position[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(g.Normal[0]))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.Normal[1]))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(g.Normal[2]))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(g.OwnerRef))
}

// GPUBatchParams is the GPU-aligned per-batch uniform. The RGBA color applies
// to every vertex of the batch; overlay batches carry their override color
// here too. Size: 16 bytes (one vec4<f32>, std430 aligned).
type GPUBatchParams struct {
	Color [4]float32 // offset 0: batch RGBA color (16 bytes)
}

// Size returns the size of the GPUBatchParams struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUBatchParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUBatchParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload.
func (g *GPUBatchParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.Color[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.Color[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.Color[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(g.Color[3]))
	return buf
}
