package batch

import (
	"sync"

	"cogentcore.org/core/math32"
	"github.com/Carmen-Shannon/oxy-mesh/common"
	"github.com/Carmen-Shannon/oxy-mesh/logger"
	"go.uber.org/zap"
)

// MaxOwnerID is the largest owner id the packed id lane can carry. The lane
// is a float32 whose integer range is exactly 24 bits; ids above this are
// masked into range with a one-time warning and a documented risk of pick
// collisions.
const MaxOwnerID uint32 = 1<<24 - 1

var maskWarnOnce sync.Once

// MergedGeometry is the CPU-side result of merging fragments: the byte
// streams a Batch uploads, plus the bookkeeping the Batch keeps.
type MergedGeometry struct {
	// VertexData is the interleaved GPUVertex stream.
	VertexData []byte
	// IndexData is a byte view of the u32 index stream with per-fragment
	// offsets already applied.
	IndexData []byte
	// VertexCount and IndexCount are the totals across all fragments.
	VertexCount int
	IndexCount  int
	// OwnerIDs lists the distinct owners contributing fragments, in first-seen order.
	OwnerIDs []uint32
	// Bounds is the axis-aligned box over every merged vertex.
	Bounds math32.Box3
}

// MergeGeometry merges fragments into one interleaved vertex stream and one
// index stream. Fragment order is preserved; each fragment's indices are
// offset by the running vertex count so the streams draw as a single unit.
//
// Parameters:
//   - fragments: the fragments to merge, in draw order
//
// Returns:
//   - MergedGeometry: the merged streams and bookkeeping
func MergeGeometry(fragments []common.MeshFragment) MergedGeometry {
	totalVerts, totalIdx := 0, 0
	for i := range fragments {
		totalVerts += fragments[i].VertexCount()
		totalIdx += len(fragments[i].Indices)
	}

	out := MergedGeometry{
		VertexData:  make([]byte, totalVerts*VertexStrideBytes),
		VertexCount: totalVerts,
		IndexCount:  totalIdx,
		Bounds:      math32.B3Empty(),
	}

	seen := make(map[uint32]struct{}, len(fragments))
	indices := make([]uint32, totalIdx)
	vtxBase := 0
	idxCursor := 0
	var gv GPUVertex
	for fi := range fragments {
		f := &fragments[fi]
		gv.OwnerRef = packOwnerID(f.OwnerID)

		vertexCount := f.VertexCount()
		for v := range vertexCount {
			gv.Position[0] = f.Positions[v*3]
			gv.Position[1] = f.Positions[v*3+1]
			gv.Position[2] = f.Positions[v*3+2]
			gv.Normal[0] = f.Normals[v*3]
			gv.Normal[1] = f.Normals[v*3+1]
			gv.Normal[2] = f.Normals[v*3+2]
			gv.MarshalInto(out.VertexData[(vtxBase+v)*VertexStrideBytes:])
			out.Bounds.ExpandByPoint(math32.Vec3(gv.Position[0], gv.Position[1], gv.Position[2]))
		}

		for _, idx := range f.Indices {
			indices[idxCursor] = idx + uint32(vtxBase)
			idxCursor++
		}

		if _, ok := seen[f.OwnerID]; !ok {
			seen[f.OwnerID] = struct{}{}
			out.OwnerIDs = append(out.OwnerIDs, f.OwnerID)
		}
		vtxBase += vertexCount
	}
	out.IndexData = common.SliceToBytes(indices)
	return out
}

// packOwnerID converts an owner id to the float id lane, masking ids that do
// not fit the 24-bit range. The mask is a known collision risk, warned once
// per session and otherwise accepted.
func packOwnerID(id uint32) float32 {
	if id > MaxOwnerID {
		maskWarnOnce.Do(func() {
			logger.Log.Warn("owner id exceeds the 24-bit id lane and was masked; pick results may collide",
				zap.Uint32("ownerID", id),
				zap.Uint32("maxOwnerID", MaxOwnerID))
		})
		id &= MaxOwnerID
	}
	return float32(id)
}
