// package common contains common types that are used throughout this library. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

// ColorMergeTolerance is the per-channel tolerance under which two fragment
// colors are considered the same color for merging and bucket-filter
// purposes. Quantization for bucket keys is intentionally coarser; this
// tolerance only governs on-demand fragment merging.
const ColorMergeTolerance float32 = 0.01

// MeshFragment represents one contiguous triangle group belonging to one logical element.
// An element may own several fragments (multi-material elements), each carrying its own color.
// Positions and Normals are tightly packed xyz triplets; Indices address vertices local to
// this fragment only (merging recomputes offsets).
type MeshFragment struct {
	// OwnerID is the stable identifier of the logical element this fragment belongs to.
	OwnerID uint32
	// ModelIndex identifies which source model this fragment came from when several
	// models share one scene. Zero for single-model scenes.
	ModelIndex int
	// Positions holds 3 float32 components per vertex.
	Positions []float32
	// Normals holds 3 float32 components per vertex, parallel to Positions.
	Normals []float32
	// Indices holds triangle-list indices local to this fragment.
	Indices []uint32
	// Color is the RGBA base color of every vertex in this fragment.
	Color [4]float32
	// TypeTag is the freeform class name of the owning element (e.g. a wall or duct
	// category from the source format). May be empty.
	TypeTag string
}

// VertexCount returns the number of vertices in the fragment.
//
// Returns:
//   - int: the number of xyz triplets in Positions
func (f *MeshFragment) VertexCount() int {
	return len(f.Positions) / 3
}

// TriangleCount returns the number of triangles in the fragment.
//
// Returns:
//   - int: the number of index triplets in Indices
func (f *MeshFragment) TriangleCount() int {
	return len(f.Indices) / 3
}

// ColorsWithinTolerance reports whether two RGBA colors are equal within a
// per-channel absolute tolerance.
//
// Parameters:
//   - a: first color
//   - b: second color
//   - tolerance: maximum allowed per-channel difference
//
// Returns:
//   - bool: true if every channel differs by at most tolerance
func ColorsWithinTolerance(a, b [4]float32, tolerance float32) bool {
	for i := range 4 {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > tolerance {
			return false
		}
	}
	return true
}
