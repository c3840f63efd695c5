// Package picking implements CPU-side single-ray picking over the geometry
// store: a slab-method broad phase against each candidate owner's cached
// bounding box, then a Möller–Trumbore narrow phase over every triangle of
// the survivors. No GPU resources are involved; picking works on a headless
// store exactly as it does next to a live device.
package picking

import (
	"math"

	"cogentcore.org/core/math32"
	"github.com/Carmen-Shannon/oxy-mesh/engine/geometry"
)

// triangleEpsilon rejects rays parallel to a triangle and hits behind the
// origin. Matches the double-precision tolerance of the narrow phase.
const triangleEpsilon = 1e-12

// Hit describes the closest intersection found by a raycast.
type Hit struct {
	// OwnerID is the element whose triangle the ray hit.
	OwnerID uint32
	// Distance is the metric distance from the ray origin to the hit point.
	Distance float32
	// ModelIndex identifies the source model of the fragment that was hit.
	ModelIndex int
	// Point is the world-space hit position.
	Point math32.Vector3
}

// raycastQuery collects the per-call filters applied by RaycastOption values.
type raycastQuery struct {
	hidden      map[uint32]struct{}
	isolated    map[uint32]struct{}
	maxDistance float32
}

// RaycastOption is a function that configures a single raycast.
type RaycastOption func(*raycastQuery)

// WithHidden skips the given owners entirely during the raycast.
//
// Parameters:
//   - ids: owner ids to exclude
//
// Returns:
//   - RaycastOption: the option function
func WithHidden(ids []uint32) RaycastOption {
	return func(q *raycastQuery) {
		if len(ids) == 0 {
			return
		}
		if q.hidden == nil {
			q.hidden = make(map[uint32]struct{}, len(ids))
		}
		for _, id := range ids {
			q.hidden[id] = struct{}{}
		}
	}
}

// WithIsolated restricts the raycast to the given owners. An empty set leaves
// the raycast unrestricted.
//
// Parameters:
//   - ids: the only owner ids to consider
//
// Returns:
//   - RaycastOption: the option function
func WithIsolated(ids []uint32) RaycastOption {
	return func(q *raycastQuery) {
		if len(ids) == 0 {
			return
		}
		if q.isolated == nil {
			q.isolated = make(map[uint32]struct{}, len(ids))
		}
		for _, id := range ids {
			q.isolated[id] = struct{}{}
		}
	}
}

// WithMaxDistance discards hits farther than the given distance. Zero or
// negative values leave the raycast unlimited.
//
// Parameters:
//   - distance: the cutoff distance
//
// Returns:
//   - RaycastOption: the option function
func WithMaxDistance(distance float32) RaycastOption {
	return func(q *raycastQuery) {
		q.maxDistance = distance
	}
}

// picker is the implementation of the Picker interface.
type picker struct {
	store       geometry.Store
	maxDistance float32
}

// Picker casts single rays against every owner tracked by the geometry store,
// honoring caller-supplied hidden and isolation filters. Owners without a
// cached bounding box are skipped, not reported.
type Picker interface {
	// Raycast finds the closest triangle intersection along a ray. The
	// direction is normalized internally so the returned distance is metric.
	//
	// Parameters:
	//   - origin: the ray origin
	//   - dir: the ray direction (any non-zero length)
	//   - opts: per-call filters (hidden set, isolation set, max distance)
	//
	// Returns:
	//   - Hit: the closest hit
	//   - bool: false if nothing was hit
	Raycast(origin, dir math32.Vector3, opts ...RaycastOption) (Hit, bool)
}

var _ Picker = &picker{}

// NewPicker creates a picker over a geometry store. Panics if store is nil.
//
// Parameters:
//   - store: the geometry store to cast against (must not be nil)
//   - options: a variadic list of PickerBuilderOption functions
//
// Returns:
//   - Picker: the new picker
func NewPicker(store geometry.Store, options ...PickerBuilderOption) Picker {
	if store == nil {
		panic("picking: NewPicker requires a non-nil geometry.Store")
	}
	p := &picker{store: store}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *picker) Raycast(origin, dir math32.Vector3, opts ...RaycastOption) (Hit, bool) {
	q := raycastQuery{maxDistance: p.maxDistance}
	for _, opt := range opts {
		opt(&q)
	}

	o := vec3f64{float64(origin.X), float64(origin.Y), float64(origin.Z)}
	d := vec3f64{float64(dir.X), float64(dir.Y), float64(dir.Z)}
	length := math.Sqrt(d.dot(d))
	if length == 0 {
		return Hit{}, false
	}
	d = d.scale(1 / length)

	best := Hit{Distance: float32(math.Inf(1))}
	found := false
	bestT := math.Inf(1)
	if q.maxDistance > 0 {
		bestT = float64(q.maxDistance)
	}

	for _, ownerID := range p.store.AllOwnerIDs() {
		if _, skip := q.hidden[ownerID]; skip {
			continue
		}
		if q.isolated != nil {
			if _, keep := q.isolated[ownerID]; !keep {
				continue
			}
		}

		box, ok := p.store.BoundingBoxFor(ownerID)
		if !ok {
			continue
		}
		entry, hit := rayBoxEntry(o, d, box)
		if !hit || entry > bestT {
			continue
		}

		for _, frag := range p.store.Pieces(ownerID) {
			positions := frag.Positions
			for i := 0; i+2 < len(frag.Indices); i += 3 {
				v0 := triVertex(positions, frag.Indices[i])
				v1 := triVertex(positions, frag.Indices[i+1])
				v2 := triVertex(positions, frag.Indices[i+2])
				t, ok := rayTriangle(o, d, v0, v1, v2)
				if ok && t < bestT {
					bestT = t
					point := o.add(d.scale(t))
					best = Hit{
						OwnerID:    ownerID,
						Distance:   float32(t),
						ModelIndex: frag.ModelIndex,
						Point:      math32.Vec3(float32(point.x), float32(point.y), float32(point.z)),
					}
					found = true
				}
			}
		}
	}
	return best, found
}

// rayBoxEntry is the slab-method ray/AABB test. It returns the entry distance
// along the ray, or the exit distance when the origin is inside the box.
func rayBoxEntry(o, d vec3f64, box math32.Box3) (float64, bool) {
	tmin := math.Inf(-1)
	tmax := math.Inf(1)

	bmin := [3]float64{float64(box.Min.X), float64(box.Min.Y), float64(box.Min.Z)}
	bmax := [3]float64{float64(box.Max.X), float64(box.Max.Y), float64(box.Max.Z)}
	op := [3]float64{o.x, o.y, o.z}
	dp := [3]float64{d.x, d.y, d.z}

	for axis := range 3 {
		if dp[axis] != 0 {
			t1 := (bmin[axis] - op[axis]) / dp[axis]
			t2 := (bmax[axis] - op[axis]) / dp[axis]
			if t1 > t2 {
				t1, t2 = t2, t1
			}
			if t1 > tmin {
				tmin = t1
			}
			if t2 < tmax {
				tmax = t2
			}
		} else if op[axis] < bmin[axis] || op[axis] > bmax[axis] {
			return 0, false
		}
	}

	if tmax < tmin || tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		// Origin inside the box.
		return tmax, true
	}
	return tmin, true
}

// rayTriangle is the Möller–Trumbore intersection in double precision,
// returning the distance along the (normalized) ray for hits in front of the
// origin.
func rayTriangle(o, d, v0, v1, v2 vec3f64) (float64, bool) {
	edge1 := v1.sub(v0)
	edge2 := v2.sub(v0)

	h := d.cross(edge2)
	a := edge1.dot(h)
	if math.Abs(a) < triangleEpsilon {
		// Ray parallel to the triangle plane.
		return 0, false
	}

	f := 1 / a
	s := o.sub(v0)
	u := f * s.dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}

	q := s.cross(edge1)
	v := f * d.dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}

	t := f * edge2.dot(q)
	if t <= triangleEpsilon {
		return 0, false
	}
	return t, true
}

// triVertex reads one xyz triplet from a fragment's position stream.
func triVertex(positions []float32, idx uint32) vec3f64 {
	i := int(idx) * 3
	return vec3f64{float64(positions[i]), float64(positions[i+1]), float64(positions[i+2])}
}

// vec3f64 is the double-precision vector the narrow phase computes in.
type vec3f64 struct {
	x, y, z float64
}

func (v vec3f64) add(o vec3f64) vec3f64 {
	return vec3f64{v.x + o.x, v.y + o.y, v.z + o.z}
}

func (v vec3f64) sub(o vec3f64) vec3f64 {
	return vec3f64{v.x - o.x, v.y - o.y, v.z - o.z}
}

func (v vec3f64) scale(s float64) vec3f64 {
	return vec3f64{v.x * s, v.y * s, v.z * s}
}

func (v vec3f64) dot(o vec3f64) float64 {
	return v.x*o.x + v.y*o.y + v.z*o.z
}

func (v vec3f64) cross(o vec3f64) vec3f64 {
	return vec3f64{
		v.y*o.z - v.z*o.y,
		v.z*o.x - v.x*o.z,
		v.x*o.y - v.y*o.x,
	}
}
