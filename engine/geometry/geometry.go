// Package geometry implements the per-element fragment store that every other
// part of the batching subsystem reads from. Fragments live here independently
// of GPU residency, which is what enables lazy batch construction, CPU-side
// picking, and bounding-box queries without a device.
package geometry

import (
	"sync"

	"cogentcore.org/core/math32"
	"github.com/Carmen-Shannon/oxy-mesh/common"
)

// Handle is the stable numeric identity of a fragment inside the store.
// Handles are assigned monotonically at admission, never reused within a
// session, and reset only by Clear. All reverse maps in the subsystem key on
// the handle rather than on fragment values.
type Handle uint64

// fragmentRecord is the stored form of a fragment. The type tag is interned
// in the store's string table; the record holds only its index.
type fragmentRecord struct {
	frag   common.MeshFragment
	tagIdx int
}

// store is the implementation of the Store interface.
type store struct {
	mu         *sync.RWMutex
	records    map[Handle]*fragmentRecord
	byOwner    map[uint32][]Handle
	owners     []uint32 // admission order, for deterministic enumeration
	boxes      map[uint32]math32.Box3
	tags       []string
	tagLookup  map[string]int
	nextHandle Handle
	zUpSource  bool
}

// Store accumulates raw mesh fragments per owning element. It is the single
// shared source of truth read by batch construction, partial-visibility
// filtering, color overlays, and the spatial picker; none of those may mutate
// a fragment's geometry. The only permitted mutation after admission is the
// color field, via SetColor, as part of the recoloring operation.
type Store interface {
	// AddFragment appends a fragment to its owner's list, never overwriting
	// existing fragments, and assigns its handle. The store takes ownership of
	// the fragment's slices; callers must not reuse them. When the store was
	// built with a Z-up source, positions and normals are converted to Y-up
	// here, at admission, so every downstream consumer sees one convention.
	//
	// Parameters:
	//   - f: the fragment to admit
	//
	// Returns:
	//   - Handle: the fragment's stable handle
	AddFragment(f common.MeshFragment) Handle

	// Fragment returns the fragment for a handle. The returned value shares
	// its geometry slices with the store; treat them as read-only.
	//
	// Parameters:
	//   - h: the fragment handle
	//
	// Returns:
	//   - common.MeshFragment: the fragment
	//   - bool: false if the handle is unknown
	Fragment(h Handle) (common.MeshFragment, bool)

	// SetColor mutates a fragment's color. This is the only post-admission
	// mutation the store permits.
	//
	// Parameters:
	//   - h: the fragment handle
	//   - color: the new RGBA color
	//
	// Returns:
	//   - bool: false if the handle is unknown
	SetColor(h Handle, color [4]float32) bool

	// OwnerOf returns the owner id a handle belongs to.
	//
	// Parameters:
	//   - h: the fragment handle
	//
	// Returns:
	//   - uint32: the owner id
	//   - bool: false if the handle is unknown
	OwnerOf(h Handle) (uint32, bool)

	// FragmentsOf returns the handles of every fragment owned by an element,
	// in admission order.
	//
	// Parameters:
	//   - ownerID: the owning element id
	//
	// Returns:
	//   - []Handle: the owner's fragment handles (a copy)
	FragmentsOf(ownerID uint32) []Handle

	// Pieces returns every fragment of an owner unmerged, in admission order.
	// This is the accessor for callers that need all pieces of a
	// multi-material element regardless of color.
	//
	// Parameters:
	//   - ownerID: the owning element id
	//
	// Returns:
	//   - []common.MeshFragment: the owner's fragments
	Pieces(ownerID uint32) []common.MeshFragment

	// MergedFragment returns an owner's fragments combined into one, when that
	// is safe. Fragments sharing one color within the merge tolerance are
	// merged on demand with index offsets recomputed. If colors differ beyond
	// tolerance, the first fragment is returned unmerged so per-piece coloring
	// is never corrupted; callers needing everything use Pieces.
	//
	// Parameters:
	//   - ownerID: the owning element id
	//   - modelIndex: restrict to fragments of one source model; negative means any
	//
	// Returns:
	//   - common.MeshFragment: the merged (or first) fragment
	//   - bool: false if the owner has no matching fragments
	MergedFragment(ownerID uint32, modelIndex int) (common.MeshFragment, bool)

	// TypeTagOf returns the interned type tag of a fragment, or "" if the
	// handle is unknown.
	TypeTagOf(h Handle) string

	// TagIndex returns the interned tag table in first-seen order. Fragment
	// records reference tags by index so millions of fragments do not
	// duplicate strings.
	TagIndex() []string

	// AllOwnerIDs enumerates every tracked owner in admission order.
	//
	// Returns:
	//   - []uint32: the owner ids (a copy)
	AllOwnerIDs() []uint32

	// BoundingBoxFor returns the axis-aligned bounding box over all of an
	// owner's fragments. Boxes are computed lazily and cached; admission of
	// new geometry for the owner invalidates the cache entry.
	//
	// Parameters:
	//   - ownerID: the owning element id
	//
	// Returns:
	//   - math32.Box3: the owner's bounds
	//   - bool: false if the owner has no vertices
	BoundingBoxFor(ownerID uint32) (math32.Box3, bool)

	// SceneBounds returns the union of every owner's bounding box. Empty if
	// the store is empty.
	SceneBounds() math32.Box3

	// Len returns the number of fragments in the store.
	Len() int

	// Clear removes every fragment, cached box, and interned tag, and resets
	// the handle counter. GPU-side teardown is the caller's job; the store
	// never holds device resources.
	Clear()
}

var _ Store = &store{}

// NewStore creates an empty geometry store.
//
// Parameters:
//   - options: a variadic list of StoreBuilderOption functions
//
// Returns:
//   - Store: the new store
func NewStore(options ...StoreBuilderOption) Store {
	s := &store{
		mu:         &sync.RWMutex{},
		records:    make(map[Handle]*fragmentRecord),
		byOwner:    make(map[uint32][]Handle),
		boxes:      make(map[uint32]math32.Box3),
		tagLookup:  make(map[string]int),
		nextHandle: 1,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *store) AddFragment(f common.MeshFragment) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.zUpSource {
		convertZUpToYUp(f.Positions)
		convertZUpToYUp(f.Normals)
	}

	tagIdx := s.internTag(f.TypeTag)
	f.TypeTag = ""

	h := s.nextHandle
	s.nextHandle++
	s.records[h] = &fragmentRecord{frag: f, tagIdx: tagIdx}

	if _, seen := s.byOwner[f.OwnerID]; !seen {
		s.owners = append(s.owners, f.OwnerID)
	}
	s.byOwner[f.OwnerID] = append(s.byOwner[f.OwnerID], h)
	delete(s.boxes, f.OwnerID)

	return h
}

func (s *store) Fragment(h Handle) (common.MeshFragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[h]
	if !ok {
		return common.MeshFragment{}, false
	}
	return s.withTag(rec), true
}

func (s *store) SetColor(h Handle, color [4]float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[h]
	if !ok {
		return false
	}
	rec.frag.Color = color
	return true
}

func (s *store) OwnerOf(h Handle) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[h]
	if !ok {
		return 0, false
	}
	return rec.frag.OwnerID, true
}

func (s *store) FragmentsOf(ownerID uint32) []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := s.byOwner[ownerID]
	out := make([]Handle, len(handles))
	copy(out, handles)
	return out
}

func (s *store) Pieces(ownerID uint32) []common.MeshFragment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := s.byOwner[ownerID]
	out := make([]common.MeshFragment, 0, len(handles))
	for _, h := range handles {
		out = append(out, s.withTag(s.records[h]))
	}
	return out
}

func (s *store) MergedFragment(ownerID uint32, modelIndex int) (common.MeshFragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*fragmentRecord
	for _, h := range s.byOwner[ownerID] {
		rec := s.records[h]
		if modelIndex >= 0 && rec.frag.ModelIndex != modelIndex {
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return common.MeshFragment{}, false
	}
	if len(recs) == 1 {
		return s.withTag(recs[0]), true
	}

	first := recs[0]
	for _, rec := range recs[1:] {
		if !common.ColorsWithinTolerance(first.frag.Color, rec.frag.Color, common.ColorMergeTolerance) {
			// Differing colors: merging would corrupt per-piece coloring, so
			// the first fragment stands in for the element.
			return s.withTag(first), true
		}
	}

	totalVerts, totalIdx := 0, 0
	for _, rec := range recs {
		totalVerts += rec.frag.VertexCount()
		totalIdx += len(rec.frag.Indices)
	}

	merged := common.MeshFragment{
		OwnerID:    ownerID,
		ModelIndex: first.frag.ModelIndex,
		Positions:  make([]float32, 0, totalVerts*3),
		Normals:    make([]float32, 0, totalVerts*3),
		Indices:    make([]uint32, 0, totalIdx),
		Color:      first.frag.Color,
		TypeTag:    s.tags[first.tagIdx],
	}
	vertexOffset := uint32(0)
	for _, rec := range recs {
		merged.Positions = append(merged.Positions, rec.frag.Positions...)
		merged.Normals = append(merged.Normals, rec.frag.Normals...)
		for _, idx := range rec.frag.Indices {
			merged.Indices = append(merged.Indices, idx+vertexOffset)
		}
		vertexOffset += uint32(rec.frag.VertexCount())
	}
	return merged, true
}

func (s *store) TypeTagOf(h Handle) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[h]
	if !ok {
		return ""
	}
	return s.tags[rec.tagIdx]
}

func (s *store) TagIndex() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

func (s *store) AllOwnerIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint32, len(s.owners))
	copy(out, s.owners)
	return out
}

func (s *store) BoundingBoxFor(ownerID uint32) (math32.Box3, bool) {
	s.mu.RLock()
	box, ok := s.boxes[ownerID]
	s.mu.RUnlock()
	if ok {
		return box, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundingBoxLocked(ownerID)
}

func (s *store) SceneBounds() math32.Box3 {
	s.mu.Lock()
	defer s.mu.Unlock()

	bounds := math32.B3Empty()
	for _, ownerID := range s.owners {
		if box, ok := s.boundingBoxLocked(ownerID); ok {
			bounds.ExpandByBox(box)
		}
	}
	return bounds
}

func (s *store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[Handle]*fragmentRecord)
	s.byOwner = make(map[uint32][]Handle)
	s.owners = nil
	s.boxes = make(map[uint32]math32.Box3)
	s.tags = nil
	s.tagLookup = make(map[string]int)
	s.nextHandle = 1
}

// boundingBoxLocked computes and caches an owner's box. Caller holds the
// write lock.
func (s *store) boundingBoxLocked(ownerID uint32) (math32.Box3, bool) {
	if box, ok := s.boxes[ownerID]; ok {
		return box, true
	}

	box := math32.B3Empty()
	hasVerts := false
	for _, h := range s.byOwner[ownerID] {
		positions := s.records[h].frag.Positions
		for i := 0; i+2 < len(positions); i += 3 {
			box.ExpandByPoint(math32.Vec3(positions[i], positions[i+1], positions[i+2]))
			hasVerts = true
		}
	}
	if !hasVerts {
		return math32.B3Empty(), false
	}
	s.boxes[ownerID] = box
	return box, true
}

// withTag returns the record's fragment with its interned tag restored.
// Caller holds at least the read lock.
func (s *store) withTag(rec *fragmentRecord) common.MeshFragment {
	f := rec.frag
	f.TypeTag = s.tags[rec.tagIdx]
	return f
}

// internTag returns the table index for a tag, adding it on first sight.
// Caller holds the write lock.
func (s *store) internTag(tag string) int {
	if idx, ok := s.tagLookup[tag]; ok {
		return idx
	}
	idx := len(s.tags)
	s.tags = append(s.tags, tag)
	s.tagLookup[tag] = idx
	return idx
}

// convertZUpToYUp rotates xyz triplets from a Z-up to a Y-up convention in
// place: (x, y, z) becomes (x, z, -y).
func convertZUpToYUp(components []float32) {
	for i := 0; i+2 < len(components); i += 3 {
		y := components[i+1]
		components[i+1] = components[i+2]
		components[i+2] = -y
	}
}
