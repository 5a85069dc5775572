package samrai

import "fmt"

// TagSource supplies the distributed boolean tag field to the clustering
// engine. Implementations expose only locally resident data: the engine
// never materializes the global field on any one process.
type TagSource interface {
	// Dim returns the dimensionality of the index space.
	Dim() int

	// LocalBoxes returns the patch boxes resident on the calling process.
	LocalBoxes() []Box

	// IsTagged reports whether the cell is tagged. It is only queried for
	// cells inside the local patch boxes.
	IsTagged(idx []int) bool

	// LocalTagCount returns the number of tagged local cells inside box.
	LocalTagCount(box Box) int
}

// CommBound is implemented by tag sources that are bound to a specific
// communicator. When a tag source implements it, NewBergerRigoutsos
// verifies the supplied communicator is congruent before any message is
// posted.
type CommBound interface {
	CommRank() int
	CommSize() int
}

// TagField is an in-memory TagSource holding one boolean per cell of a set
// of patch boxes. It serves serial runs, and one instance per simulated
// rank in distributed tests.
type TagField struct {
	dim     int
	patches []Box
	data    [][]bool

	bound             bool
	commRank, commNum int
}

// NewTagField creates a field over the given patch boxes with every cell
// untagged. All patches must share one dimensionality; overlapping patches
// are the caller's mistake.
func NewTagField(patches []Box) *TagField {
	if len(patches) == 0 {
		return &TagField{}
	}
	f := &TagField{dim: patches[0].Dim()}
	for _, p := range patches {
		if p.Dim() != f.dim {
			panic(fmt.Sprintf("samrai: patch dimension %d != %d", p.Dim(), f.dim))
		}
		f.patches = append(f.patches, p.Clone())
		f.data = append(f.data, make([]bool, p.Volume()))
	}
	return f
}

// BindComm records the communicator identity this field belongs to, for the
// congruency check in NewBergerRigoutsos.
func (f *TagField) BindComm(rank, size int) {
	f.bound = true
	f.commRank = rank
	f.commNum = size
}

// CommRank implements CommBound. It is meaningful only after BindComm.
func (f *TagField) CommRank() int { return f.commRank }

// CommSize implements CommBound. Zero means the field is unbound.
func (f *TagField) CommSize() int {
	if !f.bound {
		return 0
	}
	return f.commNum
}

// Dim returns the dimensionality of the field.
func (f *TagField) Dim() int { return f.dim }

// LocalBoxes returns the patch boxes of this field.
func (f *TagField) LocalBoxes() []Box { return f.patches }

// cellOffset returns the patch index and flat offset for a cell, or -1 if
// the cell lies in no local patch.
func (f *TagField) cellOffset(idx []int) (int, int) {
	for p, patch := range f.patches {
		if !patch.Contains(idx) {
			continue
		}
		off := 0
		for d := 0; d < f.dim; d++ {
			off = off*patch.NumCells(d) + (idx[d] - patch.Lo[d])
		}
		return p, off
	}
	return -1, -1
}

// SetTag marks the cell as tagged. Cells outside the local patches are
// ignored, so a test can replay one global tag pattern into every rank's
// field.
func (f *TagField) SetTag(idx []int) {
	if p, off := f.cellOffset(idx); p >= 0 {
		f.data[p][off] = true
	}
}

// ClearTag unmarks the cell.
func (f *TagField) ClearTag(idx []int) {
	if p, off := f.cellOffset(idx); p >= 0 {
		f.data[p][off] = false
	}
}

// IsTagged implements TagSource.
func (f *TagField) IsTagged(idx []int) bool {
	p, off := f.cellOffset(idx)
	return p >= 0 && f.data[p][off]
}

// LocalTagCount implements TagSource.
func (f *TagField) LocalTagCount(box Box) int {
	n := 0
	for _, patch := range f.patches {
		overlap := patch.Intersect(box)
		if overlap.Empty() {
			continue
		}
		overlap.eachCell(func(idx []int) {
			if f.IsTagged(idx) {
				n++
			}
		})
	}
	return n
}
