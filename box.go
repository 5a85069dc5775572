package samrai

import (
	"fmt"
	"sort"
)

// Box is an n-dimensional axis-aligned inclusive integer index range.
// A box with any upper corner below its lower corner is empty.
type Box struct {
	Lo []int
	Hi []int
}

// NewBox returns a box with the given inclusive corners. The corner slices
// are copied.
func NewBox(lo, hi []int) Box {
	if len(lo) != len(hi) {
		panic(fmt.Sprintf("samrai: corner dimensions differ: %d vs %d", len(lo), len(hi)))
	}
	b := Box{Lo: make([]int, len(lo)), Hi: make([]int, len(hi))}
	copy(b.Lo, lo)
	copy(b.Hi, hi)
	return b
}

// Dim returns the dimensionality of the box.
func (b Box) Dim() int { return len(b.Lo) }

// Empty reports whether the box contains no cells.
func (b Box) Empty() bool {
	for d := range b.Lo {
		if b.Hi[d] < b.Lo[d] {
			return true
		}
	}
	return len(b.Lo) == 0
}

// NumCells returns the extent of the box along dimension d.
func (b Box) NumCells(d int) int {
	n := b.Hi[d] - b.Lo[d] + 1
	if n < 0 {
		return 0
	}
	return n
}

// Volume returns the total cell count of the box.
func (b Box) Volume() int {
	v := 1
	for d := range b.Lo {
		v *= b.NumCells(d)
	}
	if len(b.Lo) == 0 {
		return 0
	}
	return v
}

// Contains reports whether the cell index lies inside the box.
func (b Box) Contains(idx []int) bool {
	for d := range b.Lo {
		if idx[d] < b.Lo[d] || idx[d] > b.Hi[d] {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of b and o, which may be empty.
func (b Box) Intersect(o Box) Box {
	r := Box{Lo: make([]int, b.Dim()), Hi: make([]int, b.Dim())}
	for d := range b.Lo {
		r.Lo[d] = max(b.Lo[d], o.Lo[d])
		r.Hi[d] = min(b.Hi[d], o.Hi[d])
	}
	return r
}

// Intersects reports whether b and o share at least one cell.
func (b Box) Intersects(o Box) bool {
	for d := range b.Lo {
		if max(b.Lo[d], o.Lo[d]) > min(b.Hi[d], o.Hi[d]) {
			return false
		}
	}
	return b.Dim() > 0
}

// Grow returns the box expanded by w cells in every direction along each
// dimension. A negative w shrinks the box.
func (b Box) Grow(w int) Box {
	r := Box{Lo: make([]int, b.Dim()), Hi: make([]int, b.Dim())}
	for d := range b.Lo {
		r.Lo[d] = b.Lo[d] - w
		r.Hi[d] = b.Hi[d] + w
	}
	return r
}

// Bounding returns the smallest box containing both b and o.
func (b Box) Bounding(o Box) Box {
	if b.Empty() {
		return o.Clone()
	}
	if o.Empty() {
		return b.Clone()
	}
	r := Box{Lo: make([]int, b.Dim()), Hi: make([]int, b.Dim())}
	for d := range b.Lo {
		r.Lo[d] = min(b.Lo[d], o.Lo[d])
		r.Hi[d] = max(b.Hi[d], o.Hi[d])
	}
	return r
}

// Equal reports whether b and o have identical corners.
func (b Box) Equal(o Box) bool {
	if b.Dim() != o.Dim() {
		return false
	}
	for d := range b.Lo {
		if b.Lo[d] != o.Lo[d] || b.Hi[d] != o.Hi[d] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the box.
func (b Box) Clone() Box {
	return NewBox(b.Lo, b.Hi)
}

// String formats the box as [lo..hi] per dimension.
func (b Box) String() string {
	return fmt.Sprintf("[%v..%v]", b.Lo, b.Hi)
}

// eachCell calls f for every cell index in the box, reusing one index
// slice across calls. Iteration is row-major with the last dimension
// varying fastest.
func (b Box) eachCell(f func(idx []int)) {
	if b.Empty() {
		return
	}
	idx := make([]int, b.Dim())
	copy(idx, b.Lo)
	for {
		f(idx)
		d := b.Dim() - 1
		for d >= 0 {
			idx[d]++
			if idx[d] <= b.Hi[d] {
				break
			}
			idx[d] = b.Lo[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

// putBoxToBuffer appends the box corners to an integer message buffer.
func putBoxToBuffer(b Box, buf []int) []int {
	buf = append(buf, b.Lo...)
	return append(buf, b.Hi...)
}

// getBoxFromBuffer decodes a box of the given dimensionality from the front
// of buf and returns the remaining buffer.
func getBoxFromBuffer(dim int, buf []int) (Box, []int) {
	b := NewBox(buf[:dim], buf[dim:2*dim])
	return b, buf[2*dim:]
}

// BoxID identifies an output box by its owning process rank and a local
// sequence number assigned by that owner.
type BoxID struct {
	Rank int
	Seq  int
}

// OutputBox is one accepted box in the clustering output.
type OutputBox struct {
	ID         BoxID
	Box        Box
	Generation int
}

// Owner returns the rank of the process that owns the box.
func (b OutputBox) Owner() int { return b.ID.Rank }

// sortOutputBoxes orders boxes by owner rank, then sequence number.
func sortOutputBoxes(boxes []OutputBox) {
	sort.Slice(boxes, func(i, j int) bool {
		if boxes[i].ID.Rank != boxes[j].ID.Rank {
			return boxes[i].ID.Rank < boxes[j].ID.Rank
		}
		return boxes[i].ID.Seq < boxes[j].ID.Seq
	})
}
