package samrai

// histogram holds, for each dimension of a candidate box, the count of
// tagged cells projected onto each coordinate along that dimension. The
// sum over any one dimension equals the total tag count in the box.
type histogram struct {
	box    Box
	counts [][]int
}

func newHistogram(box Box) histogram {
	h := histogram{box: box, counts: make([][]int, box.Dim())}
	for d := range h.counts {
		h.counts[d] = make([]int, box.NumCells(d))
	}
	return h
}

// makeLocalTagHistogram projects the locally resident tags inside box onto
// each dimension. Only cells in the calling process's own patches are
// visited.
func makeLocalTagHistogram(tags TagSource, box Box) histogram {
	h := newHistogram(box)
	for _, patch := range tags.LocalBoxes() {
		overlap := patch.Intersect(box)
		if overlap.Empty() {
			continue
		}
		overlap.eachCell(func(idx []int) {
			if !tags.IsTagged(idx) {
				return
			}
			for d := range idx {
				h.counts[d][idx[d]-box.Lo[d]]++
			}
		})
	}
	return h
}

// numTags returns the total tag count in the box.
func (h histogram) numTags() int {
	if len(h.counts) == 0 {
		return 0
	}
	n := 0
	for _, c := range h.counts[0] {
		n += c
	}
	return n
}

// histogramBufferSize returns the flat message length for a histogram of
// the given box: the sum of the box extents over all dimensions.
func histogramBufferSize(box Box) int {
	size := 0
	for d := 0; d < box.Dim(); d++ {
		size += box.NumCells(d)
	}
	return size
}

// toBuffer appends the concatenated per-dimension counts to buf.
func (h histogram) toBuffer(buf []int) []int {
	for _, c := range h.counts {
		buf = append(buf, c...)
	}
	return buf
}

// fromBuffer overwrites the histogram counts from a flat buffer produced by
// toBuffer for the same box.
func (h histogram) fromBuffer(buf []int) {
	for _, c := range h.counts {
		copy(c, buf[:len(c)])
		buf = buf[len(c):]
	}
}

// tagBoundingBox returns the smallest box containing all nonzero histogram
// entries, or an empty box if the histogram is entirely zero.
func (h histogram) tagBoundingBox() Box {
	b := Box{Lo: make([]int, h.box.Dim()), Hi: make([]int, h.box.Dim())}
	for d, c := range h.counts {
		lo, hi := -1, -1
		for i, v := range c {
			if v != 0 {
				if lo < 0 {
					lo = i
				}
				hi = i
			}
		}
		if lo < 0 {
			return Box{Lo: []int{0}, Hi: []int{-1}}
		}
		b.Lo[d] = h.box.Lo[d] + lo
		b.Hi[d] = h.box.Lo[d] + hi
	}
	return b
}

// restrict returns the histogram narrowed to a sub-box of the original.
func (h histogram) restrict(box Box) histogram {
	r := histogram{box: box, counts: make([][]int, box.Dim())}
	for d := range r.counts {
		off := box.Lo[d] - h.box.Lo[d]
		r.counts[d] = h.counts[d][off : off+box.NumCells(d)]
	}
	return r
}

// cutConstraints collects the parameters bounding where a candidate box may
// be bisected.
type cutConstraints struct {
	// minCut is the minimum extent either side of a cut must keep, per
	// dimension.
	minCut []int
	// maxCenterFrac limits how far from the box center a Laplace cut may
	// lie, as a fraction of the half-extent. Zero means cut only at the
	// center plane; one means anywhere.
	maxCenterFrac float64
	// thresholdAR controls which dimensions besides the thickest are
	// eligible for cutting. Higher values tolerate higher aspect ratios;
	// zero restricts cutting to the thickest dimension.
	thresholdAR float64
}

// cutRange returns the inclusive range of valid cut planes [kmin, kmax]
// along a dimension of the given extent. A cut at plane k splits cells
// [0,k-1] from [k,extent-1].
func (c cutConstraints) cutRange(d, extent int) (int, int, bool) {
	kmin := c.minCut[d]
	kmax := extent - c.minCut[d]
	// Limit to the allowed distance from the geometric center.
	center := float64(extent) / 2
	maxDist := c.maxCenterFrac * center
	if lo := int(center - maxDist); lo > kmin {
		kmin = lo
	}
	if hi := int(center+maxDist) + 1; hi < kmax {
		kmax = hi
	}
	if kmin < 1 {
		kmin = 1
	}
	if kmax > extent-1 {
		kmax = extent - 1
	}
	return kmin, kmax, kmin <= kmax
}

// attemptCut finds the best bisection plane for the histogram's box. It
// first looks for a zero-histogram gap on any eligible dimension, thickest
// first, then falls back to the point of maximum second-difference
// (inflection) on the thickest dimension admitting a valid cut. The
// returned k is the plane offset from the box lower corner along dimension
// d. ok is false when no plane satisfies the constraints, in which case the
// box must be accepted as-is to guarantee termination.
func (h histogram) attemptCut(c cutConstraints) (dim, k int, ok bool) {
	order := h.eligibleDims(c.thresholdAR)

	for _, d := range order {
		kmin, kmax, valid := c.cutRange(d, h.box.NumCells(d))
		if !valid {
			continue
		}
		if k, found := zeroCutSwath(h.counts[d], kmin, kmax); found {
			return d, k, true
		}
	}
	for _, d := range order {
		kmin, kmax, valid := c.cutRange(d, h.box.NumCells(d))
		if !valid {
			continue
		}
		return d, inflectionCut(h.counts[d], kmin, kmax), true
	}
	return 0, 0, false
}

// eligibleDims returns the dimensions eligible for cutting, in decreasing
// extent order. A dimension other than the thickest is eligible only when
// its extent times the aspect-ratio threshold reaches the thickest extent.
func (h histogram) eligibleDims(thresholdAR float64) []int {
	dim := h.box.Dim()
	maxExt := 0
	for d := 0; d < dim; d++ {
		if h.box.NumCells(d) > maxExt {
			maxExt = h.box.NumCells(d)
		}
	}
	var dims []int
	for d := 0; d < dim; d++ {
		ext := h.box.NumCells(d)
		if ext == maxExt || float64(ext)*thresholdAR >= float64(maxExt) {
			dims = append(dims, d)
		}
	}
	// Thickest first; ties keep the lower dimension index.
	for i := 1; i < len(dims); i++ {
		for j := i; j > 0 && h.box.NumCells(dims[j]) > h.box.NumCells(dims[j-1]); j-- {
			dims[j], dims[j-1] = dims[j-1], dims[j]
		}
	}
	return dims
}

// zeroCutSwath searches for a maximal run of zero histogram values and
// returns a cut plane through the run nearest its middle, clipped to
// [kmin, kmax]. Among several runs the one whose midpoint is closest to
// the box center wins.
func zeroCutSwath(counts []int, kmin, kmax int) (int, bool) {
	n := len(counts)
	center := float64(n) / 2
	bestK := -1
	bestDist := 0.0
	i := 0
	for i < n {
		if counts[i] != 0 {
			i++
			continue
		}
		a := i
		for i < n && counts[i] == 0 {
			i++
		}
		b := i - 1
		// Valid planes through the run are a..b+1; aim for its middle.
		k := (a + b + 2) / 2
		if k < kmin {
			k = kmin
		}
		if k > kmax {
			k = kmax
		}
		if k < a || k > b+1 {
			continue
		}
		dist := float64(k) - center
		if dist < 0 {
			dist = -dist
		}
		if bestK < 0 || dist < bestDist {
			bestK, bestDist = k, dist
		}
	}
	return bestK, bestK >= 0
}

// inflectionCut returns the plane in [kmin, kmax] where the discrete
// Laplacian of the histogram changes the most, preferring planes nearer
// the box center on ties.
func inflectionCut(counts []int, kmin, kmax int) int {
	n := len(counts)
	lap := func(j int) int {
		if j < 1 || j > n-2 {
			return 0
		}
		return counts[j-1] - 2*counts[j] + counts[j+1]
	}
	center := float64(n) / 2
	bestK := kmin
	bestDelta := -1
	bestDist := 0.0
	for k := kmin; k <= kmax; k++ {
		delta := lap(k) - lap(k-1)
		if delta < 0 {
			delta = -delta
		}
		dist := float64(k) - center
		if dist < 0 {
			dist = -dist
		}
		if delta > bestDelta || (delta == bestDelta && dist < bestDist) {
			bestK, bestDelta, bestDist = k, delta, dist
		}
	}
	return bestK
}
