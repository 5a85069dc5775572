package samrai

import (
	"errors"
	"math/rand"
	"testing"
)

// tagAll sets every cell listed in cells.
func tagAll(f *TagField, cells [][]int) {
	for _, c := range cells {
		f.SetTag(c)
	}
}

// checkClustering verifies the fundamental output invariants: boxes are
// disjoint, lie inside the bound, and together cover exactly the tagged
// cells' neighborhood (every tagged cell is in exactly one box).
func checkClustering(t *testing.T, boxes []OutputBox, tagged [][]int, bound Box) {
	t.Helper()
	for i := range boxes {
		if boxes[i].Box.Empty() {
			t.Errorf("box %d is empty: %v", i, boxes[i].Box)
		}
		if !bound.Intersect(boxes[i].Box).Equal(boxes[i].Box) {
			t.Errorf("box %d = %v exceeds bound %v", i, boxes[i].Box, bound)
		}
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].Box.Intersects(boxes[j].Box) {
				t.Errorf("boxes %d and %d overlap: %v, %v", i, j, boxes[i].Box, boxes[j].Box)
			}
		}
	}
	for _, c := range tagged {
		n := 0
		for i := range boxes {
			if boxes[i].Box.Contains(c) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("tagged cell %v covered by %d boxes, want 1", c, n)
		}
	}
}

func serialRun(t *testing.T, cells [][]int, bound Box, cfg Config) *Result {
	t.Helper()
	f := NewTagField([]Box{bound})
	tagAll(f, cells)
	res, err := FindBoxesContainingTags(f, []Box{bound}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkClustering(t, res.Boxes, cells, bound)
	return res
}

func TestCluster_SingleEfficientBlock(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	cells := [][]int{{3, 3}, {3, 4}, {4, 3}, {4, 4}}
	res := serialRun(t, cells, bound, DefaultConfig())

	if len(res.Boxes) != 1 {
		t.Fatalf("expected 1 box, got %d: %v", len(res.Boxes), res.Boxes)
	}
	want := NewBox([]int{3, 3}, []int{4, 4})
	if !res.Boxes[0].Box.Equal(want) {
		t.Errorf("box = %v, want %v", res.Boxes[0].Box, want)
	}
	if res.Stats.NumTags != 4 {
		t.Errorf("NumTags = %d, want 4", res.Stats.NumTags)
	}
}

func TestCluster_CornerCellsSplitToUnitBoxes(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	cells := [][]int{{0, 0}, {7, 7}}
	res := serialRun(t, cells, bound, DefaultConfig())

	if len(res.Boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d: %v", len(res.Boxes), res.Boxes)
	}
	for _, b := range res.Boxes {
		if b.Box.Volume() != 1 {
			t.Errorf("expected unit box, got %v", b.Box)
		}
	}
}

func TestCluster_Recombination(t *testing.T) {
	// Two cells separated by one gap: the gap forces a split; whether the
	// pair merges back depends on the combine tolerance (2 tags over 3
	// combined cells).
	bound := NewBox([]int{0, 0}, []int{0, 7})
	cells := [][]int{{0, 0}, {0, 2}}

	cfg := DefaultConfig()
	cfg.CombineTol = 0.5
	res := serialRun(t, cells, bound, cfg)
	if len(res.Boxes) != 1 {
		t.Fatalf("with CombineTol=0.5 expected 1 merged box, got %d: %v", len(res.Boxes), res.Boxes)
	}
	want := NewBox([]int{0, 0}, []int{0, 2})
	if !res.Boxes[0].Box.Equal(want) {
		t.Errorf("merged box = %v, want %v", res.Boxes[0].Box, want)
	}

	cfg = DefaultConfig() // CombineTol = 0.8 rejects the merge
	res = serialRun(t, cells, bound, cfg)
	if len(res.Boxes) != 2 {
		t.Fatalf("with CombineTol=0.8 expected 2 boxes, got %d: %v", len(res.Boxes), res.Boxes)
	}
}

func TestCluster_MaxBoxSizeForcesSplit(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	var cells [][]int
	bound.eachCell(func(idx []int) {
		cells = append(cells, append([]int(nil), idx...))
	})
	cfg := DefaultConfig()
	cfg.MaxBoxSize = []int{4, 8}
	res := serialRun(t, cells, bound, cfg)

	if len(res.Boxes) < 2 {
		t.Fatalf("expected a split, got %d boxes", len(res.Boxes))
	}
	for _, b := range res.Boxes {
		if b.Box.NumCells(0) > 4 {
			t.Errorf("box %v exceeds MaxBoxSize in dimension 0", b.Box)
		}
	}
}

func TestCluster_MinCutSizeBlocksSplitting(t *testing.T) {
	// The cut floor spans the whole extent, so the inefficient bounding box
	// must be accepted whole.
	bound := NewBox([]int{0, 0}, []int{7, 7})
	cells := [][]int{{0, 0}, {7, 7}}
	cfg := DefaultConfig()
	cfg.MinBoxSizeFromCutting = []int{8, 8}
	res := serialRun(t, cells, bound, cfg)

	if len(res.Boxes) != 1 {
		t.Fatalf("expected 1 box, got %d: %v", len(res.Boxes), res.Boxes)
	}
	if !res.Boxes[0].Box.Equal(bound) {
		t.Errorf("box = %v, want the full bound %v", res.Boxes[0].Box, bound)
	}
}

func TestCluster_ShrinkToTagBoundingBox(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{15, 15})
	cells := [][]int{{5, 6}, {5, 7}, {6, 6}, {6, 7}}
	res := serialRun(t, cells, bound, DefaultConfig())

	if len(res.Boxes) != 1 {
		t.Fatalf("expected 1 box, got %d", len(res.Boxes))
	}
	want := NewBox([]int{5, 6}, []int{6, 7})
	if !res.Boxes[0].Box.Equal(want) {
		t.Errorf("box = %v, want %v", res.Boxes[0].Box, want)
	}
	if res.Boxes[0].Generation != 1 {
		t.Errorf("generation = %d, want 1", res.Boxes[0].Generation)
	}
}

func TestCluster_ThreeDimensional(t *testing.T) {
	bound := NewBox([]int{0, 0, 0}, []int{7, 7, 7})
	cells := [][]int{
		{1, 1, 1}, {1, 1, 2}, {1, 2, 1}, {1, 2, 2},
		{2, 1, 1}, {2, 1, 2}, {2, 2, 1}, {2, 2, 2},
		{6, 6, 6},
	}
	res := serialRun(t, cells, bound, DefaultConfig())

	if len(res.Boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d: %v", len(res.Boxes), res.Boxes)
	}
}

func TestCluster_StatsConsistency(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{15, 15})
	cells := [][]int{{0, 0}, {3, 12}, {9, 4}, {15, 15}}
	res := serialRun(t, cells, bound, DefaultConfig())

	s := res.Stats
	if s.NodesActive != 0 || s.NodesOwned != 0 || s.NodesAllocated != 0 || s.NodesCommWait != 0 {
		t.Errorf("live counters not drained: %+v", s)
	}
	if s.NodesCompleted < 1 {
		t.Errorf("NodesCompleted = %d, want >= 1", s.NodesCompleted)
	}
	if s.BoxesGenerated != len(res.Boxes) {
		t.Errorf("BoxesGenerated = %d, want %d", s.BoxesGenerated, len(res.Boxes))
	}
	if s.NumTags != len(cells) {
		t.Errorf("NumTags = %d, want %d", s.NumTags, len(cells))
	}
	if s.MaxGeneration < 1 {
		t.Errorf("MaxGeneration = %d, want >= 1", s.MaxGeneration)
	}
	if avg := s.AvgContinuations(); avg <= 0 {
		t.Errorf("AvgContinuations = %g, want > 0", avg)
	}
}

func TestCluster_LocalBoxesMatchGlobalInSerial(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	cells := [][]int{{0, 0}, {7, 7}}
	res := serialRun(t, cells, bound, DefaultConfig())

	if len(res.LocalBoxes) != len(res.Boxes) {
		t.Fatalf("serial run: LocalBoxes has %d entries, Boxes has %d",
			len(res.LocalBoxes), len(res.Boxes))
	}
	for i := range res.Boxes {
		if res.Boxes[i].ID != res.LocalBoxes[i].ID {
			t.Errorf("box %d: ID %v != %v", i, res.Boxes[i].ID, res.LocalBoxes[i].ID)
		}
		if res.Boxes[i].Owner() != 0 {
			t.Errorf("box %d owned by rank %d, want 0", i, res.Boxes[i].Owner())
		}
	}
}

func TestConfig_Validation(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"efficiency tol above one", func(c *Config) { c.EfficiencyTol = 1.5 }},
		{"negative combine tol", func(c *Config) { c.CombineTol = -0.1 }},
		{"wrong min box size length", func(c *Config) { c.MinBoxSize = []int{1} }},
		{"zero min box size", func(c *Config) { c.MinBoxSize = []int{0, 1} }},
		{"max below min", func(c *Config) { c.MinBoxSize = []int{4, 4}; c.MaxBoxSize = []int{2, 8} }},
		{"inflection frac above one", func(c *Config) { c.MaxInflectionCutFromCenter = 2 }},
		{"negative ghost width", func(c *Config) { c.GhostWidth = -1 }},
		{"unknown advance mode", func(c *Config) { c.AdvanceMode = "EVENTUALLY" }},
		{"unknown owner mode", func(c *Config) { c.OwnerMode = "RICHEST" }},
		{"unknown relationship mode", func(c *Config) { c.RelationshipMode = "ALL" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			f := NewTagField([]Box{bound})
			if _, err := NewBergerRigoutsos(f, cfg); err == nil {
				t.Errorf("expected a validation error")
			}
		})
	}
}

func TestCluster_EfficiencyFloor(t *testing.T) {
	// Every output box holds at least the tolerance's fraction of tagged
	// cells. With a unit minimum cut size the only boxes accepted below
	// tolerance would be single cells, which are fully tagged anyway, so
	// the floor must hold for every box of every pattern.
	bound := NewBox([]int{0, 0}, []int{15, 15})
	cfg := DefaultConfig()
	cfg.EfficiencyTol = 0.7
	rng := rand.New(rand.NewSource(9))
	for trial := 0; trial < 100; trial++ {
		f := NewTagField([]Box{bound})
		var cells [][]int
		seen := make(map[[2]int]bool)
		for n := 1 + rng.Intn(40); n > 0; n-- {
			c := [2]int{rng.Intn(16), rng.Intn(16)}
			if seen[c] {
				continue
			}
			seen[c] = true
			cells = append(cells, []int{c[0], c[1]})
		}
		tagAll(f, cells)
		res, err := FindBoxesContainingTags(f, []Box{bound}, cfg)
		if err != nil {
			t.Fatalf("trial %d: unexpected error: %v", trial, err)
		}
		checkClustering(t, res.Boxes, cells, bound)
		for _, b := range res.Boxes {
			eff := float64(f.LocalTagCount(b.Box)) / float64(b.Box.Volume())
			if eff < cfg.EfficiencyTol {
				t.Fatalf("trial %d: box %v efficiency %.3f below %.2f",
					trial, b.Box, eff, cfg.EfficiencyTol)
			}
		}
	}
}

func TestCluster_CommunicatorMismatch(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	f := NewTagField([]Box{bound})
	f.BindComm(1, 4) // field claims rank 1 of 4, run is serial
	_, err := NewBergerRigoutsos(f, DefaultConfig())
	if !errors.Is(err, ErrCommunicatorMismatch) {
		t.Fatalf("err = %v, want ErrCommunicatorMismatch", err)
	}
}

func TestCluster_RunIsOneShot(t *testing.T) {
	bound := NewBox([]int{0, 0}, []int{7, 7})
	f := NewTagField([]Box{bound})
	f.SetTag([]int{1, 1})
	d, err := NewBergerRigoutsos(f, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Run([]Box{bound}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := d.Run([]Box{bound}); err == nil {
		t.Fatalf("second run should fail")
	}
}

func TestCluster_BoundErrors(t *testing.T) {
	f := NewTagField([]Box{NewBox([]int{0, 0}, []int{7, 7})})
	d, err := NewBergerRigoutsos(f, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Run([]Box{NewBox([]int{0}, []int{7})}); err == nil {
		t.Errorf("dimension mismatch should fail")
	}
	d, _ = NewBergerRigoutsos(f, DefaultConfig())
	if _, err := d.Run([]Box{NewBox([]int{4, 4}, []int{2, 2})}); err == nil {
		t.Errorf("empty bound should fail")
	}
	d, _ = NewBergerRigoutsos(f, DefaultConfig())
	if _, err := d.Run(nil); err == nil {
		t.Errorf("empty bound list should fail")
	}
}

func TestCluster_MultiBlock(t *testing.T) {
	// Two blocks of a multiblock index space, each clustered from its own
	// root.
	blocks := []Box{
		NewBox([]int{0, 0}, []int{7, 7}),
		NewBox([]int{12, 12}, []int{19, 19}),
	}
	f := NewTagField(blocks)
	cells := [][]int{{1, 1}, {1, 2}, {2, 1}, {2, 2}, {14, 14}}
	tagAll(f, cells)
	res, err := FindBoxesContainingTags(f, blocks, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d: %v", len(res.Boxes), res.Boxes)
	}
	for _, b := range res.Boxes {
		inside := false
		for _, blk := range blocks {
			if blk.Intersect(b.Box).Equal(b.Box) {
				inside = true
			}
		}
		if !inside {
			t.Errorf("box %v lies in no block", b.Box)
		}
	}
	if res.Stats.NumTags != len(cells) {
		t.Errorf("NumTags = %d, want %d", res.Stats.NumTags, len(cells))
	}
}

func TestCluster_MultiBlockKeepsBlocksSeparate(t *testing.T) {
	// Two adjacent blocks, every cell tagged. A single bounding hull would
	// accept one fully efficient box spanning both; per-block roots must
	// keep one box per block.
	blocks := []Box{
		NewBox([]int{0, 0}, []int{1, 1}),
		NewBox([]int{2, 0}, []int{3, 1}),
	}
	f := NewTagField(blocks)
	var cells [][]int
	for _, blk := range blocks {
		blk.eachCell(func(idx []int) {
			cells = append(cells, append([]int(nil), idx...))
		})
	}
	tagAll(f, cells)
	res, err := FindBoxesContainingTags(f, blocks, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d: %v", len(res.Boxes), res.Boxes)
	}
	for i, b := range res.Boxes {
		if !b.Box.Equal(blocks[i]) {
			t.Errorf("box %d = %v, want %v", i, b.Box, blocks[i])
		}
	}
}
