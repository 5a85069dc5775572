package samrai

import "testing"

func TestBox_Geometry(t *testing.T) {
	b := NewBox([]int{-2, 3}, []int{4, 5})
	if b.Dim() != 2 {
		t.Fatalf("Dim = %d, want 2", b.Dim())
	}
	if b.Empty() {
		t.Errorf("box %v should not be empty", b)
	}
	if b.NumCells(0) != 7 || b.NumCells(1) != 3 {
		t.Errorf("extents = %d,%d, want 7,3", b.NumCells(0), b.NumCells(1))
	}
	if b.Volume() != 21 {
		t.Errorf("Volume = %d, want 21", b.Volume())
	}
	if !b.Contains([]int{0, 4}) || b.Contains([]int{0, 6}) {
		t.Errorf("Contains misjudged cells of %v", b)
	}
}

func TestBox_EmptyAndIntersect(t *testing.T) {
	a := NewBox([]int{0, 0}, []int{3, 3})
	b := NewBox([]int{2, 2}, []int{5, 5})
	c := NewBox([]int{4, 0}, []int{5, 1})

	got := a.Intersect(b)
	want := NewBox([]int{2, 2}, []int{3, 3})
	if !got.Equal(want) {
		t.Errorf("Intersect = %v, want %v", got, want)
	}
	if !a.Intersects(b) {
		t.Errorf("%v and %v should intersect", a, b)
	}
	if a.Intersects(c) {
		t.Errorf("%v and %v should not intersect", a, c)
	}
	if !a.Intersect(c).Empty() {
		t.Errorf("disjoint intersection should be empty")
	}
	if a.Intersect(c).Volume() != 0 {
		t.Errorf("empty box volume should be 0")
	}
}

func TestBox_GrowAndBounding(t *testing.T) {
	b := NewBox([]int{2, 2}, []int{3, 3})
	g := b.Grow(2)
	if !g.Equal(NewBox([]int{0, 0}, []int{5, 5})) {
		t.Errorf("Grow(2) = %v", g)
	}
	if !b.Grow(-1).Empty() {
		t.Errorf("Grow(-1) of a 2x2 box should be empty")
	}
	o := NewBox([]int{7, 0}, []int{8, 1})
	bb := b.Bounding(o)
	if !bb.Equal(NewBox([]int{2, 0}, []int{8, 3})) {
		t.Errorf("Bounding = %v", bb)
	}
	empty := NewBox([]int{0}, []int{-1})
	if !empty.Bounding(NewBox([]int{3}, []int{5})).Equal(NewBox([]int{3}, []int{5})) {
		t.Errorf("bounding with an empty box should return the other box")
	}
}

func TestBox_EachCellOrder(t *testing.T) {
	b := NewBox([]int{0, 0}, []int{1, 1})
	var visited [][]int
	b.eachCell(func(idx []int) {
		visited = append(visited, append([]int(nil), idx...))
	})
	want := [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if len(visited) != len(want) {
		t.Fatalf("visited %d cells, want %d", len(visited), len(want))
	}
	for i := range want {
		if visited[i][0] != want[i][0] || visited[i][1] != want[i][1] {
			t.Errorf("cell %d = %v, want %v", i, visited[i], want[i])
		}
	}
}

func TestBox_BufferRoundTrip(t *testing.T) {
	b := NewBox([]int{-4, 0, 9}, []int{1, 2, 12})
	buf := putBoxToBuffer(b, []int{99})
	got, rest := getBoxFromBuffer(3, buf[1:])
	if !got.Equal(b) {
		t.Errorf("decoded %v, want %v", got, b)
	}
	if len(rest) != 0 {
		t.Errorf("unexpected trailing buffer of length %d", len(rest))
	}
}

func TestSortOutputBoxes(t *testing.T) {
	boxes := []OutputBox{
		{ID: BoxID{Rank: 1, Seq: 0}},
		{ID: BoxID{Rank: 0, Seq: 2}},
		{ID: BoxID{Rank: 0, Seq: 1}},
	}
	sortOutputBoxes(boxes)
	want := []BoxID{{0, 1}, {0, 2}, {1, 0}}
	for i := range want {
		if boxes[i].ID != want[i] {
			t.Errorf("position %d: %v, want %v", i, boxes[i].ID, want[i])
		}
	}
}

func TestBoxList_EncodeDecode(t *testing.T) {
	boxes := []OutputBox{
		{ID: BoxID{Rank: 0, Seq: 3}, Box: NewBox([]int{0, 0}, []int{2, 2}), Generation: 2},
		{ID: BoxID{Rank: 2, Seq: 0}, Box: NewBox([]int{-1, 4}, []int{-1, 4}), Generation: 5},
	}
	got := decodeBoxList(2, encodeBoxList(boxes))
	if len(got) != len(boxes) {
		t.Fatalf("decoded %d boxes, want %d", len(got), len(boxes))
	}
	for i := range boxes {
		if got[i].ID != boxes[i].ID || got[i].Generation != boxes[i].Generation ||
			!got[i].Box.Equal(boxes[i].Box) {
			t.Errorf("box %d = %+v, want %+v", i, got[i], boxes[i])
		}
	}
}
