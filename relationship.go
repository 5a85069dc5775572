package samrai

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// TagPatchID identifies an input tag patch by its resident rank and its
// position in that rank's LocalBoxes.
type TagPatchID struct {
	Rank  int
	Index int
}

// Graph node identifiers: bit 62 distinguishes tag patches from new boxes,
// the low bits pack rank and sequence number.
const tagPatchIDBit = int64(1) << 62

type tagPatchNode struct{ id TagPatchID }

func (n tagPatchNode) ID() int64 {
	return tagPatchIDBit | int64(n.id.Rank)<<32 | int64(n.id.Index)
}

type newBoxNode struct{ id BoxID }

func (n newBoxNode) ID() int64 {
	return int64(n.id.Rank)<<32 | int64(n.id.Seq)
}

func decodeTagPatchID(id int64) TagPatchID {
	id &^= tagPatchIDBit
	return TagPatchID{Rank: int(id >> 32), Index: int(id & (1<<32 - 1))}
}

func decodeBoxID(id int64) BoxID {
	return BoxID{Rank: int(id >> 32), Seq: int(id & (1<<32 - 1))}
}

// Connector records which boxes lie within a ghost width of which, as a
// directed graph between tag patches and new boxes. In the tag-to-new
// direction the sources are the calling rank's own patches; in the
// new-to-tag direction the sources are the boxes the calling rank owns and
// the destinations may be any rank's patches.
type Connector struct {
	ghostWidth int
	g          *simple.DirectedGraph
}

func newConnector(ghostWidth int) *Connector {
	return &Connector{ghostWidth: ghostWidth, g: simple.NewDirectedGraph()}
}

// GhostWidth returns the adjacency distance the connector was built with.
func (c *Connector) GhostWidth() int { return c.ghostWidth }

// NumEdges returns the number of adjacency relationships recorded.
func (c *Connector) NumEdges() int { return c.g.Edges().Len() }

func (c *Connector) addEdge(from, to graph.Node) {
	c.g.SetEdge(c.g.NewEdge(from, to))
}

// BoxesNear returns the new boxes within the ghost width of the given tag
// patch, sorted by identity. Only patches resident on the calling rank
// have edges.
func (c *Connector) BoxesNear(p TagPatchID) []BoxID {
	var out []BoxID
	it := c.g.From(tagPatchNode{p}.ID())
	for it.Next() {
		out = append(out, decodeBoxID(it.Node().ID()))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// PatchesNear returns the tag patches within the ghost width of the given
// box, sorted by identity. Only boxes owned by the calling rank have edges.
func (c *Connector) PatchesNear(b BoxID) []TagPatchID {
	var out []TagPatchID
	it := c.g.From(newBoxNode{b}.ID())
	for it.Next() {
		out = append(out, decodeTagPatchID(it.Node().ID()))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// computeRelationships builds the requested connectors after clustering.
// TagToNew needs only local data: grown-overlap participation and the
// dropout broadcasts guarantee every rank has learned every box within the
// ghost width of its patches, so the edges come from the accumulated known
// boxes without another exchange. The bidirectional NewToTag additionally
// needs every rank's patch boxes, which are exchanged pairwise on a
// reserved message tag.
func (d *BergerRigoutsos) computeRelationships() (*Connector, *Connector, error) {
	gw := d.cfg.GhostWidth
	t2n := newConnector(gw)
	patches := d.tags.LocalBoxes()
	known := d.knownBoxList()
	for i, p := range patches {
		grown := p.Grow(gw)
		src := tagPatchNode{TagPatchID{Rank: d.rank, Index: i}}
		for _, b := range known {
			if grown.Intersects(b.Box) {
				t2n.addEdge(src, newBoxNode{b.ID})
			}
		}
	}
	if d.cfg.RelationshipMode != Bidirectional {
		return t2n, nil, nil
	}

	allPatches, err := d.exchangePatches(patches)
	if err != nil {
		return nil, nil, err
	}
	n2t := newConnector(gw)
	for _, b := range d.ownedBoxes {
		grown := b.Box.Grow(gw)
		src := newBoxNode{b.ID}
		for r, plist := range allPatches {
			for i, p := range plist {
				if grown.Intersects(p) {
					n2t.addEdge(src, tagPatchNode{TagPatchID{Rank: r, Index: i}})
				}
			}
		}
	}
	return t2n, n2t, nil
}

// exchangePatches performs an all-to-all exchange of the ranks' patch box
// lists. Sends never block, so every rank sends first and then drains its
// mailbox.
func (d *BergerRigoutsos) exchangePatches(local []Box) ([][]Box, error) {
	all := make([][]Box, d.size)
	all[d.rank] = local
	if d.size == 1 {
		return all, nil
	}
	tag := d.comm.TagUpperBound() - relationshipTagOffset
	buf := []int{len(local)}
	for _, p := range local {
		buf = putBoxToBuffer(p, buf)
	}
	for r := 0; r < d.size; r++ {
		if r != d.rank {
			d.comm.Send(r, tag, buf)
		}
	}
	for r := 0; r < d.size; r++ {
		if r == d.rank {
			continue
		}
		msg := d.pollBlocking(r, tag)
		n := msg[0]
		msg = msg[1:]
		boxes := make([]Box, 0, n)
		for i := 0; i < n; i++ {
			var b Box
			b, msg = getBoxFromBuffer(d.dim, msg)
			boxes = append(boxes, b)
		}
		all[r] = boxes
	}
	return all, nil
}
