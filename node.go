package samrai

import "runtime"

// waitPhase names the algorithmic phase a dendrogram node is in when
// control returns from continueAlgorithm before completion. Phases whose
// names begin with reduce, gather or bcast are communication phases; the
// run-children phase performs no communication of its own but the children
// may.
type waitPhase int

const (
	phaseToBeLaunched waitPhase = iota
	phaseReduceHistogram
	phaseBcastAcceptability
	phaseGatherGroupingCriteria
	phaseBcastChildGroups
	phaseRunChildren
	phaseBcastToDropouts
	phaseCompleted
)

// boxAcceptance records whether and how a candidate box was decided.
// Accepted values are odd, rejected and undetermined values are even.
// hasNoTagByOwner means the reduced histogram was truly empty; the box is
// neither accepted nor split, which can only happen at a root node since
// children are created only for boxes guaranteed to contain tags.
type boxAcceptance int

const (
	undetermined            boxAcceptance = -2
	hasNoTagByOwner         boxAcceptance = -1
	rejectedByCalculation   boxAcceptance = 0
	acceptedByCalculation   boxAcceptance = 1
	rejectedByOwner         boxAcceptance = 2
	acceptedByOwner         boxAcceptance = 3
	rejectedByRecombination boxAcceptance = 4
	acceptedByRecombination boxAcceptance = 5
	rejectedByDropoutBcast  boxAcceptance = 6
	acceptedByDropoutBcast  boxAcceptance = 7
)

func (a boxAcceptance) accepted() bool {
	return a >= 0 && a%2 == 1
}

// advanceStatus is what continueAlgorithm reports back to the driver loop.
type advanceStatus int

const (
	statusCompleted advanceStatus = iota
	// statusWaitingComm: the node has outstanding communication and belongs
	// on the stage until a check finds it complete.
	statusWaitingComm
	// statusWaitingChildren: the node is parked until its last local child
	// completes and re-enqueues it.
	statusWaitingChildren
)

// dendrogramNode is one unit of the flattened Berger-Rigoutsos recursion:
// one candidate box, one participant group, one owner, and a phase-tagged
// state machine advanced by continueAlgorithm.
type dendrogramNode struct {
	d *BergerRigoutsos

	parent   *dendrogramNode
	lft, rht *dendrogramNode

	// pos is the node's position in the binary dendrogram: the root is 1,
	// children are 2*pos and 2*pos+1. Overflowed positions are marked -1
	// (left) and -2 (right). Diagnostics only.
	pos        int
	generation int

	box    Box
	group  []int
	owner  int
	mpiTag int

	phase      waitPhase
	acceptance boxAcceptance

	hist        histogram
	numTags     int
	acceptedBox OutputBox

	comm *asyncGroup

	// Split bookkeeping, valid once the owner rejects the box.
	lftBox, rhtBox     Box
	lftTag, rhtTag     int
	lftGroup, rhtGroup []int
	lftOwner, rhtOwner int
	dropouts           []int

	localOverlapLft int
	localOverlapRht int

	childrenPending int
	resultsPending  int
	subtreeBoxes    []OutputBox

	// nCont counts continueAlgorithm invocations on this node.
	nCont int
}

// newRootNode seeds the dendrogram for one global bounding box. Every rank
// participates in every root; the initial owner is rank 0.
func newRootNode(d *BergerRigoutsos, box Box, rootIndex int) *dendrogramNode {
	nd := &dendrogramNode{
		d:          d,
		pos:        1,
		generation: 1,
		box:        box.Clone(),
		group:      d.allRanks,
		owner:      0,
		mpiTag:     rootIndex,
		phase:      phaseToBeLaunched,
		acceptance: undetermined,
	}
	d.noteNodeCreated(nd)
	return nd
}

// newChildNode instantiates one half of a split on a rank belonging to the
// child's group. childNum is 0 for the left child, 1 for the right.
func newChildNode(parent *dendrogramNode, childNum int) *dendrogramNode {
	nd := &dendrogramNode{
		d:          parent.d,
		parent:     parent,
		generation: parent.generation + 1,
		phase:      phaseToBeLaunched,
		acceptance: undetermined,
	}
	if parent.pos > 0 && parent.pos < 1<<30 {
		nd.pos = 2*parent.pos + childNum
	} else {
		nd.pos = -1 - childNum
	}
	if childNum == 0 {
		nd.box = parent.lftBox.Clone()
		nd.group = parent.lftGroup
		nd.owner = parent.lftOwner
		nd.mpiTag = parent.lftTag
	} else {
		nd.box = parent.rhtBox.Clone()
		nd.group = parent.rhtGroup
		nd.owner = parent.rhtOwner
		nd.mpiTag = parent.rhtTag
	}
	parent.d.noteNodeCreated(nd)
	return nd
}

func (nd *dendrogramNode) isOwner() bool { return nd.owner == nd.d.rank }

// continueAlgorithm advances the node as far as possible without blocking.
// When a phase posts communication that has not completed, the node returns
// statusWaitingComm and must be re-advanced after the stage finds the
// operation done. In Synchronous mode communication is waited out in place
// and the method only returns on completion or a children wait.
func (nd *dendrogramNode) continueAlgorithm() (advanceStatus, error) {
	nd.nCont++
	for {
		switch nd.phase {
		case phaseToBeLaunched:
			nd.hist = makeLocalTagHistogram(nd.d.tags, nd.box)
			nd.reduceHistogramStart()
			nd.phase = phaseReduceHistogram

		case phaseReduceHistogram:
			if !nd.waitComm() {
				return statusWaitingComm, nil
			}
			nd.reduceHistogramFinish()
			if nd.isOwner() {
				if err := nd.acceptOrSplitBox(); err != nil {
					return statusCompleted, err
				}
			}
			nd.broadcastAcceptabilityStart()
			nd.phase = phaseBcastAcceptability

		case phaseBcastAcceptability:
			if !nd.waitComm() {
				return statusWaitingComm, nil
			}
			if err := nd.broadcastAcceptabilityFinish(); err != nil {
				return statusCompleted, err
			}
			if nd.acceptance == hasNoTagByOwner || nd.acceptance.accepted() {
				nd.phase = phaseCompleted
				continue
			}
			nd.localOverlapLft, nd.localOverlapRht = nd.childOverlaps()
			nd.gatherGroupingCriteriaStart()
			nd.phase = phaseGatherGroupingCriteria

		case phaseGatherGroupingCriteria:
			if !nd.waitComm() {
				return statusWaitingComm, nil
			}
			if nd.isOwner() {
				if err := nd.formChildGroups(); err != nil {
					return statusCompleted, err
				}
			}
			nd.broadcastChildGroupsStart()
			nd.phase = phaseBcastChildGroups

		case phaseBcastChildGroups:
			if !nd.waitComm() {
				return statusWaitingComm, nil
			}
			nd.broadcastChildGroupsFinish()
			nd.runChildrenStart()
			nd.phase = phaseRunChildren

		case phaseRunChildren:
			switch nd.runChildrenCheck() {
			case statusWaitingChildren:
				return statusWaitingChildren, nil
			case statusWaitingComm:
				if nd.d.cfg.AdvanceMode != Synchronous {
					return statusWaitingComm, nil
				}
				for nd.runChildrenCheck() != statusCompleted {
					runtime.Gosched()
				}
			}
			nd.attemptRecombination()
			nd.broadcastToDropoutsStart()
			nd.phase = phaseBcastToDropouts

		case phaseBcastToDropouts:
			if !nd.waitComm() {
				return statusWaitingComm, nil
			}
			nd.broadcastToDropoutsFinish()
			nd.phase = phaseCompleted

		case phaseCompleted:
			nd.finishNode()
			return statusCompleted, nil
		}
	}
}

// waitComm polls the node's outstanding collective. In Synchronous mode it
// spins the operation to completion so every communication finishes before
// the next phase begins.
func (nd *dendrogramNode) waitComm() bool {
	if nd.comm == nil || nd.comm.check() {
		return true
	}
	if nd.d.cfg.AdvanceMode == Synchronous {
		for !nd.comm.check() {
			runtime.Gosched()
		}
		return true
	}
	return false
}

// checkWait is the stage's view of the node: true when the node's current
// wait is satisfied and it can be re-advanced.
func (nd *dendrogramNode) checkWait() bool {
	switch nd.phase {
	case phaseReduceHistogram, phaseBcastAcceptability,
		phaseGatherGroupingCriteria, phaseBcastChildGroups,
		phaseBcastToDropouts:
		return nd.comm == nil || nd.comm.check()
	case phaseRunChildren:
		return nd.runChildrenCheck() == statusCompleted
	}
	return true
}

func (nd *dendrogramNode) reduceHistogramStart() {
	if len(nd.group) == 1 {
		nd.comm = nil
		return
	}
	nd.comm = newAsyncGroup(nd.d.comm, nd.group, nd.owner, nd.mpiTag)
	nd.comm.beginSumReduce(nd.hist.toBuffer(nil))
}

func (nd *dendrogramNode) reduceHistogramFinish() {
	if nd.isOwner() {
		if nd.comm != nil {
			nd.hist.fromBuffer(nd.comm.result())
		}
		nd.numTags = nd.hist.numTags()
		if nd.numTags > nd.d.stats.MaxTagsOwned {
			nd.d.stats.MaxTagsOwned = nd.numTags
		}
	}
}

// acceptOrSplitBox is the owner's local decision for the candidate box:
// shrink it to the minimal bounding box of its tags, accept it when it is
// efficient enough and within the size limit, otherwise find a cut. A box
// that cannot be cut without violating the minimum cut size is accepted
// as-is regardless of efficiency, which guarantees termination.
func (nd *dendrogramNode) acceptOrSplitBox() error {
	if nd.numTags == 0 {
		if nd.parent != nil {
			return invariantf("child node %d has an empty histogram for %v", nd.pos, nd.box)
		}
		nd.acceptance = hasNoTagByOwner
		return nil
	}

	shrunk := nd.hist.tagBoundingBox()
	if !shrunk.Equal(nd.box) {
		nd.hist = nd.hist.restrict(shrunk)
		nd.box = shrunk
	}

	tooBig := false
	for d := 0; d < nd.box.Dim(); d++ {
		if nd.box.NumCells(d) > nd.d.maxBoxSize[d] {
			tooBig = true
			break
		}
	}
	efficiency := float64(nd.numTags) / float64(nd.box.Volume())
	if efficiency >= nd.d.cfg.EfficiencyTol && !tooBig {
		nd.acceptBox(acceptedByCalculation)
		return nil
	}

	dim, k, ok := nd.hist.attemptCut(nd.d.cuts)
	if !ok {
		nd.acceptBox(acceptedByCalculation)
		return nil
	}

	nd.acceptance = rejectedByCalculation
	nd.lftBox = nd.box.Clone()
	nd.lftBox.Hi[dim] = nd.box.Lo[dim] + k - 1
	nd.rhtBox = nd.box.Clone()
	nd.rhtBox.Lo[dim] = nd.box.Lo[dim] + k

	// The children's message tags are claimed here and travel with the
	// acceptability broadcast.
	var err error
	if nd.lftTag, err = nd.d.claimTag(); err != nil {
		return err
	}
	nd.rhtTag, err = nd.d.claimTag()
	return err
}

// acceptBox registers the candidate box as an output box owned by this
// process.
func (nd *dendrogramNode) acceptBox(how boxAcceptance) {
	nd.acceptance = how
	nd.acceptedBox = OutputBox{
		ID:         BoxID{Rank: nd.d.rank, Seq: nd.d.nextBoxSeq},
		Box:        nd.box.Clone(),
		Generation: nd.generation,
	}
	nd.d.nextBoxSeq++
	nd.d.registerOwnedBox(nd.acceptedBox)
}

func (nd *dendrogramNode) broadcastAcceptabilityStart() {
	if len(nd.group) == 1 {
		nd.comm = nil
		return
	}
	nd.comm = newAsyncGroup(nd.d.comm, nd.group, nd.owner, nd.mpiTag)
	if !nd.isOwner() {
		nd.comm.beginBroadcast(nil)
		return
	}
	buf := []int{int(nd.acceptance), nd.numTags}
	buf = putBoxToBuffer(nd.box, buf)
	switch {
	case nd.acceptance.accepted():
		buf = append(buf, nd.acceptedBox.ID.Seq)
	case nd.acceptance == rejectedByCalculation:
		buf = putBoxToBuffer(nd.lftBox, buf)
		buf = putBoxToBuffer(nd.rhtBox, buf)
		buf = append(buf, nd.lftTag, nd.rhtTag)
	}
	nd.comm.beginBroadcast(buf)
}

func (nd *dendrogramNode) broadcastAcceptabilityFinish() error {
	dim := nd.d.dim
	if nd.comm != nil && !nd.isOwner() {
		buf := nd.comm.result()
		decided := boxAcceptance(buf[0])
		nd.numTags = buf[1]
		nd.box, buf = getBoxFromBuffer(dim, buf[2:])
		switch {
		case decided == hasNoTagByOwner:
			nd.acceptance = hasNoTagByOwner
		case decided.accepted():
			nd.acceptance = acceptedByOwner
			nd.acceptedBox = OutputBox{
				ID:         BoxID{Rank: nd.owner, Seq: buf[0]},
				Box:        nd.box.Clone(),
				Generation: nd.generation,
			}
		case decided == rejectedByCalculation:
			nd.acceptance = rejectedByOwner
			nd.lftBox, buf = getBoxFromBuffer(dim, buf)
			nd.rhtBox, buf = getBoxFromBuffer(dim, buf)
			nd.lftTag, nd.rhtTag = buf[0], buf[1]
		default:
			return invariantf("unexpected acceptability %d in broadcast", decided)
		}
	}
	if nd.acceptance.accepted() {
		nd.d.recordKnownBox(nd.acceptedBox)
	}
	if nd.parent == nil {
		nd.d.stats.NumTags += nd.numTags
	}
	return nil
}

// childOverlaps counts the local patch cells overlapping each child box.
// When relationship computation is enabled the child boxes are grown by
// the ghost width first, so processes that merely border a child remain in
// its group and receive the boxes they will need for adjacency.
func (nd *dendrogramNode) childOverlaps() (int, int) {
	lft, rht := nd.lftBox, nd.rhtBox
	if nd.d.relationshipsOn() {
		lft = lft.Grow(nd.d.cfg.GhostWidth)
		rht = rht.Grow(nd.d.cfg.GhostWidth)
	}
	var ol, or int
	for _, p := range nd.d.tags.LocalBoxes() {
		ol += p.Intersect(lft).Volume()
		or += p.Intersect(rht).Volume()
	}
	return ol, or
}

func (nd *dendrogramNode) gatherGroupingCriteriaStart() {
	if len(nd.group) == 1 {
		nd.comm = nil
		return
	}
	nd.comm = newAsyncGroup(nd.d.comm, nd.group, nd.owner, nd.mpiTag)
	nd.comm.beginGather([]int{
		nd.localOverlapLft,
		nd.localOverlapRht,
		nd.d.stats.NodesOwned,
		nd.d.stats.NodesActive,
	})
}

// formChildGroups partitions the participant group into the two children's
// groups from the gathered overlap counts and elects each child's owner
// under the configured policy. A process overlapping both children joins
// both groups. Owner only.
func (nd *dendrogramNode) formChildGroups() error {
	var members []ownerCandidate
	if nd.comm == nil {
		members = []ownerCandidate{{
			rank:    nd.d.rank,
			overlap: 0, // per-child overlap filled below
			owned:   nd.d.stats.NodesOwned,
			active:  nd.d.stats.NodesActive,
		}}
		members[0].overlap = nd.localOverlapLft
		nd.lftGroup, nd.lftOwner = nd.formOneChildGroup(members, []int{nd.localOverlapLft})
		members[0].overlap = nd.localOverlapRht
		nd.rhtGroup, nd.rhtOwner = nd.formOneChildGroup(members, []int{nd.localOverlapRht})
	} else {
		res := nd.comm.result()
		n := nd.comm.groupSize()
		lftOv := make([]int, n)
		rhtOv := make([]int, n)
		members = make([]ownerCandidate, n)
		for pos := 0; pos < n; pos++ {
			vals := res[4*pos : 4*pos+4]
			members[pos] = ownerCandidate{
				rank:   nd.comm.memberAt(pos),
				owned:  vals[2],
				active: vals[3],
			}
			lftOv[pos] = vals[0]
			rhtOv[pos] = vals[1]
		}
		for pos := range members {
			members[pos].overlap = lftOv[pos]
		}
		nd.lftGroup, nd.lftOwner = nd.formOneChildGroup(members, lftOv)
		for pos := range members {
			members[pos].overlap = rhtOv[pos]
		}
		nd.rhtGroup, nd.rhtOwner = nd.formOneChildGroup(members, rhtOv)
	}
	if len(nd.lftGroup) == 0 || len(nd.rhtGroup) == 0 {
		return invariantf("split of %v produced an empty child group", nd.box)
	}
	return nil
}

// formOneChildGroup selects the members with positive overlap, sorted by
// rank, and elects the child's owner. Under SingleOwner, rank 0 always
// participates and owns every node.
func (nd *dendrogramNode) formOneChildGroup(members []ownerCandidate, overlaps []int) ([]int, int) {
	var group []int
	var candidates []ownerCandidate
	for i, m := range members {
		if overlaps[i] > 0 {
			group = append(group, m.rank)
			candidates = append(candidates, m)
		}
	}
	for i := 1; i < len(group); i++ {
		for j := i; j > 0 && group[j] < group[j-1]; j-- {
			group[j], group[j-1] = group[j-1], group[j]
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if nd.d.cfg.OwnerMode == SingleOwner {
		if len(group) == 0 || group[0] != 0 {
			group = append([]int{0}, group...)
		}
		return group, 0
	}
	if len(candidates) == 0 {
		return group, -1
	}
	return group, selectOwner(nd.d.cfg.OwnerMode, candidates)
}

func (nd *dendrogramNode) broadcastChildGroupsStart() {
	if len(nd.group) == 1 {
		nd.comm = nil
		return
	}
	nd.comm = newAsyncGroup(nd.d.comm, nd.group, nd.owner, nd.mpiTag)
	if !nd.isOwner() {
		nd.comm.beginBroadcast(nil)
		return
	}
	buf := []int{nd.lftOwner, len(nd.lftGroup)}
	buf = append(buf, nd.lftGroup...)
	buf = append(buf, nd.rhtOwner, len(nd.rhtGroup))
	buf = append(buf, nd.rhtGroup...)
	nd.comm.beginBroadcast(buf)
}

func (nd *dendrogramNode) broadcastChildGroupsFinish() {
	if nd.comm != nil && !nd.isOwner() {
		buf := nd.comm.result()
		nd.lftOwner = buf[0]
		n := buf[1]
		nd.lftGroup = append([]int(nil), buf[2:2+n]...)
		buf = buf[2+n:]
		nd.rhtOwner = buf[0]
		n = buf[1]
		nd.rhtGroup = append([]int(nil), buf[2:2+n]...)
	}
	nd.dropouts = computeDropoutGroup(nd.group, nd.lftGroup, nd.rhtGroup, nd.owner)
}

// runChildrenStart locally instantiates whichever children this process
// participates in and queues them for launch. The owner additionally
// expects one subtree-results message per child when relationship
// computation needs them for the dropout broadcast.
func (nd *dendrogramNode) runChildrenStart() {
	nd.childrenPending = 0
	if groupContains(nd.lftGroup, nd.d.rank) {
		nd.lft = newChildNode(nd, 0)
		nd.childrenPending++
		nd.d.enqueue(nd.lft)
	}
	if groupContains(nd.rhtGroup, nd.d.rank) {
		nd.rht = newChildNode(nd, 1)
		nd.childrenPending++
		nd.d.enqueue(nd.rht)
	}
	if nd.isOwner() && nd.d.relationshipsOn() {
		nd.resultsPending = 2
	}
}

// runChildrenCheck reports whether the subtree below this node has
// completed: all locally instantiated children are done, and, on the
// owner, the two children's subtree-results messages have arrived.
func (nd *dendrogramNode) runChildrenCheck() advanceStatus {
	if nd.childrenPending > 0 {
		return statusWaitingChildren
	}
	if nd.resultsPending > 0 {
		nd.pollSubtreeResults()
		if nd.resultsPending > 0 {
			return statusWaitingComm
		}
	}
	return statusCompleted
}

func (nd *dendrogramNode) pollSubtreeResults() {
	for _, src := range []int{nd.lftOwner, nd.rhtOwner} {
		if src == nd.d.rank {
			continue
		}
		for nd.resultsPending > 0 {
			msg, got := nd.d.comm.Poll(src, nd.mpiTag)
			if !got {
				break
			}
			nd.subtreeBoxes = append(nd.subtreeBoxes, decodeBoxList(nd.d.dim, msg)...)
			nd.resultsPending--
		}
	}
}

// attemptRecombination merges the two children's accepted boxes back into
// one when the merge stays within the maximum box size and keeps the
// combined efficiency at or above the combine tolerance. It is evaluated
// only when both child groups equal this node's group, so every process
// holding either child reaches the identical decision with purely local
// data; the merged box keeps the left child's identity.
func (nd *dendrogramNode) attemptRecombination() {
	if nd.lft == nil || nd.rht == nil {
		return
	}
	if !nd.lft.acceptance.accepted() || !nd.rht.acceptance.accepted() {
		return
	}
	if !groupsEqual(nd.group, nd.lftGroup) || !groupsEqual(nd.group, nd.rhtGroup) {
		return
	}
	combined := nd.lft.acceptedBox.Box.Bounding(nd.rht.acceptedBox.Box)
	for d := 0; d < combined.Dim(); d++ {
		if combined.NumCells(d) > nd.d.maxBoxSize[d] {
			return
		}
	}
	if float64(nd.numTags) < nd.d.cfg.CombineTol*float64(combined.Volume()) {
		return
	}

	merged := OutputBox{
		ID:         nd.lft.acceptedBox.ID,
		Box:        combined,
		Generation: nd.generation,
	}
	nd.d.replaceKnownBox(merged)
	nd.d.removeKnownBox(nd.rht.acceptedBox.ID)
	if merged.ID.Rank == nd.d.rank {
		nd.d.replaceOwnedBox(merged)
	}
	if nd.rht.acceptedBox.ID.Rank == nd.d.rank {
		nd.d.removeOwnedBox(nd.rht.acceptedBox.ID)
	}
	if nd.isOwner() && nd.d.relationshipsOn() {
		nd.subtreeBoxes = replaceInBoxList(nd.subtreeBoxes, merged)
		nd.subtreeBoxes = removeFromBoxList(nd.subtreeBoxes, nd.rht.acceptedBox.ID)
	}
	nd.acceptance = acceptedByRecombination
	nd.acceptedBox = merged
	nd.box = combined
}

// broadcastToDropoutsStart sends the subtree's final accepted boxes to the
// processes that were in this node's group but joined neither child group.
// They left the recursion here, yet may still need the resulting boxes for
// adjacency computation.
func (nd *dendrogramNode) broadcastToDropoutsStart() {
	nd.comm = nil
	if !nd.d.relationshipsOn() || len(nd.dropouts) == 0 {
		return
	}
	amDropout := groupContains(nd.dropouts, nd.d.rank)
	if !nd.isOwner() && !amDropout {
		return
	}
	bgroup := append([]int{}, nd.dropouts...)
	bgroup = append(bgroup, nd.owner)
	for i := 1; i < len(bgroup); i++ {
		for j := i; j > 0 && bgroup[j] < bgroup[j-1]; j-- {
			bgroup[j], bgroup[j-1] = bgroup[j-1], bgroup[j]
		}
	}
	nd.comm = newAsyncGroup(nd.d.comm, bgroup, nd.owner, nd.mpiTag)
	if nd.isOwner() {
		boxes := nd.subtreeBoxes
		if nd.acceptance.accepted() {
			boxes = []OutputBox{nd.acceptedBox}
		}
		nd.comm.beginBroadcast(encodeBoxList(boxes))
	} else {
		nd.comm.beginBroadcast(nil)
	}
}

func (nd *dendrogramNode) broadcastToDropoutsFinish() {
	if nd.comm == nil || nd.isOwner() {
		return
	}
	for _, b := range decodeBoxList(nd.d.dim, nd.comm.result()) {
		nd.d.recordKnownBox(b)
	}
	if !nd.acceptance.accepted() {
		nd.acceptance = rejectedByDropoutBcast
	}
}

/// finishNode retires the node: statistics, the upward subtree-results
// message to the parent's owner, and the parent's children countdown.
func (nd *dendrogramNode) finishNode() {
	nd.d.noteNodeCompleted(nd)
	if nd.parent == nil {
		return
	}
	if nd.d.relationshipsOn() && nd.isOwner() {
		boxes := nd.subtreeBoxes
		if nd.acceptance.accepted() {
			boxes = []OutputBox{nd.acceptedBox}
		}
		if nd.parent.owner == nd.d.rank {
			nd.parent.subtreeBoxes = append(nd.parent.subtreeBoxes, boxes...)
			nd.parent.resultsPending--
		} else {
			nd.d.comm.Send(nd.parent.owner, nd.parent.mpiTag, encodeBoxList(boxes))
		}
	}
	nd.parent.childCompleted()
}

func (nd *dendrogramNode) childCompleted() {
	nd.childrenPending--
	if nd.childrenPending == 0 {
		nd.d.enqueue(nd)
	}
}

// encodeBoxList flattens output boxes into an integer message.
func encodeBoxList(boxes []OutputBox) []int {
	buf := []int{len(boxes)}
	for _, b := range boxes {
		buf = append(buf, b.ID.Rank, b.ID.Seq, b.Generation)
		buf = putBoxToBuffer(b.Box, buf)
	}
	return buf
}

func decodeBoxList(dim int, buf []int) []OutputBox {
	n := buf[0]
	buf = buf[1:]
	boxes := make([]OutputBox, 0, n)
	for i := 0; i < n; i++ {
		b := OutputBox{ID: BoxID{Rank: buf[0], Seq: buf[1]}, Generation: buf[2]}
		b.Box, buf = getBoxFromBuffer(dim, buf[3:])
		boxes = append(boxes, b)
	}
	return boxes
}

func replaceInBoxList(boxes []OutputBox, b OutputBox) []OutputBox {
	for i := range boxes {
		if boxes[i].ID == b.ID {
			boxes[i] = b
			return boxes
		}
	}
	return append(boxes, b)
}

func removeFromBoxList(boxes []OutputBox, id BoxID) []OutputBox {
	for i := range boxes {
		if boxes[i].ID == id {
			return append(boxes[:i], boxes[i+1:]...)
		}
	}
	return boxes
}
