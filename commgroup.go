package samrai

import "runtime"

// asyncGroup performs one non-blocking collective operation (element-wise
// sum reduction to the owner, gather to the owner, or broadcast from the
// owner) over a participant group. Members are arranged in a tree of
// degree communicationTreeDegree(len(group)) with the owner at the root;
// data moves leaf-to-root for reductions and root-to-leaf for broadcasts,
// one point-to-point hop per check that finds a message.
//
// The begin* methods post the operation and return immediately. check
// polls for progress and forwards partial data; isDone reports completion.
// A group of size one completes every operation synchronously in begin.
type asyncGroup struct {
	comm Transport
	tag  int

	// treeOrder lists the group ranks with the owner first; a member's
	// position in this list is its tree position.
	treeOrder []int
	deg       int
	self      int

	acc        []int
	pending    []int // tree positions of children not yet received
	gatherLen  int   // per-member contribution length, gather only
	awaitRoot  bool  // broadcast: still waiting on the parent message
	forwarded  bool
	done       bool
	isGather   bool
	isBcast    bool
}

// newAsyncGroup prepares a collective context for one dendrogram node.
// group must contain owner and the calling rank.
func newAsyncGroup(comm Transport, group []int, owner, tag int) *asyncGroup {
	g := &asyncGroup{comm: comm, tag: tag, deg: communicationTreeDegree(len(group))}
	g.treeOrder = append(g.treeOrder, owner)
	for _, r := range group {
		if r != owner {
			g.treeOrder = append(g.treeOrder, r)
		}
	}
	for i, r := range g.treeOrder {
		if r == comm.Rank() {
			g.self = i
		}
	}
	return g
}

func (g *asyncGroup) groupSize() int { return len(g.treeOrder) }

// memberAt returns the rank at a tree position.
func (g *asyncGroup) memberAt(pos int) int { return g.treeOrder[pos] }

func (g *asyncGroup) childPositions() []int {
	var kids []int
	for c := g.deg*g.self + 1; c <= g.deg*g.self+g.deg && c < len(g.treeOrder); c++ {
		kids = append(kids, c)
	}
	return kids
}

func (g *asyncGroup) parentPos() int { return (g.self - 1) / g.deg }

func (g *asyncGroup) reset() {
	g.acc = nil
	g.pending = nil
	g.gatherLen = 0
	g.awaitRoot = false
	g.forwarded = false
	g.done = false
	g.isGather = false
	g.isBcast = false
}

// beginSumReduce posts an element-wise integer sum of local vectors to the
// owner. Only the owner's result is meaningful.
func (g *asyncGroup) beginSumReduce(local []int) {
	g.reset()
	g.acc = make([]int, len(local))
	copy(g.acc, local)
	g.pending = g.childPositions()
	g.check()
}

// beginGather posts a fixed-length gather to the owner. The owner's result
// holds each member's contribution at gatherLen*position; use memberAt to
// map positions back to ranks. Implemented as a sum reduction over
// disjoint slots.
func (g *asyncGroup) beginGather(contrib []int) {
	g.reset()
	g.isGather = true
	g.gatherLen = len(contrib)
	g.acc = make([]int, len(contrib)*len(g.treeOrder))
	copy(g.acc[len(contrib)*g.self:], contrib)
	g.pending = g.childPositions()
	g.check()
}

// beginBroadcast posts a broadcast of payload from the owner to the group.
// Non-owner members pass nil and read the payload from result when done.
func (g *asyncGroup) beginBroadcast(payload []int) {
	g.reset()
	g.isBcast = true
	if g.self == 0 {
		g.acc = make([]int, len(payload))
		copy(g.acc, payload)
	} else {
		g.awaitRoot = true
	}
	g.check()
}

// check advances the operation without blocking and reports completion.
// Interior tree members relay data here, so every waiting member must be
// polled until its own role completes.
func (g *asyncGroup) check() bool {
	if g.done {
		return true
	}
	if g.isBcast {
		g.checkBcast()
	} else {
		g.checkReduce()
	}
	return g.done
}

func (g *asyncGroup) checkReduce() {
	remaining := g.pending[:0]
	for _, c := range g.pending {
		msg, got := g.comm.Poll(g.memberAt(c), g.tag)
		if !got {
			remaining = append(remaining, c)
			continue
		}
		for i, v := range msg {
			g.acc[i] += v
		}
	}
	g.pending = remaining
	if len(g.pending) > 0 {
		return
	}
	if g.self == 0 {
		g.done = true
		return
	}
	if !g.forwarded {
		g.comm.Send(g.memberAt(g.parentPos()), g.tag, g.acc)
		g.forwarded = true
	}
	g.done = true
}

func (g *asyncGroup) checkBcast() {
	if g.awaitRoot {
		msg, got := g.comm.Poll(g.memberAt(g.parentPos()), g.tag)
		if !got {
			return
		}
		g.acc = msg
		g.awaitRoot = false
	}
	if !g.forwarded {
		for _, c := range g.childPositions() {
			g.comm.Send(g.memberAt(c), g.tag, g.acc)
		}
		g.forwarded = true
	}
	g.done = true
}

func (g *asyncGroup) isDone() bool { return g.done }

// result returns the completed operation's data: the reduced sum or the
// slotted gather on the owner, or the broadcast payload on every member.
func (g *asyncGroup) result() []int { return g.acc }

// commStage tracks the dendrogram nodes with outstanding communication and
// advances them under the configured scheduling policy. There is exactly
// one stage per process, driven by the single clustering loop, so no
// locking is involved.
type commStage struct {
	waiting []*dendrogramNode
}

func (s *commStage) add(n *dendrogramNode) {
	s.waiting = append(s.waiting, n)
}

func (s *commStage) empty() bool { return len(s.waiting) == 0 }

// advance polls the waiting nodes until at least one can make progress.
// Under AdvanceAny exactly one ready node is returned per call; under
// AdvanceSome every currently ready node is drained. The poll loop yields
// the processor so simulated ranks sharing a scheduler keep moving.
func (s *commStage) advance(mode AdvanceMode) []*dendrogramNode {
	for {
		var ready []*dendrogramNode
		remaining := s.waiting[:0]
		for _, n := range s.waiting {
			if n.checkWait() {
				ready = append(ready, n)
			} else {
				remaining = append(remaining, n)
			}
		}
		s.waiting = remaining
		if len(ready) > 0 {
			if mode == AdvanceAny && len(ready) > 1 {
				s.waiting = append(s.waiting, ready[1:]...)
				ready = ready[:1]
			}
			return ready
		}
		runtime.Gosched()
	}
}
