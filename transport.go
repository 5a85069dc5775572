package samrai

import (
	"fmt"
	"sync"
)

// Transport is the narrow point-to-point messaging contract the engine
// consumes. Messages between one (sender, receiver, tag) triple are
// delivered reliably and in order; everything else the engine builds
// itself from polling. Send must never block.
//
// Dup returns an endpoint on an isolated duplicate of the underlying
// communicator, so clustering traffic cannot collide with unrelated
// messages. Every rank must call Dup the same number of times.
type Transport interface {
	Rank() int
	Size() int
	TagUpperBound() int
	Send(to, tag int, payload []int)
	Poll(from, tag int) ([]int, bool)
	Dup() Transport
}

// Loopback is an in-memory message network connecting Size simulated
// ranks inside one process. It exists for serial runs and for tests that
// drive one goroutine per rank; a real MPI binding would provide the same
// Transport contract.
type Loopback struct {
	size int

	mu    sync.Mutex
	boxes map[mailKey][][]int
	dups  []*Loopback
}

type mailKey struct {
	to, from, tag int
}

// NewLoopback creates an in-memory network of the given rank count.
func NewLoopback(size int) *Loopback {
	if size < 1 {
		panic(fmt.Sprintf("samrai: loopback size must be >= 1, got %d", size))
	}
	return &Loopback{size: size, boxes: make(map[mailKey][][]int)}
}

// Endpoint returns rank's view of the network.
func (l *Loopback) Endpoint(rank int) Transport {
	if rank < 0 || rank >= l.size {
		panic(fmt.Sprintf("samrai: rank %d out of range [0,%d)", rank, l.size))
	}
	return &loopbackEndpoint{net: l, rank: rank}
}

// dup returns the n-th duplicate network, creating it on first use. All
// ranks performing their n-th Dup land on the same duplicate.
func (l *Loopback) dup(n int) *Loopback {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.dups) <= n {
		l.dups = append(l.dups, NewLoopback(l.size))
	}
	return l.dups[n]
}

func (l *Loopback) send(key mailKey, payload []int) {
	msg := make([]int, len(payload))
	copy(msg, payload)
	l.mu.Lock()
	l.boxes[key] = append(l.boxes[key], msg)
	l.mu.Unlock()
}

func (l *Loopback) poll(key mailKey) ([]int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.boxes[key]
	if len(q) == 0 {
		return nil, false
	}
	msg := q[0]
	l.boxes[key] = q[1:]
	return msg, true
}

type loopbackEndpoint struct {
	net   *Loopback
	rank  int
	ndups int
}

func (e *loopbackEndpoint) Rank() int { return e.rank }
func (e *loopbackEndpoint) Size() int { return e.net.size }

// TagUpperBound mirrors the MPI guarantee of at least 2^15 valid tags,
// with room to spare for an in-memory network.
func (e *loopbackEndpoint) TagUpperBound() int { return 1 << 16 }

func (e *loopbackEndpoint) Send(to, tag int, payload []int) {
	if to < 0 || to >= e.net.size {
		panic(fmt.Sprintf("samrai: send to rank %d out of range [0,%d)", to, e.net.size))
	}
	e.net.send(mailKey{to: to, from: e.rank, tag: tag}, payload)
}

func (e *loopbackEndpoint) Poll(from, tag int) ([]int, bool) {
	return e.net.poll(mailKey{to: e.rank, from: from, tag: tag})
}

func (e *loopbackEndpoint) Dup() Transport {
	d := e.net.dup(e.ndups)
	e.ndups++
	return &loopbackEndpoint{net: d, rank: e.rank}
}
