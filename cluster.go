package samrai

import (
	"fmt"
	"runtime"
)

// AdvanceMode selects how the clustering loop schedules dendrogram nodes
// with completed communication.
type AdvanceMode string

const (
	// AdvanceSome relaunches every node whose communication has completed.
	AdvanceSome AdvanceMode = "ADVANCE_SOME"
	// AdvanceAny relaunches one ready node at a time.
	AdvanceAny AdvanceMode = "ADVANCE_ANY"
	// Synchronous waits out each communication where it is posted. Useful
	// for debugging; the result is identical to the other modes.
	Synchronous AdvanceMode = "SYNCHRONOUS"
)

// OwnerMode selects how the owner of a child participant group is elected.
type OwnerMode string

const (
	// SingleOwner pins rank 0 as the owner of every node.
	SingleOwner OwnerMode = "SINGLE_OWNER"
	// MostOverlap gives a node to the participant overlapping its box the
	// most, which tends to minimize histogram traffic.
	MostOverlap OwnerMode = "MOST_OVERLAP"
	// FewestOwned gives a node to the participant owning the fewest nodes.
	FewestOwned OwnerMode = "FEWEST_OWNED"
	// LeastActive gives a node to the participant with the fewest active
	// nodes.
	LeastActive OwnerMode = "LEAST_ACTIVE"
)

// RelationshipMode selects which adjacency connectors the run computes
// between the tagged input patches and the new boxes.
type RelationshipMode string

const (
	// NoRelationships computes boxes only.
	NoRelationships RelationshipMode = "NONE"
	// TagToNew additionally computes the connector from the local tag
	// patches to the new boxes within the ghost width.
	TagToNew RelationshipMode = "TAG_TO_NEW"
	// Bidirectional computes both the tag-to-new and new-to-tag connectors.
	Bidirectional RelationshipMode = "BIDIRECTIONAL"
)

// Config holds the clustering parameters. The zero value of any field is
// replaced by the documented default, so callers set only what they need.
type Config struct {
	// Comm is the communicator the run executes on. Nil means a serial
	// single-rank run. The engine duplicates the communicator, so its own
	// traffic cannot collide with the caller's.
	Comm Transport

	// MinBoxSize is the minimum extent of an output box per dimension.
	// Defaults to one cell.
	MinBoxSize []int

	// MaxBoxSize is the maximum extent of an output box per dimension. A box
	// over the limit is split regardless of efficiency. Defaults to
	// unlimited.
	MaxBoxSize []int

	// MinBoxSizeFromCutting is an additional per-dimension floor applied
	// only to the two halves of a cut, typically set larger than MinBoxSize
	// to keep cuts coarse. Defaults to zero.
	MinBoxSizeFromCutting []int

	// EfficiencyTol is the minimum fraction of tagged cells a box must hold
	// to be accepted without cutting. Defaults to 0.8.
	EfficiencyTol float64

	// CombineTol is the minimum tag fraction a recombined sibling pair must
	// retain for the merge to happen. Defaults to 0.8.
	CombineTol float64

	// MaxInflectionCutFromCenter limits how far from the box center an
	// inflection cut may lie, as a fraction of the half-extent. Defaults
	// to 1.0 (anywhere).
	MaxInflectionCutFromCenter float64

	// InflectionCutThresholdAR controls which dimensions besides the
	// thickest may be cut, bounding the aspect ratio of the results.
	// Defaults to 4.0.
	InflectionCutThresholdAR float64

	// GhostWidth is the cell distance within which a tag patch and a new
	// box are considered adjacent. It also widens group participation so
	// every process sees the boxes bordering its patches. Defaults to 1.
	GhostWidth int

	// AdvanceMode, OwnerMode and RelationshipMode default to AdvanceSome,
	// MostOverlap and NoRelationships.
	AdvanceMode      AdvanceMode
	OwnerMode        OwnerMode
	RelationshipMode RelationshipMode
}

// DefaultConfig returns the configuration used when a zero Config is
// passed: serial, unit minimum box size, unlimited maximum, 0.8 tolerances.
func DefaultConfig() Config {
	return Config{
		EfficiencyTol:              0.8,
		CombineTol:                 0.8,
		MaxInflectionCutFromCenter: 1.0,
		InflectionCutThresholdAR:   4.0,
		GhostWidth:                 1,
		AdvanceMode:                AdvanceSome,
		OwnerMode:                  MostOverlap,
		RelationshipMode:           NoRelationships,
	}
}

const unlimitedExtent = int(^uint(0) >> 2)

func (c Config) withDefaults(dim int) Config {
	def := DefaultConfig()
	if c.MinBoxSize == nil {
		c.MinBoxSize = make([]int, dim)
		for d := range c.MinBoxSize {
			c.MinBoxSize[d] = 1
		}
	}
	if c.MaxBoxSize == nil {
		c.MaxBoxSize = make([]int, dim)
		for d := range c.MaxBoxSize {
			c.MaxBoxSize[d] = unlimitedExtent
		}
	}
	if c.MinBoxSizeFromCutting == nil {
		c.MinBoxSizeFromCutting = make([]int, dim)
	}
	if c.EfficiencyTol == 0 {
		c.EfficiencyTol = def.EfficiencyTol
	}
	if c.CombineTol == 0 {
		c.CombineTol = def.CombineTol
	}
	if c.MaxInflectionCutFromCenter == 0 {
		c.MaxInflectionCutFromCenter = def.MaxInflectionCutFromCenter
	}
	if c.InflectionCutThresholdAR == 0 {
		c.InflectionCutThresholdAR = def.InflectionCutThresholdAR
	}
	if c.GhostWidth == 0 {
		c.GhostWidth = def.GhostWidth
	}
	if c.AdvanceMode == "" {
		c.AdvanceMode = def.AdvanceMode
	}
	if c.OwnerMode == "" {
		c.OwnerMode = def.OwnerMode
	}
	if c.RelationshipMode == "" {
		c.RelationshipMode = def.RelationshipMode
	}
	return c
}

func (c Config) validate(dim int) error {
	if dim < 1 {
		return fmt.Errorf("samrai: tag source dimension must be >= 1, got %d", dim)
	}
	for _, s := range []struct {
		name string
		val  []int
	}{
		{"MinBoxSize", c.MinBoxSize},
		{"MaxBoxSize", c.MaxBoxSize},
		{"MinBoxSizeFromCutting", c.MinBoxSizeFromCutting},
	} {
		if len(s.val) != dim {
			return fmt.Errorf("samrai: %s has %d entries, want %d", s.name, len(s.val), dim)
		}
	}
	for d := 0; d < dim; d++ {
		if c.MinBoxSize[d] < 1 {
			return fmt.Errorf("samrai: MinBoxSize[%d] must be >= 1, got %d", d, c.MinBoxSize[d])
		}
		if c.MinBoxSizeFromCutting[d] < 0 {
			return fmt.Errorf("samrai: MinBoxSizeFromCutting[%d] must be >= 0, got %d", d, c.MinBoxSizeFromCutting[d])
		}
		if c.MaxBoxSize[d] < c.MinBoxSize[d] {
			return fmt.Errorf("samrai: MaxBoxSize[%d]=%d below MinBoxSize[%d]=%d",
				d, c.MaxBoxSize[d], d, c.MinBoxSize[d])
		}
	}
	if c.EfficiencyTol <= 0 || c.EfficiencyTol > 1 {
		return fmt.Errorf("samrai: EfficiencyTol must be in (0,1], got %g", c.EfficiencyTol)
	}
	if c.CombineTol <= 0 || c.CombineTol > 1 {
		return fmt.Errorf("samrai: CombineTol must be in (0,1], got %g", c.CombineTol)
	}
	if c.MaxInflectionCutFromCenter < 0 || c.MaxInflectionCutFromCenter > 1 {
		return fmt.Errorf("samrai: MaxInflectionCutFromCenter must be in [0,1], got %g",
			c.MaxInflectionCutFromCenter)
	}
	if c.InflectionCutThresholdAR < 0 {
		return fmt.Errorf("samrai: InflectionCutThresholdAR must be >= 0, got %g",
			c.InflectionCutThresholdAR)
	}
	if c.GhostWidth < 0 {
		return fmt.Errorf("samrai: GhostWidth must be >= 0, got %d", c.GhostWidth)
	}
	switch c.AdvanceMode {
	case AdvanceSome, AdvanceAny, Synchronous:
	default:
		return fmt.Errorf("samrai: unknown AdvanceMode %q", c.AdvanceMode)
	}
	switch c.OwnerMode {
	case SingleOwner, MostOverlap, FewestOwned, LeastActive:
	default:
		return fmt.Errorf("samrai: unknown OwnerMode %q", c.OwnerMode)
	}
	switch c.RelationshipMode {
	case NoRelationships, TagToNew, Bidirectional:
	default:
		return fmt.Errorf("samrai: unknown RelationshipMode %q", c.RelationshipMode)
	}
	return nil
}

// Stats collects the run's diagnostic counters. The non-Max node counters
// track currently live quantities during the run and return to zero by the
// time Run returns.
type Stats struct {
	NodesAllocated int
	NodesActive    int
	NodesOwned     int
	NodesCommWait  int

	MaxNodesAllocated int
	MaxNodesActive    int
	MaxNodesOwned     int
	MaxNodesCommWait  int

	NodesCompleted int
	MaxGeneration  int

	// BoxesGenerated counts the output boxes owned by this process.
	BoxesGenerated int
	// NumTags is the global tag count under the clustering roots.
	NumTags int
	// MaxTagsOwned is the largest reduced histogram total this process
	// decided on as an owner.
	MaxTagsOwned int

	// ContinuationSum and MaxContinuations measure how often node state
	// machines were re-entered; the average indicates communication
	// latency relative to local work.
	ContinuationSum  int
	MaxContinuations int
}

// AvgContinuations returns the mean number of state-machine entries per
// completed node.
func (s Stats) AvgContinuations() float64 {
	if s.NodesCompleted == 0 {
		return 0
	}
	return float64(s.ContinuationSum) / float64(s.NodesCompleted)
}

// Result is the output of one clustering run.
type Result struct {
	// Boxes is the complete set of output boxes, identical on every rank
	// and sorted by box identity.
	Boxes []OutputBox
	// LocalBoxes is the subset of Boxes owned by the calling process.
	LocalBoxes []OutputBox
	// TagToNew and NewToTag are the adjacency connectors, nil unless the
	// corresponding RelationshipMode requested them.
	TagToNew *Connector
	NewToTag *Connector
	// Stats holds the run's diagnostic counters.
	Stats Stats
}

// Reserved message tags at the top of the tag space.
const (
	reservedTagCount = 2
	// offsets below TagUpperBound
	globalizeTagOffset    = 1
	relationshipTagOffset = 2
)

// BergerRigoutsos clusters the tagged cells of a distributed tag field
// into boxes. An instance performs exactly one run; in a distributed
// setting every rank of the communicator must construct one and call Run
// collectively.
type BergerRigoutsos struct {
	cfg  Config
	tags TagSource
	comm Transport

	rank, size int
	dim        int
	allRanks   []int

	maxBoxSize []int
	cuts       cutConstraints

	// Per-rank message tag pool for owner-claimed child tags.
	nextTag    int
	tagPoolEnd int

	queue []*dendrogramNode
	stage commStage

	nextBoxSeq int
	ownedBoxes []OutputBox
	knownBoxes map[BoxID]OutputBox

	stats Stats
	ran   bool
}

// NewBergerRigoutsos validates the configuration and binds a run to the
// tag source. If the tag source reports a communicator identity, the
// configured communicator must be congruent with it.
func NewBergerRigoutsos(tags TagSource, cfg Config) (*BergerRigoutsos, error) {
	if tags == nil {
		return nil, fmt.Errorf("samrai: nil tag source")
	}
	dim := tags.Dim()
	cfg = cfg.withDefaults(dim)
	if err := cfg.validate(dim); err != nil {
		return nil, err
	}
	comm := cfg.Comm
	if comm == nil {
		comm = NewLoopback(1).Endpoint(0)
	}
	if cb, ok := tags.(CommBound); ok && cb.CommSize() != 0 {
		if cb.CommRank() != comm.Rank() || cb.CommSize() != comm.Size() {
			return nil, ErrCommunicatorMismatch
		}
	}
	comm = comm.Dup()

	d := &BergerRigoutsos{
		cfg:        cfg,
		tags:       tags,
		comm:       comm,
		rank:       comm.Rank(),
		size:       comm.Size(),
		dim:        dim,
		maxBoxSize: cfg.MaxBoxSize,
		knownBoxes: make(map[BoxID]OutputBox),
	}
	d.allRanks = make([]int, d.size)
	for r := range d.allRanks {
		d.allRanks[r] = r
	}

	minCut := make([]int, dim)
	for i := range minCut {
		minCut[i] = cfg.MinBoxSize[i]
		if cfg.MinBoxSizeFromCutting[i] > minCut[i] {
			minCut[i] = cfg.MinBoxSizeFromCutting[i]
		}
	}
	d.cuts = cutConstraints{
		minCut:        minCut,
		maxCenterFrac: cfg.MaxInflectionCutFromCenter,
		thresholdAR:   cfg.InflectionCutThresholdAR,
	}

	return d, nil
}

// FindBoxesContainingTags runs the whole algorithm in one call: cluster
// the tagged cells of tags inside the per-block bounding boxes under cfg.
func FindBoxesContainingTags(tags TagSource, bounds []Box, cfg Config) (*Result, error) {
	d, err := NewBergerRigoutsos(tags, cfg)
	if err != nil {
		return nil, err
	}
	return d.Run(bounds)
}

// setupTagPool lays out the message tag space once the root count is known:
// tags [0, nroots) belong to the root nodes on every rank, the top of the
// space is reserved, and the rest is split into equal per-rank pools that
// owners draw child tags from.
func (d *BergerRigoutsos) setupTagPool(nroots int) error {
	upper := d.comm.TagUpperBound()
	pool := (upper - reservedTagCount - nroots) / d.size
	if pool < 2 {
		return fmt.Errorf("samrai: tag space of %d too small for %d ranks and %d blocks",
			upper, d.size, nroots)
	}
	d.nextTag = nroots + d.rank*pool
	d.tagPoolEnd = d.nextTag + pool
	return nil
}

// Run executes the clustering over one bounding box per block and returns
// the output boxes along with any requested connectors. Each block is
// clustered independently from its own root node, so boxes never span the
// void between blocks. Run must be called collectively on every rank with
// identical bounds, and at most once per instance.
func (d *BergerRigoutsos) Run(bounds []Box) (*Result, error) {
	if d.ran {
		return nil, fmt.Errorf("samrai: BergerRigoutsos instance already ran; create a new one")
	}
	d.ran = true
	if len(bounds) == 0 {
		return nil, fmt.Errorf("samrai: no bounding boxes")
	}
	for i, bound := range bounds {
		if bound.Dim() != d.dim {
			return nil, fmt.Errorf("samrai: bound %d dimension %d != tag source dimension %d",
				i, bound.Dim(), d.dim)
		}
		if bound.Empty() {
			return nil, fmt.Errorf("samrai: empty bounding box %v", bound)
		}
	}
	if err := d.setupTagPool(len(bounds)); err != nil {
		return nil, err
	}

	for i, bound := range bounds {
		d.enqueue(newRootNode(d, bound, i))
	}
	for {
		for len(d.queue) > 0 {
			nd := d.queue[0]
			d.queue = d.queue[1:]
			status, err := nd.continueAlgorithm()
			if err != nil {
				return nil, err
			}
			if status == statusWaitingComm {
				d.stage.add(nd)
				d.stats.NodesCommWait++
				if d.stats.NodesCommWait > d.stats.MaxNodesCommWait {
					d.stats.MaxNodesCommWait = d.stats.NodesCommWait
				}
			}
		}
		if d.stage.empty() {
			break
		}
		for _, nd := range d.stage.advance(d.cfg.AdvanceMode) {
			d.stats.NodesCommWait--
			d.queue = append(d.queue, nd)
		}
	}

	res := &Result{
		Boxes:      d.globalizeBoxes(),
		LocalBoxes: append([]OutputBox(nil), d.ownedBoxes...),
		Stats:      d.stats,
	}
	sortOutputBoxes(res.LocalBoxes)
	if d.relationshipsOn() {
		var err error
		res.TagToNew, res.NewToTag, err = d.computeRelationships()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// globalizeBoxes assembles the identical global box list on every rank:
// all ranks send their owned boxes to rank 0, which sorts and redistributes
// the union.
func (d *BergerRigoutsos) globalizeBoxes() []OutputBox {
	all := append([]OutputBox(nil), d.ownedBoxes...)
	if d.size == 1 {
		sortOutputBoxes(all)
		return all
	}
	tag := d.comm.TagUpperBound() - globalizeTagOffset
	if d.rank == 0 {
		for r := 1; r < d.size; r++ {
			all = append(all, decodeBoxList(d.dim, d.pollBlocking(r, tag))...)
		}
		sortOutputBoxes(all)
		buf := encodeBoxList(all)
		for r := 1; r < d.size; r++ {
			d.comm.Send(r, tag, buf)
		}
		return all
	}
	d.comm.Send(0, tag, encodeBoxList(all))
	return decodeBoxList(d.dim, d.pollBlocking(0, tag))
}

func (d *BergerRigoutsos) pollBlocking(from, tag int) []int {
	for {
		if msg, got := d.comm.Poll(from, tag); got {
			return msg
		}
		runtime.Gosched()
	}
}

func (d *BergerRigoutsos) relationshipsOn() bool {
	return d.cfg.RelationshipMode != NoRelationships
}

// claimTag draws the next unused message tag from this rank's pool.
func (d *BergerRigoutsos) claimTag() (int, error) {
	if d.size == 1 {
		return 0, nil
	}
	if d.nextTag >= d.tagPoolEnd {
		return 0, ErrTagPoolExhausted
	}
	t := d.nextTag
	d.nextTag++
	return t, nil
}

func (d *BergerRigoutsos) enqueue(nd *dendrogramNode) {
	d.queue = append(d.queue, nd)
}

func (d *BergerRigoutsos) registerOwnedBox(b OutputBox) {
	d.ownedBoxes = append(d.ownedBoxes, b)
	d.stats.BoxesGenerated++
}

func (d *BergerRigoutsos) replaceOwnedBox(b OutputBox) {
	for i := range d.ownedBoxes {
		if d.ownedBoxes[i].ID == b.ID {
			d.ownedBoxes[i] = b
			return
		}
	}
}

func (d *BergerRigoutsos) removeOwnedBox(id BoxID) {
	for i := range d.ownedBoxes {
		if d.ownedBoxes[i].ID == id {
			d.ownedBoxes = append(d.ownedBoxes[:i], d.ownedBoxes[i+1:]...)
			d.stats.BoxesGenerated--
			return
		}
	}
}

func (d *BergerRigoutsos) recordKnownBox(b OutputBox) {
	d.knownBoxes[b.ID] = b
}

func (d *BergerRigoutsos) replaceKnownBox(b OutputBox) {
	d.knownBoxes[b.ID] = b
}

func (d *BergerRigoutsos) removeKnownBox(id BoxID) {
	delete(d.knownBoxes, id)
}

// knownBoxList returns the boxes this rank has learned of through the
// acceptability and dropout broadcasts, sorted by identity.
func (d *BergerRigoutsos) knownBoxList() []OutputBox {
	out := make([]OutputBox, 0, len(d.knownBoxes))
	for _, b := range d.knownBoxes {
		out = append(out, b)
	}
	sortOutputBoxes(out)
	return out
}

func (d *BergerRigoutsos) noteNodeCreated(nd *dendrogramNode) {
	d.stats.NodesAllocated++
	if d.stats.NodesAllocated > d.stats.MaxNodesAllocated {
		d.stats.MaxNodesAllocated = d.stats.NodesAllocated
	}
	d.stats.NodesActive++
	if d.stats.NodesActive > d.stats.MaxNodesActive {
		d.stats.MaxNodesActive = d.stats.NodesActive
	}
	if nd.isOwner() {
		d.stats.NodesOwned++
		if d.stats.NodesOwned > d.stats.MaxNodesOwned {
			d.stats.MaxNodesOwned = d.stats.NodesOwned
		}
	}
	if nd.generation > d.stats.MaxGeneration {
		d.stats.MaxGeneration = nd.generation
	}
}

func (d *BergerRigoutsos) noteNodeCompleted(nd *dendrogramNode) {
	d.stats.NodesCompleted++
	d.stats.NodesActive--
	d.stats.NodesAllocated--
	if nd.isOwner() {
		d.stats.NodesOwned--
	}
	d.stats.ContinuationSum += nd.nCont
	if nd.nCont > d.stats.MaxContinuations {
		d.stats.MaxContinuations = nd.nCont
	}
}
