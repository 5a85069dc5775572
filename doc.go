// Package samrai implements the asynchronous Berger-Rigoutsos (BR)
// box-clustering engine used in adaptive mesh refinement.
//
// Given a boolean "tag" field distributed over a structured index space
// (each process holds tags only for its own patches), the engine computes a
// small set of axis-aligned boxes that cover every tagged cell, subject to a
// minimum efficiency (fraction of covered cells that are tagged), a maximum
// box size and a minimum cut size. The algorithm is described in Berger and
// Rigoutsos, IEEE Trans. on Sys, Man, and Cyber (21)5:1278-1286.
//
// The recursive bisection is flattened into a dendrogram of nodes, each a
// re-entrant state machine that suspends at communication boundaries instead
// of blocking, so a cluster-wide run never holds a deep call stack across
// processes. Each candidate box is coordinated by an owner process and a
// participant group that shrinks as the tree recurses.
//
// Basic serial usage:
//
//	tags := samrai.NewTagField([]samrai.Box{domain})
//	tags.SetTag([]int{2, 3})
//	cfg := samrai.DefaultConfig()
//	cfg.EfficiencyTol = 0.8
//	result, err := samrai.FindBoxesContainingTags(tags, []samrai.Box{domain}, cfg)
//	// result.Boxes are the accepted boxes.
//
// The bounding boxes are one per block of the index space; each block is
// clustered from its own root, so no output box spans two blocks.
//
// For a distributed run, give every process a Config.Comm endpoint from the
// same transport (see Loopback for the in-memory implementation used in
// tests) and call FindBoxesContainingTags collectively with the same bounds
// and configuration on every rank. Result.Boxes is then identical on every
// rank; Result.LocalBoxes is the subset the calling process owns.
package samrai
