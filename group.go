package samrai

// Participant groups are ordered ascending lists of process ranks. A group
// is never empty and always contains its node's owner.

// groupContains reports whether rank is a member of the group.
func groupContains(group []int, rank int) bool {
	for _, r := range group {
		if r == rank {
			return true
		}
	}
	return false
}

// groupsEqual reports whether two ordered groups have identical members.
func groupsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// computeDropoutGroup returns the members of main that are in neither sub
// group, excluding the given rank (the broadcast root, which already knows
// the results). Order follows main.
func computeDropoutGroup(main, lft, rht []int, exclude int) []int {
	var dropouts []int
	for _, r := range main {
		if r == exclude || groupContains(lft, r) || groupContains(rht, r) {
			continue
		}
		dropouts = append(dropouts, r)
	}
	return dropouts
}

// communicationTreeDegree heuristically picks the branching factor for the
// collective-communication tree of a group: binary for small groups, one
// more branch per factor of eight in group size.
func communicationTreeDegree(groupSize int) int {
	deg := 2
	shifted := groupSize >> 3
	for shifted > 0 {
		shifted >>= 3
		deg++
	}
	return deg
}

// ownerCandidate is one group member's standing in the owner election:
// its overlap with the candidate box and its current dendrogram load.
type ownerCandidate struct {
	rank    int
	overlap int
	owned   int
	active  int
}

// selectOwner picks the owner of a child group under the configured policy.
// Ties always break toward the lowest rank. SingleOwner never reaches this
// election; the caller pins rank 0 directly.
func selectOwner(mode OwnerMode, members []ownerCandidate) int {
	best := members[0]
	for _, m := range members[1:] {
		switch mode {
		case MostOverlap:
			if m.overlap > best.overlap {
				best = m
			}
		case FewestOwned:
			if m.owned < best.owned {
				best = m
			}
		case LeastActive:
			if m.active < best.active {
				best = m
			}
		}
	}
	return best.rank
}
