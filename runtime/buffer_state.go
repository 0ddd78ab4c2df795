package runtime

import (
	"github.com/pkg/errors"

	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// BufferState tracks, for one buffer, which nodes hold a current copy of
// which regions. The stored pairs partition the buffer's full extent: every
// point is covered by exactly one pair, and after canonicalization no two
// pairs carry an equal node-set.
type BufferState struct {
	dims  int
	rng   grid.Range
	pairs []regionNodes
}

type regionNodes struct {
	region grid.Region
	nodes  NodeSet
}

// BoxNodes is one element of a source-lookup cover: a box of the requested
// region together with the nodes a current copy can be pulled from.
type BoxNodes struct {
	Box   grid.Box
	Nodes NodeSet
}

// NewBufferState starts with the full extent owned by all worker nodes.
func NewBufferState(dims int, rng grid.Range, numNodes int) *BufferState {
	full := grid.BoxRegion(grid.Box{Max: grid.ID(rng)})
	return &BufferState{
		dims:  dims,
		rng:   rng,
		pairs: []regionNodes{{region: full, nodes: AllNodes(numNodes)}},
	}
}

// Dimensions is the logical dimensionality of the tracked buffer.
func (s *BufferState) Dimensions() int { return s.dims }

// GetSourceNodes resolves request into a disjoint cover using
// largest-overlap-first selection: repeatedly pick the stored pair whose
// intersection with the uncovered remainder has the greatest area (ties to
// the lowest stored index), output its intersection boxes with that pair's
// node-set, and subtract them from the remainder. The returned boxes cover
// request clamped to the buffer extent exactly.
func (s *BufferState) GetSourceNodes(request grid.Region) ([]BoxNodes, error) {
	remaining := grid.Intersect(request, s.fullRegion())
	var result []BoxNodes
	for remaining.Area() > 0 {
		var largest uint64
		largestIdx := -1
		for i := range s.pairs {
			area := grid.Intersect(s.pairs[i].region, remaining).Area()
			if area > largest {
				largest = area
				largestIdx = i
			}
		}
		if largestIdx < 0 {
			return nil, errors.Errorf("buffer state failed to cover remainder of area %d", remaining.Area())
		}
		overlap := grid.Intersect(s.pairs[largestIdx].region, remaining)
		remaining = grid.Difference(remaining, overlap)
		nodes := s.pairs[largestIdx].nodes
		overlap.ScanByBoxes(func(b grid.Box) {
			result = append(result, BoxNodes{Box: b, Nodes: nodes})
		})
	}
	return result, nil
}

// UpdateRegion records that nodes now hold the current copy of region.
// Stored pairs fully contained in region are absorbed; partially overlapping
// pairs keep their remainder. The partition invariant holds on return.
func (s *BufferState) UpdateRegion(region grid.Region, nodes NodeSet) {
	region = grid.Intersect(region, s.fullRegion())
	if region.Empty() {
		return
	}
	next := s.pairs[:0:0]
	for _, pair := range s.pairs {
		diff := grid.Difference(pair.region, region)
		if diff.Empty() {
			continue
		}
		next = append(next, regionNodes{region: diff, nodes: pair.nodes})
	}
	next = append(next, regionNodes{region: region, nodes: nodes})
	s.pairs = next
	s.collapse()
}

// collapse merges pairs whose node-sets are equal. Pairs with differing
// node-sets never merge, even when one set contains the other.
func (s *BufferState) collapse() {
	var out []regionNodes
	for _, pair := range s.pairs {
		merged := false
		for i := range out {
			if out[i].nodes.Equal(pair.nodes) {
				out[i].region = grid.Merge(out[i].region, pair.region)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, pair)
		}
	}
	s.pairs = out
}

// Pairs exposes a snapshot of the stored (region, node-set) pairs.
func (s *BufferState) Pairs() []struct {
	Region grid.Region
	Nodes  NodeSet
} {
	out := make([]struct {
		Region grid.Region
		Nodes  NodeSet
	}, len(s.pairs))
	for i, p := range s.pairs {
		out[i].Region = p.region
		out[i].Nodes = p.nodes
	}
	return out
}

func (s *BufferState) fullRegion() grid.Region {
	return grid.BoxRegion(grid.Box{Max: grid.ID(s.rng)})
}
