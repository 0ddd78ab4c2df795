package grid

import "sort"

// Box is an axis-aligned half-open interval [Min, Max).
type Box struct {
	Min ID
	Max ID
}

// Empty reports whether the box covers no points.
func (b Box) Empty() bool {
	for d := 0; d < 3; d++ {
		if b.Max[d] <= b.Min[d] {
			return true
		}
	}
	return false
}

// Area is the number of points covered by the box.
func (b Box) Area() uint64 {
	if b.Empty() {
		return 0
	}
	area := uint64(1)
	for d := 0; d < 3; d++ {
		area *= b.Max[d] - b.Min[d]
	}
	return area
}

// Intersect returns the overlap of two boxes. The result is empty if the
// boxes are disjoint.
func (b Box) Intersect(o Box) Box {
	var out Box
	for d := 0; d < 3; d++ {
		out.Min[d] = maxU64(b.Min[d], o.Min[d])
		out.Max[d] = minU64(b.Max[d], o.Max[d])
		if out.Max[d] < out.Min[d] {
			out.Max[d] = out.Min[d]
		}
	}
	return out
}

// subtract removes s from b, yielding up to six disjoint boxes.
func (b Box) subtract(s Box) []Box {
	is := b.Intersect(s)
	if is.Empty() {
		return []Box{b}
	}
	var out []Box
	cur := b
	for d := 0; d < 3; d++ {
		if cur.Min[d] < is.Min[d] {
			lo := cur
			lo.Max[d] = is.Min[d]
			out = append(out, lo)
			cur.Min[d] = is.Min[d]
		}
		if is.Max[d] < cur.Max[d] {
			hi := cur
			hi.Min[d] = is.Max[d]
			out = append(out, hi)
			cur.Max[d] = is.Max[d]
		}
	}
	return out
}

// mergeable reports whether the union of two boxes is itself a box, i.e. the
// boxes share a full face along exactly one axis.
func (b Box) mergeable(o Box) bool {
	touching := -1
	for d := 0; d < 3; d++ {
		if b.Min[d] == o.Min[d] && b.Max[d] == o.Max[d] {
			continue
		}
		if touching >= 0 {
			return false
		}
		if b.Max[d] == o.Min[d] || o.Max[d] == b.Min[d] {
			touching = d
			continue
		}
		return false
	}
	return touching >= 0
}

func (b Box) less(o Box) bool {
	for d := 0; d < 3; d++ {
		if b.Min[d] != o.Min[d] {
			return b.Min[d] < o.Min[d]
		}
	}
	for d := 0; d < 3; d++ {
		if b.Max[d] != o.Max[d] {
			return b.Max[d] < o.Max[d]
		}
	}
	return false
}

// Region is a finite set of disjoint boxes in canonical form: empty boxes
// removed, face-adjacent boxes merged, boxes sorted by origin.
type Region []Box

// NewRegion canonicalizes the given boxes into a region. The boxes must be
// pairwise disjoint.
func NewRegion(boxes ...Box) Region {
	return canonicalize(boxes)
}

// BoxRegion is a single-box region.
func BoxRegion(b Box) Region {
	if b.Empty() {
		return nil
	}
	return Region{b}
}

// Area is the total number of points covered by the region.
func (r Region) Area() uint64 {
	var area uint64
	for _, b := range r {
		area += b.Area()
	}
	return area
}

// Empty reports whether the region covers no points.
func (r Region) Empty() bool {
	return r.Area() == 0
}

// ScanByBoxes invokes f on each constituent box.
func (r Region) ScanByBoxes(f func(Box)) {
	for _, b := range r {
		f(b)
	}
}

// Equal reports whether two regions cover exactly the same points.
func (r Region) Equal(o Region) bool {
	return Difference(r, o).Empty() && Difference(o, r).Empty()
}

// Intersect returns the canonical overlap of two regions.
func Intersect(a, b Region) Region {
	var out []Box
	for _, ba := range a {
		for _, bb := range b {
			if is := ba.Intersect(bb); !is.Empty() {
				out = append(out, is)
			}
		}
	}
	return canonicalize(out)
}

// Difference returns the canonical region of points in a but not in b.
func Difference(a, b Region) Region {
	remaining := make([]Box, len(a))
	copy(remaining, a)
	for _, bb := range b {
		var next []Box
		for _, ba := range remaining {
			next = append(next, ba.subtract(bb)...)
		}
		remaining = next
	}
	return canonicalize(remaining)
}

// Merge returns the canonical set union of two regions.
func Merge(a, b Region) Region {
	out := make([]Box, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, Difference(b, a)...)
	return canonicalize(out)
}

func canonicalize(boxes []Box) Region {
	var out []Box
	for _, b := range boxes {
		if !b.Empty() {
			out = append(out, b)
		}
	}
	// Greedily merge boxes whose union is again a box, until no pair is left.
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(out) && !merged; i++ {
			for j := i + 1; j < len(out) && !merged; j++ {
				if out[i].mergeable(out[j]) {
					u := out[i]
					for d := 0; d < 3; d++ {
						u.Min[d] = minU64(u.Min[d], out[j].Min[d])
						u.Max[d] = maxU64(u.Max[d], out[j].Max[d])
					}
					out[i] = u
					out = append(out[:j], out[j+1:]...)
					merged = true
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	if len(out) == 0 {
		return nil
	}
	return Region(out)
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
