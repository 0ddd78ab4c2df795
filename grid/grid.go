// Package grid provides the geometric substrate of the runtime: extents,
// points, subranges and set algebra over axis-aligned boxes and regions.
//
// All values are carried with three components regardless of the logical
// dimensionality of the buffer or kernel they describe. Unused axes have
// extent 1 and offset 0, so a 1-dimensional range {8} is stored as {8, 1, 1}.
package grid

// Range is a per-axis extent.
type Range [3]uint64

// ID is a per-axis origin or point.
type ID [3]uint64

// Range1 returns a 1-dimensional extent collapsed to three components.
func Range1(x uint64) Range { return Range{x, 1, 1} }

// Range2 returns a 2-dimensional extent collapsed to three components.
func Range2(x, y uint64) Range { return Range{x, y, 1} }

// Range3 returns a 3-dimensional extent.
func Range3(x, y, z uint64) Range { return Range{x, y, z} }

// ID1 returns a 1-dimensional point collapsed to three components.
func ID1(x uint64) ID { return ID{x, 0, 0} }

// ID2 returns a 2-dimensional point collapsed to three components.
func ID2(x, y uint64) ID { return ID{x, y, 0} }

// ID3 returns a 3-dimensional point.
func ID3(x, y, z uint64) ID { return ID{x, y, z} }

// Size is the number of points covered by the extent.
func (r Range) Size() uint64 {
	return r[0] * r[1] * r[2]
}

// Subrange is a rectangular window into a global iteration or buffer space.
type Subrange struct {
	Offset     ID
	Range      Range
	GlobalSize Range
}

// Clamp shrinks the subrange so that Offset[i]+Range[i] <= GlobalSize[i] on
// every axis.
func (sr Subrange) Clamp() Subrange {
	out := sr
	for d := 0; d < 3; d++ {
		if out.Offset[d] >= sr.GlobalSize[d] {
			out.Offset[d] = sr.GlobalSize[d]
			out.Range[d] = 0
			continue
		}
		if avail := sr.GlobalSize[d] - out.Offset[d]; out.Range[d] > avail {
			out.Range[d] = avail
		}
	}
	return out
}

// Box returns the half-open box covered by the subrange.
func (sr Subrange) Box() Box {
	var max ID
	for d := 0; d < 3; d++ {
		max[d] = sr.Offset[d] + sr.Range[d]
	}
	return Box{Min: sr.Offset, Max: max}
}

// SubrangeFromBox converts a box back into a subrange within global.
func SubrangeFromBox(b Box, global Range) Subrange {
	var rng Range
	for d := 0; d < 3; d++ {
		rng[d] = b.Max[d] - b.Min[d]
	}
	return Subrange{Offset: b.Min, Range: rng, GlobalSize: global}
}
