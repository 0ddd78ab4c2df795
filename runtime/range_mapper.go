package runtime

import (
	"math"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// RangeMapper maps a chunk of a kernel's iteration space to the buffer
// subrange that chunk accesses. Mappers must be pure; the builder may invoke
// them with any chunk and clamps the result to the buffer extent before use.
type RangeMapper func(chunk grid.Subrange) grid.Subrange

// OneToOne maps each chunk to the identical buffer subrange.
func OneToOne() RangeMapper {
	return func(chunk grid.Subrange) grid.Subrange { return chunk }
}

// FixedRegion maps every chunk to the same buffer subrange.
func FixedRegion(offset grid.ID, rng grid.Range) RangeMapper {
	return func(grid.Subrange) grid.Subrange {
		return grid.Subrange{Offset: offset, Range: rng}
	}
}

// All maps every chunk to the entire buffer.
func All() RangeMapper {
	return FixedRegion(grid.ID{}, grid.Range{math.MaxUint64, math.MaxUint64, math.MaxUint64})
}

// Slice expands the chunk to the buffer's full extent along the given axis.
func Slice(axis int) RangeMapper {
	return func(chunk grid.Subrange) grid.Subrange {
		out := chunk
		out.Offset[axis] = 0
		out.Range[axis] = math.MaxUint64
		return out
	}
}

// apply evaluates a mapper for a chunk and clamps the result to the buffer's
// extent.
func (m RangeMapper) apply(chunk grid.Subrange, bufRange grid.Range) grid.Subrange {
	out := m(chunk)
	out.GlobalSize = bufRange
	return out.Clamp()
}

// ModeMapper is one stored requirement entry: an access mode with the mapper
// recorded for it.
type ModeMapper struct {
	Mode   AccessMode
	Mapper RangeMapper
}

// MapperRegistry stores, for each (task, buffer) pair, the ordered list of
// recorded (mode, mapper) entries, so the command-graph builder can
// re-evaluate requirements for any chunk of the iteration space.
type MapperRegistry struct {
	entries map[celerity.TaskID]map[celerity.BufferID][]ModeMapper
}

func NewMapperRegistry() *MapperRegistry {
	return &MapperRegistry{entries: make(map[celerity.TaskID]map[celerity.BufferID][]ModeMapper)}
}

func (r *MapperRegistry) Add(tid celerity.TaskID, bid celerity.BufferID, mode AccessMode, mapper RangeMapper) {
	byBuffer, ok := r.entries[tid]
	if !ok {
		byBuffer = make(map[celerity.BufferID][]ModeMapper)
		r.entries[tid] = byBuffer
	}
	byBuffer[bid] = append(byBuffer[bid], ModeMapper{Mode: mode, Mapper: mapper})
}

func (r *MapperRegistry) Get(tid celerity.TaskID, bid celerity.BufferID) []ModeMapper {
	return r.entries[tid][bid]
}
