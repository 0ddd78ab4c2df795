package runtime

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
)

// CommandGroup is the user-supplied closure describing one task. It is
// invoked twice: once during the pre-pass, where accessor creation records
// buffer requirements and the kernel body does not run, and once per node
// during execution, where accessors read and write the local buffer store.
type CommandGroup func(cgh *Handler)

// Kernel is invoked once per global index of the local chunk during
// execution.
type Kernel func(id grid.ID)

type handlerMode int

const (
	modePrepass handlerMode = iota
	modeLive
)

// Handler is the capability object passed to a command group. The same
// handler type serves both passes; operations invalid for the current mode
// or task kind fail with a usage error surfaced at submit time.
type Handler struct {
	queue *Queue
	mode  handlerMode
	kind  TaskKind
	tid   celerity.TaskID

	// pre-pass state
	dims       int
	globalSize grid.Range
	debugName  string
	sized      bool
	reqs       []Requirement
	err        error

	// live state
	chunk grid.Subrange
	store storage.Store
}

// ParallelFor declares the kernel's global iteration space and debug name,
// and supplies the kernel body. During the pre-pass the body is not invoked;
// during execution it runs once per index of the local chunk.
func (h *Handler) ParallelFor(dims int, globalSize grid.Range, debugName string, kernel Kernel) {
	if h.kind != TaskCompute {
		h.fail(errors.New("parallel_for is only allowed in compute tasks"))
		return
	}
	if h.mode == modePrepass {
		if h.sized {
			h.fail(errors.New("a command group may only contain one parallel_for"))
			return
		}
		h.dims = dims
		h.globalSize = globalSize
		h.debugName = debugName
		h.sized = true
		return
	}
	end := h.chunk.Offset
	for d := 0; d < 3; d++ {
		end[d] += h.chunk.Range[d]
	}
	for x := h.chunk.Offset[0]; x < end[0]; x++ {
		for y := h.chunk.Offset[1]; y < end[1]; y++ {
			for z := h.chunk.Offset[2]; z < end[2]; z++ {
				kernel(grid.ID{x, y, z})
			}
		}
	}
}

func (h *Handler) require(bid celerity.BufferID, mode AccessMode, mapper RangeMapper) {
	h.reqs = append(h.reqs, Requirement{BID: bid, Mode: mode, Mapper: mapper})
}

func (h *Handler) fail(err error) {
	if h.err == nil {
		h.err = err
	}
}

// Buffer is the user-facing handle to a registered buffer. Elements are
// float64 throughout.
type Buffer struct {
	queue *Queue
	id    celerity.BufferID
	dims  int
	rng   grid.Range
}

func (b *Buffer) ID() celerity.BufferID { return b.id }

func (b *Buffer) Dims() int { return b.dims }

func (b *Buffer) Range() grid.Range { return b.rng }

// Access declares a buffer requirement on a compute task and returns the
// accessor for it. During the pre-pass the requirement is recorded and the
// accessor is inert; during execution the accessor is bound to the node's
// buffer store.
func (b *Buffer) Access(cgh *Handler, mode AccessMode, mapper RangeMapper) *Accessor {
	if cgh.kind != TaskCompute {
		cgh.fail(errors.New("this access overload is only allowed in compute tasks"))
		return &Accessor{}
	}
	if cgh.mode == modePrepass {
		cgh.require(b.id, mode, mapper)
		return &Accessor{}
	}
	return &Accessor{live: true, store: cgh.store, bid: b.id, rng: b.rng}
}

// AccessFixed declares a fixed-region requirement on a master-access task.
func (b *Buffer) AccessFixed(cgh *Handler, mode AccessMode, offset grid.ID, rng grid.Range) *Accessor {
	if cgh.kind != TaskMasterAccess {
		cgh.fail(errors.New("this access overload is only allowed in master access tasks"))
		return &Accessor{}
	}
	if cgh.mode == modePrepass {
		cgh.require(b.id, mode, FixedRegion(offset, rng))
		return &Accessor{}
	}
	return &Accessor{live: true, store: cgh.store, bid: b.id, rng: b.rng}
}

// Accessor reads and writes buffer elements at global coordinates. Outside
// the live pass it is inert: reads yield zero and writes are dropped, like
// the pre-pass accessors of the original runtime.
type Accessor struct {
	live  bool
	store storage.Store
	bid   celerity.BufferID
	rng   grid.Range
}

var unitRange = grid.Range{1, 1, 1}

// At returns the element at the given global index.
func (a *Accessor) At(id grid.ID) float64 {
	if !a.live {
		return 0
	}
	data, err := a.store.GetBufferData(a.bid, id, unitRange)
	if err != nil {
		panic(errors.Wrapf(err, "accessor read of buffer %d at %v", a.bid, id))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data))
}

// Set stores the element at the given global index.
func (a *Accessor) Set(id grid.ID, v float64) {
	if !a.live {
		return
	}
	var data [8]byte
	binary.LittleEndian.PutUint64(data[:], math.Float64bits(v))
	if err := a.store.SetBufferData(a.bid, id, unitRange, data[:]); err != nil {
		panic(errors.Wrapf(err, "accessor write of buffer %d at %v", a.bid, id))
	}
}
