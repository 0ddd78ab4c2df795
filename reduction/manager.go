// Package reduction collects partial reduction results arriving from peer
// nodes. Inbound transfer frames tagged with a reduction id bypass the
// buffer store and are combined here. Commit writes the combined result to
// the target buffer region; the manager does not track how many
// contributions to expect and never commits on its own.
package reduction

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
	"github.com/unisa-hpc/celerity-on-synergy/utils"
)

// Op is the elementwise combine applied to partial results.
type Op int

const (
	Sum Op = iota
	Min
	Max
	Prod
)

type reduction struct {
	bid celerity.BufferID
	sr  grid.Subrange
	op  Op
	acc *mat.VecDense

	contributed map[celerity.NodeID]bool
}

// Manager tracks the reductions registered on the local node.
type Manager struct {
	mu         sync.RWMutex
	reductions map[celerity.ReductionID]*reduction
}

func NewManager() *Manager {
	return &Manager{reductions: make(map[celerity.ReductionID]*reduction)}
}

// Register announces a reduction into the given buffer region.
func (m *Manager) Register(rid celerity.ReductionID, bid celerity.BufferID, sr grid.Subrange, op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reductions[rid]; ok {
		return errors.Errorf("reduction %d already registered", rid)
	}
	m.reductions[rid] = &reduction{
		bid:         bid,
		sr:          sr,
		op:          op,
		contributed: make(map[celerity.NodeID]bool),
	}
	return nil
}

// Has reports whether the reduction is known locally.
func (m *Manager) Has(rid celerity.ReductionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reductions[rid]
	return ok
}

// Push combines one node's partial result into the accumulator. Repeated
// pushes from the same node are an error.
func (m *Manager) Push(rid celerity.ReductionID, source celerity.NodeID, payload []byte) error {
	values, err := utils.BytesToFloats(payload)
	if err != nil {
		return errors.Wrapf(err, "bad partial for reduction %d", rid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reductions[rid]
	if !ok {
		return errors.Errorf("no reduction %d registered", rid)
	}
	if r.contributed[source] {
		return errors.Errorf("node %d already contributed to reduction %d", source, rid)
	}
	if want := int(r.sr.Range.Size()); len(values) != want {
		return errors.Errorf("partial for reduction %d has %d elements, want %d", rid, len(values), want)
	}
	r.contributed[source] = true

	incoming := mat.NewVecDense(len(values), values)
	if r.acc == nil {
		r.acc = incoming
		return nil
	}
	switch r.op {
	case Sum:
		r.acc.AddVec(r.acc, incoming)
	case Prod:
		r.acc.MulElemVec(r.acc, incoming)
	case Min:
		for i := 0; i < r.acc.Len(); i++ {
			if v := incoming.AtVec(i); v < r.acc.AtVec(i) {
				r.acc.SetVec(i, v)
			}
		}
	case Max:
		for i := 0; i < r.acc.Len(); i++ {
			if v := incoming.AtVec(i); v > r.acc.AtVec(i) {
				r.acc.SetVec(i, v)
			}
		}
	default:
		return errors.Errorf("unknown reduction op %d", r.op)
	}
	return nil
}

// Contributions reports how many partials have arrived.
func (m *Manager) Contributions(rid celerity.ReductionID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reductions[rid]
	if !ok {
		return 0
	}
	return len(r.contributed)
}

// Commit writes the combined result into the target buffer region and
// forgets the reduction.
func (m *Manager) Commit(rid celerity.ReductionID, store storage.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reductions[rid]
	if !ok {
		return errors.Errorf("no reduction %d registered", rid)
	}
	if r.acc == nil {
		return errors.Errorf("reduction %d has no contributions", rid)
	}
	payload := utils.FloatsToBytes(r.acc.RawVector().Data)
	if err := store.SetBufferData(r.bid, r.sr.Offset, r.sr.Range, payload); err != nil {
		return errors.Wrapf(err, "committing reduction %d", rid)
	}
	delete(m.reductions, rid)
	return nil
}
