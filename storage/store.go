// Package storage holds the node-local contents of registered buffers. Each
// node stores the full extent of every buffer it uses; inter-node transfers
// patch subregions into this store. Data is addressed row-major with the
// dimensions collapsed to three.
package storage

import (
	"sync"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// Store is the buffer-storage collaborator of the runtime core.
type Store interface {
	RegisterBuffer(bid celerity.BufferID, rng grid.Range, elemSize int, hostInit []byte) error
	UnregisterBuffer(bid celerity.BufferID)
	HasBuffer(bid celerity.BufferID) bool
	BufferInfo(bid celerity.BufferID) (grid.Range, int, error)
	GetBufferData(bid celerity.BufferID, offset grid.ID, rng grid.Range) ([]byte, error)
	SetBufferData(bid celerity.BufferID, offset grid.ID, rng grid.Range, data []byte) error
}

type memoryBuffer struct {
	rng      grid.Range
	elemSize int
	data     []byte
}

// MemoryStore keeps buffer contents in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	buffers map[celerity.BufferID]*memoryBuffer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buffers: make(map[celerity.BufferID]*memoryBuffer)}
}

func (s *MemoryStore) RegisterBuffer(bid celerity.BufferID, rng grid.Range, elemSize int, hostInit []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[bid]; ok {
		return errors.Errorf("buffer %d already registered", bid)
	}
	size := int(rng.Size()) * elemSize
	buf := &memoryBuffer{rng: rng, elemSize: elemSize, data: make([]byte, size)}
	if hostInit != nil {
		if len(hostInit) != size {
			return errors.Errorf("host init data for buffer %d has %d bytes, want %d", bid, len(hostInit), size)
		}
		copy(buf.data, hostInit)
	}
	s.buffers[bid] = buf
	return nil
}

func (s *MemoryStore) UnregisterBuffer(bid celerity.BufferID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, bid)
}

func (s *MemoryStore) HasBuffer(bid celerity.BufferID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buffers[bid]
	return ok
}

func (s *MemoryStore) BufferInfo(bid celerity.BufferID) (grid.Range, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[bid]
	if !ok {
		return grid.Range{}, 0, errors.Errorf("no buffer %d in store", bid)
	}
	return buf.rng, buf.elemSize, nil
}

func (s *MemoryStore) GetBufferData(bid celerity.BufferID, offset grid.ID, rng grid.Range) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[bid]
	if !ok {
		return nil, errors.Errorf("no buffer %d in store", bid)
	}
	if err := checkBounds(buf.rng, offset, rng); err != nil {
		return nil, errors.Wrapf(err, "get from buffer %d", bid)
	}
	out := make([]byte, int(rng.Size())*buf.elemSize)
	var pos int
	forEachRow(offset, rng, func(row grid.ID) {
		src := rowIndex(buf.rng, row) * buf.elemSize
		n := int(rng[2]) * buf.elemSize
		copy(out[pos:pos+n], buf.data[src:src+n])
		pos += n
	})
	return out, nil
}

func (s *MemoryStore) SetBufferData(bid celerity.BufferID, offset grid.ID, rng grid.Range, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[bid]
	if !ok {
		return errors.Errorf("no buffer %d in store", bid)
	}
	if err := checkBounds(buf.rng, offset, rng); err != nil {
		return errors.Wrapf(err, "set into buffer %d", bid)
	}
	if want := int(rng.Size()) * buf.elemSize; len(data) != want {
		return errors.Errorf("payload for buffer %d has %d bytes, want %d", bid, len(data), want)
	}
	var pos int
	forEachRow(offset, rng, func(row grid.ID) {
		dst := rowIndex(buf.rng, row) * buf.elemSize
		n := int(rng[2]) * buf.elemSize
		copy(buf.data[dst:dst+n], data[pos:pos+n])
		pos += n
	})
	return nil
}

// rowIndex is the row-major element index of a point within full.
func rowIndex(full grid.Range, id grid.ID) int {
	return int((id[0]*full[1]+id[1])*full[2] + id[2])
}

// forEachRow visits the origin of every contiguous run (fixed axes 0 and 1)
// of the subregion.
func forEachRow(offset grid.ID, rng grid.Range, f func(row grid.ID)) {
	for x := offset[0]; x < offset[0]+rng[0]; x++ {
		for y := offset[1]; y < offset[1]+rng[1]; y++ {
			f(grid.ID{x, y, offset[2]})
		}
	}
}

func checkBounds(full grid.Range, offset grid.ID, rng grid.Range) error {
	for d := 0; d < 3; d++ {
		if offset[d]+rng[d] > full[d] {
			return errors.Errorf("region [%d,%d) exceeds extent %d on axis %d",
				offset[d], offset[d]+rng[d], full[d], d)
		}
	}
	return nil
}
