package storage

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

type fileBuffer struct {
	rng      grid.Range
	elemSize int
	base     int64
}

// FileStore backs buffer contents with a single memory file on disk, one per
// node. Buffers are allocated back to back in registration order.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	next    int64
	buffers map[celerity.BufferID]*fileBuffer
}

// NewFileStore creates (or truncates) the memory file at path.
func NewFileStore(path string) (*FileStore, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating memory file %s", path)
	}
	file.Close()
	return &FileStore{path: path, buffers: make(map[celerity.BufferID]*fileBuffer)}, nil
}

func (s *FileStore) RegisterBuffer(bid celerity.BufferID, rng grid.Range, elemSize int, hostInit []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[bid]; ok {
		return errors.Errorf("buffer %d already registered", bid)
	}
	size := int64(rng.Size()) * int64(elemSize)
	buf := &fileBuffer{rng: rng, elemSize: elemSize, base: s.next}

	file, err := os.OpenFile(s.path, os.O_RDWR, 0666)
	if err != nil {
		return errors.Wrapf(err, "error opening memory file %s", s.path)
	}
	defer file.Close()
	if err := file.Truncate(s.next + size); err != nil {
		return errors.Wrapf(err, "error allocating space for buffer %d", bid)
	}
	init := hostInit
	if init == nil {
		init = make([]byte, size)
	} else if int64(len(init)) != size {
		return errors.Errorf("host init data for buffer %d has %d bytes, want %d", bid, len(init), size)
	}
	if _, err := file.WriteAt(init, buf.base); err != nil {
		return errors.Wrapf(err, "error initializing buffer %d", bid)
	}

	s.next += size
	s.buffers[bid] = buf
	return nil
}

func (s *FileStore) UnregisterBuffer(bid celerity.BufferID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the file space is not reclaimed, matching the append-only allocation
	delete(s.buffers, bid)
}

func (s *FileStore) HasBuffer(bid celerity.BufferID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buffers[bid]
	return ok
}

func (s *FileStore) BufferInfo(bid celerity.BufferID) (grid.Range, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[bid]
	if !ok {
		return grid.Range{}, 0, errors.Errorf("no buffer %d in store", bid)
	}
	return buf.rng, buf.elemSize, nil
}

func (s *FileStore) GetBufferData(bid celerity.BufferID, offset grid.ID, rng grid.Range) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[bid]
	if !ok {
		return nil, errors.Errorf("no buffer %d in store", bid)
	}
	if err := checkBounds(buf.rng, offset, rng); err != nil {
		return nil, errors.Wrapf(err, "get from buffer %d", bid)
	}
	file, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening memory file %s", s.path)
	}
	defer file.Close()

	out := make([]byte, int(rng.Size())*buf.elemSize)
	var pos int
	var readErr error
	forEachRow(offset, rng, func(row grid.ID) {
		if readErr != nil {
			return
		}
		at := buf.base + int64(rowIndex(buf.rng, row)*buf.elemSize)
		n := int(rng[2]) * buf.elemSize
		if _, err := file.ReadAt(out[pos:pos+n], at); err != nil {
			readErr = errors.Wrapf(err, "failed to read buffer %d at offset %d", bid, at)
		}
		pos += n
	})
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}

func (s *FileStore) SetBufferData(bid celerity.BufferID, offset grid.ID, rng grid.Range, data []byte) error {
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
	file, err := os.OpenFile(s.path, os.O_RDWR, 0666)
	if err != nil {
		return errors.Wrapf(err, "error opening memory file %s", s.path)
	}
	defer file.Close()

	var pos int
	var writeErr error
	forEachRow(offset, rng, func(row grid.ID) {
		if writeErr != nil {
			return
		}
		at := buf.base + int64(rowIndex(buf.rng, row)*buf.elemSize)
		n := int(rng[2]) * buf.elemSize
		if _, err := file.WriteAt(data[pos:pos+n], at); err != nil {
			writeErr = errors.Wrapf(err, "failed to write buffer %d at offset %d", bid, at)
		}
		pos += n
	})
	return writeErr
}
