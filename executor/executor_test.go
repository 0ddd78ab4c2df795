package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	devmock "github.com/unisa-hpc/celerity-on-synergy/executor/mock"
	"github.com/unisa-hpc/celerity-on-synergy/fabric"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/reduction"
	"github.com/unisa-hpc/celerity-on-synergy/runtime"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
	"github.com/unisa-hpc/celerity-on-synergy/transfer"
	"github.com/unisa-hpc/celerity-on-synergy/utils"
)

// runCluster builds one store, transfer manager and executor per node and
// runs all nodes concurrently, the way separate worker processes would.
func runCluster(t *testing.T, q *runtime.Queue) []storage.Store {
	numNodes := q.NumNodes()
	hub := fabric.NewHub(numNodes)
	stores := make([]storage.Store, numNodes)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, numNodes)
	for n := 0; n < numNodes; n++ {
		store := storage.NewMemoryStore()
		assert.NoError(t, q.RegisterBuffers(store))
		stores[n] = store

		tm := transfer.NewManager(hub.Node(n), store, reduction.NewManager())
		exec := New(celerity.NodeID(n), q, tm, NewHostDevice(q, store))
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = exec.Run(ctx)
		}(n)
	}
	wg.Wait()
	for n, err := range errs {
		assert.NoError(t, err, "node %d", n)
	}
	return stores
}

func bufferFloats(t *testing.T, store storage.Store, bid celerity.BufferID, rng grid.Range) []float64 {
	data, err := store.GetBufferData(bid, grid.ID{}, rng)
	assert.NoError(t, err)
	values, err := utils.BytesToFloats(data)
	assert.NoError(t, err)
	return values
}

func TestTwoNodeProducerConsumer(t *testing.T) {
	q := runtime.NewQueue(2)
	in, err := q.CreateBuffer(1, grid.Range1(8), nil)
	assert.NoError(t, err)
	out, err := q.CreateBuffer(1, grid.Range1(8), nil)
	assert.NoError(t, err)

	_, err = q.Submit(func(cgh *runtime.Handler) {
		acc := in.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(1, in.Range(), "produce", func(id grid.ID) {
			acc.Set(id, float64(id[0]))
		})
	})
	assert.NoError(t, err)

	// each chunk reads the whole input, forcing cross-node pushes
	_, err = q.Submit(func(cgh *runtime.Handler) {
		src := in.Access(cgh, runtime.Read, runtime.All())
		dst := out.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(1, out.Range(), "mirror-sum", func(id grid.ID) {
			var sum float64
			for i := uint64(0); i < 8; i++ {
				sum += src.At(grid.ID1(i))
			}
			dst.Set(id, sum+float64(id[0]))
		})
	})
	assert.NoError(t, err)
	assert.NoError(t, q.BuildCommandGraph())

	stores := runCluster(t, q)

	// after the pulls, both nodes hold the full input
	want := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	assert.Equal(t, want, bufferFloats(t, stores[0], in.ID(), in.Range()))
	assert.Equal(t, want, bufferFloats(t, stores[1], in.ID(), in.Range()))

	// each node produced its own half of the output (sum of inputs = 28)
	out0 := bufferFloats(t, stores[0], out.ID(), out.Range())
	out1 := bufferFloats(t, stores[1], out.ID(), out.Range())
	for i := 0; i < 4; i++ {
		assert.Equal(t, 28+float64(i), out0[i])
	}
	for i := 4; i < 8; i++ {
		assert.Equal(t, 28+float64(i), out1[i])
	}
}

func TestThreeNodePipeline(t *testing.T) {
	q := runtime.NewQueue(3)
	buf, _ := q.CreateBuffer(1, grid.Range1(12), nil)

	_, err := q.Submit(func(cgh *runtime.Handler) {
		acc := buf.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(1, buf.Range(), "init", func(id grid.ID) {
			acc.Set(id, 1)
		})
	})
	assert.NoError(t, err)
	_, err = q.Submit(func(cgh *runtime.Handler) {
		acc := buf.Access(cgh, runtime.ReadWrite, runtime.OneToOne())
		cgh.ParallelFor(1, buf.Range(), "double", func(id grid.ID) {
			acc.Set(id, acc.At(id)*2)
		})
	})
	assert.NoError(t, err)
	assert.NoError(t, q.BuildCommandGraph())

	stores := runCluster(t, q)

	// ownership is chunked: node n holds its own third with value 2
	for n, lo := range []uint64{0, 4, 8} {
		data, err := stores[n].GetBufferData(buf.ID(), grid.ID1(lo), grid.Range1(4))
		assert.NoError(t, err)
		values, _ := utils.BytesToFloats(data)
		assert.Equal(t, []float64{2, 2, 2, 2}, values)
	}
}

func TestMasterAccessPullsEverything(t *testing.T) {
	q := runtime.NewQueue(2)
	buf, _ := q.CreateBuffer(1, grid.Range1(8), nil)

	_, err := q.Submit(func(cgh *runtime.Handler) {
		acc := buf.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(1, buf.Range(), "fill", func(id grid.ID) {
			acc.Set(id, float64(id[0])*10)
		})
	})
	assert.NoError(t, err)

	var seen []float64
	_, err = q.SubmitMasterAccess(func(cgh *runtime.Handler) {
		acc := buf.AccessFixed(cgh, runtime.Read, grid.ID1(0), grid.Range1(8))
		if acc != nil {
			// the pre-pass accessor is inert and reads zeros; the live pass
			// on the master node then refills seen with the real values
			seen = seen[:0]
			for i := uint64(0); i < 8; i++ {
				seen = append(seen, acc.At(grid.ID1(i)))
			}
		}
	})
	assert.NoError(t, err)
	assert.NoError(t, q.BuildCommandGraph())

	runCluster(t, q)
	assert.Equal(t, []float64{0, 10, 20, 30, 40, 50, 60, 70}, seen)
}

func TestExecutorHandsChunksToDevice(t *testing.T) {
	q := runtime.NewQueue(1)
	buf, _ := q.CreateBuffer(1, grid.Range1(6), nil)
	tid, err := q.Submit(func(cgh *runtime.Handler) {
		acc := buf.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(1, buf.Range(), "fill", func(id grid.ID) {
			acc.Set(id, 1)
		})
	})
	assert.NoError(t, err)
	assert.NoError(t, q.BuildCommandGraph())

	store := storage.NewMemoryStore()
	assert.NoError(t, q.RegisterBuffers(store))
	hub := fabric.NewHub(1)
	tm := transfer.NewManager(hub.Node(0), store, reduction.NewManager())

	device := new(devmock.MockDevice)
	device.On("Execute", tmock.Anything, tid, tmock.Anything).Return(nil).Once()

	exec := New(0, q, tm, device)
	assert.NoError(t, exec.Run(context.Background()))
	device.AssertExpectations(t)

	chunk := device.Calls[0].Arguments.Get(2).(grid.Subrange)
	assert.Equal(t, uint64(6), chunk.Range[0])
}
