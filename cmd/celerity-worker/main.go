// celerity-worker runs one node of the distributed matmul demo. Every node
// is started with the same cluster config and its own rank; each submits
// the identical command groups, builds the identical graphs, and executes
// its own share of every kernel, pulling remote buffer regions over the
// fabric as needed.
//
// Usage:
//
//	celerity-worker -config config/cluster.json -rank 0
package main

import (
	"context"
	"flag"
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/launch"
	"github.com/unisa-hpc/celerity-on-synergy/runtime"
)

const matSize = 64

func setIdentity(queue *runtime.Queue, m *runtime.Buffer) error {
	_, err := queue.Submit(func(cgh *runtime.Handler) {
		dw := m.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(2, m.Range(), "set_identity", func(id grid.ID) {
			if id[0] == id[1] {
				dw.Set(id, 1)
			} else {
				dw.Set(id, 0)
			}
		})
	})
	return err
}

func multiply(queue *runtime.Queue, a, b, c *runtime.Buffer) error {
	_, err := queue.Submit(func(cgh *runtime.Handler) {
		accA := a.Access(cgh, runtime.Read, runtime.Slice(1))
		accB := b.Access(cgh, runtime.Read, runtime.Slice(0))
		accC := c.Access(cgh, runtime.DiscardWrite, runtime.OneToOne())
		cgh.ParallelFor(2, c.Range(), "mat_mul", func(id grid.ID) {
			var sum float64
			for k := uint64(0); k < matSize; k++ {
				sum += accA.At(grid.ID2(id[0], k)) * accB.At(grid.ID2(k, id[1]))
			}
			accC.Set(id, sum)
		})
	})
	return err
}

// verify pulls the result onto the master node and checks it against the
// expected identity product.
func verify(queue *runtime.Queue, c *runtime.Buffer, passed *bool) error {
	_, err := queue.SubmitMasterAccess(func(cgh *runtime.Handler) {
		acc := c.AccessFixed(cgh, runtime.Read, grid.ID{}, c.Range())
		got := mat.NewDense(matSize, matSize, nil)
		for i := uint64(0); i < matSize; i++ {
			for j := uint64(0); j < matSize; j++ {
				got.Set(int(i), int(j), acc.At(grid.ID2(i, j)))
			}
		}
		want := mat.NewDiagDense(matSize, nil)
		for i := 0; i < matSize; i++ {
			want.SetDiag(i, 1)
		}
		*passed = mat.EqualApprox(got, want, 1e-9)
	})
	return err
}

func main() {
	configPath := flag.String("config", "config/cluster.json", "cluster config file")
	rank := flag.Int("rank", 0, "rank of this node")
	flag.Parse()

	config, err := launch.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	queue := runtime.NewQueue(len(config.Nodes))
	rng := grid.Range2(matSize, matSize)
	matA, err := queue.CreateBuffer(2, rng, nil)
	if err != nil {
		log.Fatalf("failed to create buffer: %v", err)
	}
	matB, err := queue.CreateBuffer(2, rng, nil)
	if err != nil {
		log.Fatalf("failed to create buffer: %v", err)
	}
	matC, err := queue.CreateBuffer(2, rng, nil)
	if err != nil {
		log.Fatalf("failed to create buffer: %v", err)
	}

	if err := setIdentity(queue, matA); err != nil {
		log.Fatalf("failed to submit: %v", err)
	}
	if err := setIdentity(queue, matB); err != nil {
		log.Fatalf("failed to submit: %v", err)
	}
	if err := multiply(queue, matA, matB, matC); err != nil {
		log.Fatalf("failed to submit: %v", err)
	}
	var passed bool
	if err := verify(queue, matC, &passed); err != nil {
		log.Fatalf("failed to submit: %v", err)
	}

	if err := queue.BuildCommandGraph(); err != nil {
		log.Fatalf("failed to build command graph: %v", err)
	}

	node, err := launch.StartNode(config, *rank, queue)
	if err != nil {
		log.Fatalf("failed to start node %d: %v", *rank, err)
	}
	defer node.Close()

	if err := node.Run(context.Background()); err != nil {
		log.Fatalf("node %d failed: %v", *rank, err)
	}
	if *rank == 0 {
		if passed {
			log.Printf("verification passed for %dx%d matmul", matSize, matSize)
		} else {
			log.Fatalf("verification failed")
		}
	}
	log.Printf("node %d done", *rank)
}
