// Package launch bootstraps one worker node from a cluster configuration:
// it starts the node's fabric server, opens the local buffer store, and
// wires the transfer manager and executor together.
package launch

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"os"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/executor"
	"github.com/unisa-hpc/celerity-on-synergy/fabric"
	"github.com/unisa-hpc/celerity-on-synergy/reduction"
	"github.com/unisa-hpc/celerity-on-synergy/runtime"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
	"github.com/unisa-hpc/celerity-on-synergy/transfer"
)

// NodeConfig describes one worker node of the cluster.
type NodeConfig struct {
	Address string `json:"address"`
	// MemoryFilePath backs the node's buffer store; empty keeps buffers in
	// process memory.
	MemoryFilePath string `json:"memory_file_path"`
}

// Config is the cluster configuration shared by all nodes.
type Config struct {
	Nodes map[uint64]*NodeConfig `json:"nodes"`
}

// LoadConfig reads a cluster configuration from a JSON file. Node ids must
// be the contiguous ranks 0..N-1.
func LoadConfig(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening config file")
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "error decoding config file")
	}
	if len(config.Nodes) == 0 {
		return nil, errors.New("config lists no nodes")
	}
	for rank := uint64(0); rank < uint64(len(config.Nodes)); rank++ {
		nc, ok := config.Nodes[rank]
		if !ok {
			return nil, errors.Errorf("config is missing node %d: ranks must be 0..%d", rank, len(config.Nodes)-1)
		}
		if nc.Address == "" {
			return nil, errors.Errorf("node %d has no address", rank)
		}
	}
	return &config, nil
}

// Addresses maps each rank to its listen address.
func (c *Config) Addresses() map[int]string {
	out := make(map[int]string, len(c.Nodes))
	for rank, nc := range c.Nodes {
		out[int(rank)] = nc.Address
	}
	return out
}

// Node is one running worker.
type Node struct {
	Rank      int
	Queue     *runtime.Queue
	Store     storage.Store
	Fabric    *fabric.GRPC
	Transfers *transfer.Manager
	Executor  *executor.Executor
}

// StartNode brings up the local worker: its fabric server on the configured
// address, its buffer store with every queue buffer registered, and the
// executor for its command stream. The queue must already hold the full
// submission stream; every node builds the same graphs from it.
func StartNode(config *Config, rank int, queue *runtime.Queue) (*Node, error) {
	nc, ok := config.Nodes[uint64(rank)]
	if !ok {
		return nil, errors.Errorf("no node %d in config", rank)
	}

	fab := fabric.NewGRPC(rank, config.Addresses())
	listen, err := net.Listen("tcp", nc.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on address %s", nc.Address)
	}
	go func() {
		log.Printf("node %d fabric listening on %s", rank, nc.Address)
		if err := fab.Serve(listen); err != nil {
			log.Fatalf("failed to serve fabric on %s: %v", nc.Address, err)
		}
	}()

	var store storage.Store
	if nc.MemoryFilePath != "" {
		store, err = storage.NewFileStore(nc.MemoryFilePath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open memory file for node %d", rank)
		}
	} else {
		store = storage.NewMemoryStore()
	}
	if err := queue.RegisterBuffers(store); err != nil {
		return nil, errors.Wrapf(err, "failed to register buffers on node %d", rank)
	}

	tm := transfer.NewManager(fab, store, reduction.NewManager())
	exec := executor.New(celerity.NodeID(rank), queue, tm, executor.NewHostDevice(queue, store))
	return &Node{
		Rank:      rank,
		Queue:     queue,
		Store:     store,
		Fabric:    fab,
		Transfers: tm,
		Executor:  exec,
	}, nil
}

// Run executes the node's command stream to completion.
func (n *Node) Run(ctx context.Context) error {
	return n.Executor.Run(ctx)
}

// Close releases the node's buffers and tears down its fabric endpoint.
func (n *Node) Close() {
	n.Queue.UnregisterBuffers(n.Store)
	n.Fabric.Close()
}
