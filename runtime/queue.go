package runtime

import (
	"fmt"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
)

// Queue accepts command groups, runs the pre-pass, and owns the task graph,
// the per-buffer ownership state, and the command graph built from them.
// One Queue exists per run; every node builds the identical graphs from the
// identical submission stream.
type Queue struct {
	numNodes int
	master   celerity.NodeID

	nextTask    uint64
	nextBuffer  uint64
	nextCommand uint64

	graph   *TaskGraph
	mappers *MapperRegistry

	bufferRange map[celerity.BufferID]grid.Range
	bufferDims  map[celerity.BufferID]int
	bufferInit  map[celerity.BufferID][]byte
	bufferOrder []celerity.BufferID

	states     map[celerity.BufferID]*BufferState
	lastWriter map[celerity.BufferID]celerity.TaskID

	commands         []*Command
	byNode           map[celerity.NodeID][]*Command
	byID             map[celerity.CommandID]*Command
	completeVertices map[celerity.TaskID][]celerity.CommandID
	lastWriterCmd    map[celerity.BufferID]map[celerity.NodeID]celerity.CommandID
}

// NewQueue creates a queue for a run with numNodes worker nodes. Node 0 is
// the master node.
func NewQueue(numNodes int) *Queue {
	if numNodes < 1 {
		panic("runtime: a run needs at least one worker node")
	}
	return &Queue{
		numNodes:         numNodes,
		graph:            NewTaskGraph(),
		mappers:          NewMapperRegistry(),
		bufferRange:      make(map[celerity.BufferID]grid.Range),
		bufferDims:       make(map[celerity.BufferID]int),
		bufferInit:       make(map[celerity.BufferID][]byte),
		states:           make(map[celerity.BufferID]*BufferState),
		lastWriter:       make(map[celerity.BufferID]celerity.TaskID),
		byNode:           make(map[celerity.NodeID][]*Command),
		byID:             make(map[celerity.CommandID]*Command),
		completeVertices: make(map[celerity.TaskID][]celerity.CommandID),
		lastWriterCmd:    make(map[celerity.BufferID]map[celerity.NodeID]celerity.CommandID),
	}
}

// NumNodes is the number of worker nodes in the run.
func (q *Queue) NumNodes() int { return q.numNodes }

// CreateBuffer registers a buffer of the given dimensionality and extent.
// hostInit optionally carries row-major initial contents (one float64 per
// point).
func (q *Queue) CreateBuffer(dims int, rng grid.Range, hostInit []byte) (*Buffer, error) {
	if dims < 1 || dims > 3 {
		return nil, errors.Errorf("unsupported dimensionality %d", dims)
	}
	bid := celerity.BufferID(q.nextBuffer)
	q.nextBuffer++
	q.bufferRange[bid] = rng
	q.bufferDims[bid] = dims
	q.bufferInit[bid] = hostInit
	q.bufferOrder = append(q.bufferOrder, bid)
	q.states[bid] = NewBufferState(dims, rng, q.numNodes)
	return &Buffer{queue: q, id: bid, dims: dims, rng: rng}, nil
}

// RegisterBuffers registers every created buffer with a node's local store.
func (q *Queue) RegisterBuffers(store storage.Store) error {
	for _, bid := range q.bufferOrder {
		if err := store.RegisterBuffer(bid, q.bufferRange[bid], 8, q.bufferInit[bid]); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterBuffers removes every created buffer from a node's local store.
func (q *Queue) UnregisterBuffers(store storage.Store) {
	for _, bid := range q.bufferOrder {
		store.UnregisterBuffer(bid)
	}
}

// Submit records one compute command group as a task: it runs the pre-pass,
// adds a task-graph vertex, and derives dependency edges from buffer
// last-writer bookkeeping. The kernel body does not run. Usage errors abort
// the submission and leave the graph untouched.
func (q *Queue) Submit(cg CommandGroup) (celerity.TaskID, error) {
	return q.submit(cg, TaskCompute)
}

// SubmitMasterAccess records a master-access command group: its requirements
// are declared with fixed regions and the task runs as a single chunk on the
// master node.
func (q *Queue) SubmitMasterAccess(cg CommandGroup) (celerity.TaskID, error) {
	return q.submit(cg, TaskMasterAccess)
}

func (q *Queue) submit(cg CommandGroup, kind TaskKind) (celerity.TaskID, error) {
	tid := celerity.TaskID(q.nextTask)
	q.nextTask++

	h := &Handler{queue: q, mode: modePrepass, kind: kind, tid: tid}
	cg(h)
	if h.err != nil {
		return 0, errors.Wrapf(h.err, "submission of task %d failed", tid)
	}
	if kind == TaskCompute && !h.sized {
		return 0, errors.Errorf("submission of task %d failed: command group has no parallel_for", tid)
	}
	for _, req := range h.reqs {
		if _, ok := q.bufferRange[req.BID]; !ok {
			return 0, errors.Errorf("submission of task %d failed: unknown buffer %d", tid, req.BID)
		}
	}

	t := &Task{
		ID:           tid,
		Kind:         kind,
		Dims:         h.dims,
		GlobalSize:   h.globalSize,
		Requirements: h.reqs,
		cg:           cg,
	}
	if kind == TaskMasterAccess {
		t.Dims = 1
		t.GlobalSize = grid.Range1(1)
		t.Label = fmt.Sprintf("task%d (master access)", tid)
	} else {
		name := h.debugName
		if name == "" {
			name = fmt.Sprintf("task%d", tid)
		}
		t.Label = fmt.Sprintf("task%d (%s)", tid, name)
	}
	q.graph.Add(t)
	for _, req := range t.Requirements {
		q.mappers.Add(tid, req.BID, req.Mode, req.Mapper)
	}

	// read-after-write edges from the current last writer of each buffer
	for _, req := range t.Requirements {
		if !req.Mode.IsRead() {
			continue
		}
		if lw, ok := q.lastWriter[req.BID]; ok {
			q.graph.AddDependency(lw, tid)
		}
	}
	for _, req := range t.Requirements {
		if req.Mode.IsWrite() {
			q.lastWriter[req.BID] = tid
		}
	}

	for _, pred := range q.graph.Predecessors(tid) {
		if !q.graph.Task(pred).Processed {
			t.NumUnsatisfied++
		}
	}
	return tid, nil
}

// Graph exposes the task DAG.
func (q *Queue) Graph() *TaskGraph { return q.graph }

// Mappers exposes the range-mapper registry.
func (q *Queue) Mappers() *MapperRegistry { return q.mappers }

// BufferState returns the ownership state tracked for a buffer.
func (q *Queue) BufferState(bid celerity.BufferID) *BufferState { return q.states[bid] }

// Commands returns every emitted command in emission order.
func (q *Queue) Commands() []*Command { return q.commands }

// NodeCommands returns the command stream of one node, in emission order.
func (q *Queue) NodeCommands(nid celerity.NodeID) []*Command { return q.byNode[nid] }

// Command looks up a command by id.
func (q *Queue) Command(cid celerity.CommandID) *Command { return q.byID[cid] }

// CompleteVertices returns the ids of all commands emitted for a task.
func (q *Queue) CompleteVertices(tid celerity.TaskID) []celerity.CommandID {
	return q.completeVertices[tid]
}

// RunLive executes a task's command group for one chunk against a node's
// local store.
func (q *Queue) RunLive(tid celerity.TaskID, chunk grid.Subrange, store storage.Store) error {
	t := q.graph.Task(tid)
	if t == nil {
		return errors.Errorf("no task %d", tid)
	}
	h := &Handler{queue: q, mode: modeLive, kind: t.Kind, tid: tid, chunk: chunk, store: store}
	t.cg(h)
	return h.err
}
