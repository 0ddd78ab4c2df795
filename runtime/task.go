package runtime

import (
	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// TaskKind distinguishes data-parallel compute tasks from master-node access
// tasks.
type TaskKind int

const (
	TaskCompute TaskKind = iota
	TaskMasterAccess
)

// Requirement is one recorded buffer access of a task.
type Requirement struct {
	BID    celerity.BufferID
	Mode   AccessMode
	Mapper RangeMapper
}

// Task is one submitted command group: its iteration space, debug label and
// recorded buffer requirements. A task is pre-passed once on submission and
// processed into commands once by the command-graph builder.
type Task struct {
	ID         celerity.TaskID
	Kind       TaskKind
	Dims       int
	GlobalSize grid.Range
	Label      string

	// Requirements in recording order. The same buffer may appear more than
	// once with different modes.
	Requirements []Requirement

	// Processed is set once the command-graph builder has lowered the task.
	Processed bool
	// NumUnsatisfied counts incoming edges whose source is not yet processed.
	NumUnsatisfied int

	cg CommandGroup
}

// TaskGraph is the dependency DAG over submitted tasks. An edge u -> v means
// v must observe u's effects.
type TaskGraph struct {
	tasks map[celerity.TaskID]*Task
	order []celerity.TaskID
	succs map[celerity.TaskID][]celerity.TaskID
	preds map[celerity.TaskID][]celerity.TaskID
}

func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		tasks: make(map[celerity.TaskID]*Task),
		succs: make(map[celerity.TaskID][]celerity.TaskID),
		preds: make(map[celerity.TaskID][]celerity.TaskID),
	}
}

func (g *TaskGraph) Add(t *Task) {
	g.tasks[t.ID] = t
	g.order = append(g.order, t.ID)
}

// AddDependency records the edge u -> v. Duplicate and self edges are
// dropped.
func (g *TaskGraph) AddDependency(u, v celerity.TaskID) {
	if u == v {
		return
	}
	for _, s := range g.succs[u] {
		if s == v {
			return
		}
	}
	g.succs[u] = append(g.succs[u], v)
	g.preds[v] = append(g.preds[v], u)
}

func (g *TaskGraph) Task(tid celerity.TaskID) *Task { return g.tasks[tid] }

// Order is the task submission order.
func (g *TaskGraph) Order() []celerity.TaskID { return g.order }

func (g *TaskGraph) Successors(tid celerity.TaskID) []celerity.TaskID { return g.succs[tid] }

func (g *TaskGraph) Predecessors(tid celerity.TaskID) []celerity.TaskID { return g.preds[tid] }
