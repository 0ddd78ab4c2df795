package runtime

import (
	"sort"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// chunkAssignment is one node's share of a task's iteration space.
type chunkAssignment struct {
	node celerity.NodeID
	sr   grid.Subrange
}

// splitChunks partitions the global iteration space row-wise along axis 0
// into approximately equal extents, one chunk per worker node, with any
// remainder assigned to the last node. Master-access tasks are a single
// chunk on the master node.
func (q *Queue) splitChunks(t *Task) []chunkAssignment {
	full := grid.Subrange{Range: t.GlobalSize, GlobalSize: t.GlobalSize}
	if t.Kind == TaskMasterAccess {
		return []chunkAssignment{{node: q.master, sr: full}}
	}
	extent := t.GlobalSize[0]
	base := extent / uint64(q.numNodes)
	var out []chunkAssignment
	for n := 0; n < q.numNodes; n++ {
		offset := base * uint64(n)
		size := base
		if n == q.numNodes-1 {
			size = extent - offset
		}
		if size == 0 {
			continue
		}
		sr := full
		sr.Offset[0] = offset
		sr.Range[0] = size
		out = append(out, chunkAssignment{node: celerity.NodeID(n), sr: sr})
	}
	return out
}

// transferSpec is one box that must move to reach a chunk's node before the
// chunk can run.
type transferSpec struct {
	bid    celerity.BufferID
	box    grid.Box
	source celerity.NodeID
}

// BuildCommandGraph lowers every unprocessed task, in an order consistent
// with the task DAG, into per-node COMPUTE, PUSH and AWAIT_PUSH commands,
// and advances the buffer ownership state past each task. The emitted
// command stream is a pure function of the submission order.
func (q *Queue) BuildCommandGraph() error {
	for {
		t := q.nextReady()
		if t == nil {
			break
		}
		if err := q.processTask(t); err != nil {
			return err
		}
	}
	for _, tid := range q.graph.Order() {
		if !q.graph.Task(tid).Processed {
			return errors.Errorf("task %d has unsatisfiable dependencies", tid)
		}
	}
	return nil
}

// nextReady picks the earliest-submitted unprocessed task with no
// unsatisfied dependencies.
func (q *Queue) nextReady() *Task {
	for _, tid := range q.graph.Order() {
		t := q.graph.Task(tid)
		if !t.Processed && t.NumUnsatisfied == 0 {
			return t
		}
	}
	return nil
}

func (q *Queue) processTask(t *Task) error {
	chunks := q.splitChunks(t)
	var emitted []celerity.CommandID

	for _, chunk := range chunks {
		specs, err := q.resolveReads(t, chunk)
		if err != nil {
			return err
		}
		sort.Slice(specs, func(i, j int) bool {
			if specs[i].bid != specs[j].bid {
				return specs[i].bid < specs[j].bid
			}
			return boxLess(specs[i].box, specs[j].box)
		})
		specs = dedupeSpecs(specs)

		var awaitCIDs []celerity.CommandID
		for _, spec := range specs {
			bufRange := q.bufferRange[spec.bid]
			sr := grid.SubrangeFromBox(spec.box, bufRange)

			push := &Command{
				CID:  q.mintCommand(),
				NID:  spec.source,
				Kind: CmdPush,
				TID:  t.ID,
				Push: &PushData{Target: chunk.node, BID: spec.bid, SR: sr},
			}
			if prev, ok := q.lastWriterCmd[spec.bid][spec.source]; ok {
				push.Deps = append(push.Deps, prev)
			}
			q.emit(push)

			await := &Command{
				CID:       q.mintCommand(),
				NID:       chunk.node,
				Kind:      CmdAwaitPush,
				TID:       t.ID,
				AwaitPush: &AwaitPushData{SourceCID: push.CID, BID: spec.bid, SR: sr},
			}
			q.emit(await)

			awaitCIDs = append(awaitCIDs, await.CID)
			emitted = append(emitted, push.CID, await.CID)
		}

		compute := &Command{
			CID:   q.mintCommand(),
			NID:   chunk.node,
			Kind:  CmdCompute,
			TID:   t.ID,
			Chunk: chunk.sr,
			Deps:  awaitCIDs,
		}
		// intra-node ordering: attach to the completion vertices of every
		// predecessor task on this node
		for _, pred := range q.graph.Predecessors(t.ID) {
			for _, cid := range q.completeVertices[pred] {
				if q.byID[cid].NID == chunk.node {
					compute.Deps = append(compute.Deps, cid)
				}
			}
		}
		q.emit(compute)
		emitted = append(emitted, compute.CID)

		for _, req := range t.Requirements {
			if req.Mode.IsWrite() {
				q.setLastWriterCmd(req.BID, chunk.node, compute.CID)
			}
		}
	}

	// post-task ownership: each chunk's node becomes the sole owner of the
	// regions it wrote
	for _, req := range t.Requirements {
		if !req.Mode.IsWrite() {
			continue
		}
		bufRange := q.bufferRange[req.BID]
		for _, chunk := range chunks {
			written := req.Mapper.apply(chunk.sr, bufRange)
			q.states[req.BID].UpdateRegion(grid.BoxRegion(written.Box()), NewNodeSet(chunk.node))
		}
	}

	q.completeVertices[t.ID] = emitted
	t.Processed = true
	for _, succ := range q.graph.Successors(t.ID) {
		q.graph.Task(succ).NumUnsatisfied--
	}
	return nil
}

// resolveReads determines which boxes must be pushed to chunk's node before
// it can run, resolving each read requirement against the buffer ownership
// state. Source nodes are chosen deterministically: the lowest owner id
// wins.
func (q *Queue) resolveReads(t *Task, chunk chunkAssignment) ([]transferSpec, error) {
	var specs []transferSpec
	for _, req := range t.Requirements {
		if !req.Mode.IsRead() {
			continue
		}
		bufRange := q.bufferRange[req.BID]
		request := req.Mapper.apply(chunk.sr, bufRange)
		region := grid.BoxRegion(request.Box())
		if region.Empty() {
			continue
		}
		sources, err := q.states[req.BID].GetSourceNodes(region)
		if err != nil {
			return nil, errors.Wrapf(err, "task %d: resolving buffer %d", t.ID, req.BID)
		}
		for _, src := range sources {
			if src.Nodes.Contains(chunk.node) {
				continue
			}
			if len(src.Nodes) == 0 {
				return nil, errors.Errorf("task %d: buffer %d box %v has no owner", t.ID, req.BID, src.Box)
			}
			specs = append(specs, transferSpec{bid: req.BID, box: src.Box, source: src.Nodes.Lowest()})
		}
	}
	return specs, nil
}

func (q *Queue) mintCommand() celerity.CommandID {
	cid := celerity.CommandID(q.nextCommand)
	q.nextCommand++
	return cid
}

func (q *Queue) emit(c *Command) {
	q.commands = append(q.commands, c)
	q.byNode[c.NID] = append(q.byNode[c.NID], c)
	q.byID[c.CID] = c
}

func (q *Queue) setLastWriterCmd(bid celerity.BufferID, nid celerity.NodeID, cid celerity.CommandID) {
	byNode, ok := q.lastWriterCmd[bid]
	if !ok {
		byNode = make(map[celerity.NodeID]celerity.CommandID)
		q.lastWriterCmd[bid] = byNode
	}
	byNode[nid] = cid
}

// dedupeSpecs drops repeated (bid, box) entries from a sorted spec list; a
// buffer referenced by several read requirements needs each box only once.
func dedupeSpecs(specs []transferSpec) []transferSpec {
	var out []transferSpec
	for _, s := range specs {
		if len(out) > 0 {
			last := out[len(out)-1]
			if last.bid == s.bid && last.box == s.box {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func boxLess(a, b grid.Box) bool {
	for d := 0; d < 3; d++ {
		if a.Min[d] != b.Min[d] {
			return a.Min[d] < b.Min[d]
		}
	}
	for d := 0; d < 3; d++ {
		if a.Max[d] != b.Max[d] {
			return a.Max[d] < b.Max[d]
		}
	}
	return false
}
