package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

func TestChunkingWithoutTransfers(t *testing.T) {
	// S3: global size {8}, N=2, one_to_one write: one COMPUTE per node,
	// no pushes, and post-task ownership split down the middle
	q := NewQueue(2)
	buf, _ := q.CreateBuffer(1, grid.Range1(8), nil)
	q.Submit(writeAll(buf))
	assert.NoError(t, q.BuildCommandGraph())

	cmds := q.Commands()
	assert.Len(t, cmds, 2)
	assert.Equal(t, CmdCompute, cmds[0].Kind)
	assert.Equal(t, celerity.NodeID(0), cmds[0].NID)
	assert.Equal(t, uint64(0), cmds[0].Chunk.Offset[0])
	assert.Equal(t, uint64(4), cmds[0].Chunk.Range[0])
	assert.Equal(t, CmdCompute, cmds[1].Kind)
	assert.Equal(t, celerity.NodeID(1), cmds[1].NID)
	assert.Equal(t, uint64(4), cmds[1].Chunk.Offset[0])
	assert.Equal(t, uint64(4), cmds[1].Chunk.Range[0])

	pairs := q.BufferState(buf.ID()).Pairs()
	assert.Len(t, pairs, 2)
	for _, pair := range pairs {
		assert.Len(t, pair.Nodes, 1)
		switch pair.Nodes[0] {
		case 0:
			assert.True(t, pair.Region.Equal(region1(0, 4)))
		case 1:
			assert.True(t, pair.Region.Equal(region1(4, 8)))
		default:
			t.Fatalf("unexpected owner %v", pair.Nodes)
		}
	}
}

func TestReadAcrossNodes(t *testing.T) {
	// S4: after the split write, a read-all task pulls the opposite half
	// onto each node
	q := NewQueue(2)
	buf, _ := q.CreateBuffer(1, grid.Range1(8), nil)
	q.Submit(writeAll(buf))
	q.Submit(readAll(buf))
	assert.NoError(t, q.BuildCommandGraph())

	type xfer struct {
		from, to celerity.NodeID
		lo, hi   uint64
	}
	var pushes []xfer
	awaitsByNode := map[celerity.NodeID]int{}
	for _, c := range q.Commands() {
		switch c.Kind {
		case CmdPush:
			pushes = append(pushes, xfer{
				from: c.NID,
				to:   c.Push.Target,
				lo:   c.Push.SR.Offset[0],
				hi:   c.Push.SR.Offset[0] + c.Push.SR.Range[0],
			})
		case CmdAwaitPush:
			awaitsByNode[c.NID]++
			// each await is paired to its push by source_cid
			src := q.Command(c.AwaitPush.SourceCID)
			assert.Equal(t, CmdPush, src.Kind)
			assert.Equal(t, c.NID, src.Push.Target)
			assert.Equal(t, c.AwaitPush.SR, src.Push.SR)
		}
	}
	assert.ElementsMatch(t, []xfer{
		{from: 1, to: 0, lo: 4, hi: 8},
		{from: 0, to: 1, lo: 0, hi: 4},
	}, pushes)
	assert.Equal(t, 1, awaitsByNode[0])
	assert.Equal(t, 1, awaitsByNode[1])

	// each node's stream sees its AWAIT_PUSH before the consumer COMPUTE
	for _, nid := range []celerity.NodeID{0, 1} {
		stream := q.NodeCommands(nid)
		awaitIdx, computeIdx := -1, -1
		for i, c := range stream {
			if c.Kind == CmdAwaitPush {
				awaitIdx = i
			}
			if c.Kind == CmdCompute && c.TID == 1 {
				computeIdx = i
			}
		}
		assert.Less(t, awaitIdx, computeIdx)
		// and the COMPUTE depends on the await
		compute := stream[computeIdx]
		await := stream[awaitIdx]
		assert.Contains(t, compute.Deps, await.CID)
	}
}

func TestPushDependsOnProducingCompute(t *testing.T) {
	q := NewQueue(2)
	buf, _ := q.CreateBuffer(1, grid.Range1(8), nil)
	q.Submit(writeAll(buf))
	q.Submit(readAll(buf))
	assert.NoError(t, q.BuildCommandGraph())

	for _, c := range q.Commands() {
		if c.Kind != CmdPush {
			continue
		}
		assert.NotEmpty(t, c.Deps)
		dep := q.Command(c.Deps[0])
		assert.Equal(t, CmdCompute, dep.Kind)
		assert.Equal(t, c.NID, dep.NID)
	}
}

func TestCommandGraphDeterminism(t *testing.T) {
	build := func() []string {
		q := NewQueue(3)
		a, _ := q.CreateBuffer(1, grid.Range1(12), nil)
		b, _ := q.CreateBuffer(2, grid.Range2(6, 6), nil)
		q.Submit(writeAll(a))
		q.Submit(func(cgh *Handler) {
			acc := b.Access(cgh, DiscardWrite, OneToOne())
			cgh.ParallelFor(2, b.Range(), "fill2d", func(id grid.ID) {
				acc.Set(id, 1)
			})
		})
		q.Submit(func(cgh *Handler) {
			in := a.Access(cgh, Read, All())
			in2 := b.Access(cgh, Read, Slice(0))
			out := a.Access(cgh, Write, OneToOne())
			cgh.ParallelFor(1, grid.Range1(12), "mix", func(id grid.ID) {
				out.Set(id, in.At(id)+in2.At(grid.ID{0, 0, 0}))
			})
		})
		q.Submit(readAll(a))
		if err := q.BuildCommandGraph(); err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, c := range q.Commands() {
			out = append(out, c.String())
		}
		return out
	}
	assert.Equal(t, build(), build())
}

func TestMasterAccessSingleChunk(t *testing.T) {
	q := NewQueue(4)
	buf, _ := q.CreateBuffer(1, grid.Range1(8), nil)
	q.Submit(writeAll(buf))
	_, err := q.SubmitMasterAccess(func(cgh *Handler) {
		buf.AccessFixed(cgh, Read, grid.ID1(0), grid.Range1(8))
	})
	assert.NoError(t, err)
	assert.NoError(t, q.BuildCommandGraph())

	var computes []*Command
	var awaits []*Command
	for _, c := range q.Commands() {
		if c.TID != 1 {
			continue
		}
		switch c.Kind {
		case CmdCompute:
			computes = append(computes, c)
		case CmdAwaitPush:
			awaits = append(awaits, c)
		}
	}
	// a single chunk on the master node, pulling the three remote quarters
	assert.Len(t, computes, 1)
	assert.Equal(t, celerity.NodeID(0), computes[0].NID)
	assert.Len(t, awaits, 3)
	for _, c := range awaits {
		assert.Equal(t, celerity.NodeID(0), c.NID)
	}
}

func TestRemainderGoesToLastNode(t *testing.T) {
	q := NewQueue(3)
	buf, _ := q.CreateBuffer(1, grid.Range1(10), nil)
	q.Submit(writeAll(buf))
	assert.NoError(t, q.BuildCommandGraph())

	var extents []uint64
	for _, c := range q.Commands() {
		if c.Kind == CmdCompute {
			extents = append(extents, c.Chunk.Range[0])
		}
	}
	assert.Equal(t, []uint64{3, 3, 4}, extents)
}

func TestMoreNodesThanRows(t *testing.T) {
	// with extent 1 and N=2, node 0 gets nothing and node 1 takes the rest
	q := NewQueue(2)
	buf, _ := q.CreateBuffer(1, grid.Range1(1), nil)
	q.Submit(writeAll(buf))
	assert.NoError(t, q.BuildCommandGraph())

	var computes []*Command
	for _, c := range q.Commands() {
		if c.Kind == CmdCompute {
			computes = append(computes, c)
		}
	}
	assert.Len(t, computes, 1)
	assert.Equal(t, celerity.NodeID(1), computes[0].NID)
}

func TestProcessedFlagPreventsReprocessing(t *testing.T) {
	q := NewQueue(2)
	buf, _ := q.CreateBuffer(1, grid.Range1(8), nil)
	q.Submit(writeAll(buf))
	assert.NoError(t, q.BuildCommandGraph())
	n := len(q.Commands())
	assert.NoError(t, q.BuildCommandGraph())
	assert.Len(t, q.Commands(), n)
}
