package runtime

import (
	"fmt"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// CommandKind is the per-node action a command performs.
type CommandKind int

const (
	CmdNop CommandKind = iota
	CmdCompute
	CmdPush
	CmdAwaitPush
)

func (k CommandKind) String() string {
	switch k {
	case CmdNop:
		return "NOP"
	case CmdCompute:
		return "COMPUTE"
	case CmdPush:
		return "PUSH"
	case CmdAwaitPush:
		return "AWAIT_PUSH"
	}
	return "?"
}

// PushData directs a node to send a buffer subrange to a peer.
type PushData struct {
	Target celerity.NodeID
	BID    celerity.BufferID
	RID    celerity.ReductionID // 0 = absent
	SR     grid.Subrange
}

// AwaitPushData directs a node to wait for the transfer produced by the push
// command with id SourceCID.
type AwaitPushData struct {
	SourceCID celerity.CommandID
	BID       celerity.BufferID
	RID       celerity.ReductionID // 0 = absent
	SR        grid.Subrange
}

// Command is one per-node action emitted from a task.
type Command struct {
	CID  celerity.CommandID
	NID  celerity.NodeID
	Kind CommandKind
	TID  celerity.TaskID

	// Chunk is set for COMPUTE commands.
	Chunk grid.Subrange
	// Push is set for PUSH commands.
	Push *PushData
	// AwaitPush is set for AWAIT_PUSH commands.
	AwaitPush *AwaitPushData

	// Deps are commands that must complete before this one runs. Inter-node
	// producer/consumer ordering is carried by SourceCID matching instead.
	Deps []celerity.CommandID
}

func (c *Command) String() string {
	switch c.Kind {
	case CmdCompute:
		return fmt.Sprintf("cmd%d: COMPUTE task %d on node %d offset=%v range=%v",
			c.CID, c.TID, c.NID, c.Chunk.Offset, c.Chunk.Range)
	case CmdPush:
		return fmt.Sprintf("cmd%d: PUSH buffer %d offset=%v range=%v from node %d to node %d",
			c.CID, c.Push.BID, c.Push.SR.Offset, c.Push.SR.Range, c.NID, c.Push.Target)
	case CmdAwaitPush:
		return fmt.Sprintf("cmd%d: AWAIT_PUSH buffer %d offset=%v range=%v on node %d (source cmd%d)",
			c.CID, c.AwaitPush.BID, c.AwaitPush.SR.Offset, c.AwaitPush.SR.Range, c.NID, c.AwaitPush.SourceCID)
	}
	return fmt.Sprintf("cmd%d: %s on node %d", c.CID, c.Kind, c.NID)
}
