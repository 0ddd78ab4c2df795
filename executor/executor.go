// Package executor drives one node's share of a run: it walks the node's
// command stream in emission order, hands COMPUTE commands to the
// device-compute collaborator, and feeds PUSH and AWAIT_PUSH commands to the
// transfer manager, polling it between steps so transfers make progress.
package executor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/runtime"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
	"github.com/unisa-hpc/celerity-on-synergy/transfer"
)

// Device is the device-compute collaborator: it executes one chunk of a
// task and returns on completion.
type Device interface {
	Execute(ctx context.Context, tid celerity.TaskID, chunk grid.Subrange) error
}

// HostDevice executes kernels on the host CPU by re-invoking the task's
// command group with a live handler bound to the node's buffer store.
type HostDevice struct {
	queue *runtime.Queue
	store storage.Store
}

func NewHostDevice(queue *runtime.Queue, store storage.Store) *HostDevice {
	return &HostDevice{queue: queue, store: store}
}

func (d *HostDevice) Execute(ctx context.Context, tid celerity.TaskID, chunk grid.Subrange) error {
	return d.queue.RunLive(tid, chunk, d.store)
}

// pollInterval paces the cooperative wait loops.
const pollInterval = time.Millisecond

// Executor runs one node's command stream to completion.
type Executor struct {
	node   celerity.NodeID
	queue  *runtime.Queue
	tm     *transfer.Manager
	device Device
}

func New(node celerity.NodeID, queue *runtime.Queue, tm *transfer.Manager, device Device) *Executor {
	return &Executor{node: node, queue: queue, tm: tm, device: device}
}

// Run executes every command emitted for the node, in emission order, then
// drains outstanding transfers. Worker nodes run concurrently; Run returns
// once the local stream has completed.
func (e *Executor) Run(ctx context.Context) error {
	for _, cmd := range e.queue.NodeCommands(e.node) {
		if err := e.runCommand(ctx, cmd); err != nil {
			return err
		}
	}
	// keep servicing the fabric until all local transfers settle
	for !e.tm.Idle() {
		if err := e.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runCommand(ctx context.Context, cmd *runtime.Command) error {
	switch cmd.Kind {
	case runtime.CmdNop:
		return nil
	case runtime.CmdPush:
		_, err := e.tm.Push(cmd)
		return err
	case runtime.CmdAwaitPush:
		handle, err := e.tm.AwaitPush(cmd)
		if err != nil {
			return err
		}
		for !handle.Complete() {
			if err := e.step(ctx); err != nil {
				return errors.Wrapf(err, "awaiting push %d", cmd.AwaitPush.SourceCID)
			}
		}
		return nil
	case runtime.CmdCompute:
		// service the fabric so peers blocked on our data keep moving
		if err := e.tm.Poll(); err != nil {
			return err
		}
		if err := e.device.Execute(ctx, cmd.TID, cmd.Chunk); err != nil {
			return errors.Wrapf(err, "executing task %d chunk on node %d", cmd.TID, e.node)
		}
		return nil
	}
	return errors.Errorf("unknown command kind %v", cmd.Kind)
}

func (e *Executor) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.tm.Poll(); err != nil {
		return err
	}
	time.Sleep(pollInterval)
	return nil
}
