package transfer

import (
	"time"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/fabric"
	"github.com/unisa-hpc/celerity-on-synergy/reduction"
	"github.com/unisa-hpc/celerity-on-synergy/runtime"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
)

// Handle tracks one transfer. It is owned by the single thread driving the
// manager; Complete flips to true once the transfer has finished (and, for
// inbound transfers, its payload has been committed).
type Handle struct {
	complete bool
}

// Complete reports whether the transfer has finished.
func (h *Handle) Complete() bool { return h.complete }

// incomingHandle additionally parks the received frame until it is consumed.
type incomingHandle struct {
	Handle
	frame  *Frame
	source celerity.NodeID
}

type outgoingTransfer struct {
	handle *Handle
	req    *fabric.SendRequest
}

type incomingTransfer struct {
	req *fabric.RecvRequest
}

// Manager is the per-node buffer transfer machinery. All methods must be
// called from the node's single runtime thread.
type Manager struct {
	fab        fabric.Fabric
	store      storage.Store
	reductions *reduction.Manager

	outgoing   []*outgoingTransfer
	incoming   []*incomingTransfer
	blackboard map[celerity.CommandID]*incomingHandle
}

func NewManager(fab fabric.Fabric, store storage.Store, reductions *reduction.Manager) *Manager {
	return &Manager{
		fab:        fab,
		store:      store,
		reductions: reductions,
		blackboard: make(map[celerity.CommandID]*incomingHandle),
	}
}

// Push reads the command's subrange from the local store, serializes a data
// frame and posts a non-blocking send. The returned handle completes once
// the fabric has taken the frame.
func (m *Manager) Push(cmd *runtime.Command) (*Handle, error) {
	if cmd.Kind != runtime.CmdPush {
		return nil, errors.Errorf("command %d is not a push", cmd.CID)
	}
	data := cmd.Push
	payload, err := m.store.GetBufferData(data.BID, data.SR.Offset, data.SR.Range)
	if err != nil {
		return nil, errors.Wrapf(err, "push %d: reading buffer %d", cmd.CID, data.BID)
	}
	frame := &Frame{SR: data.SR, BID: data.BID, RID: data.RID, PushCID: cmd.CID, Payload: payload}
	req, err := m.fab.Isend(int(data.Target), fabric.TagDataTransfer, EncodeFrame(frame))
	if err != nil {
		return nil, errors.Wrapf(err, "push %d: sending to node %d", cmd.CID, data.Target)
	}
	handle := &Handle{}
	m.outgoing = append(m.outgoing, &outgoingTransfer{handle: handle, req: req})
	return handle, nil
}

// AwaitPush resolves an await-push command against the blackboard. If the
// matching frame has already been received its payload is committed and a
// completed handle is returned; otherwise a pending handle is parked under
// the push command id and completed by a later Poll.
func (m *Manager) AwaitPush(cmd *runtime.Command) (*Handle, error) {
	if cmd.Kind != runtime.CmdAwaitPush {
		return nil, errors.Errorf("command %d is not an await-push", cmd.CID)
	}
	data := cmd.AwaitPush
	if h, ok := m.blackboard[data.SourceCID]; ok {
		if !h.complete || h.frame == nil {
			return nil, errors.Errorf("await-push %d: dangling pending handle for push %d", cmd.CID, data.SourceCID)
		}
		if h.frame.BID != data.BID || h.frame.RID != data.RID || h.frame.SR != data.SR {
			return nil, errors.Errorf("await-push %d: frame for push %d does not match the awaited region", cmd.CID, data.SourceCID)
		}
		delete(m.blackboard, data.SourceCID)
		if err := m.commit(h.frame, h.source); err != nil {
			return nil, err
		}
		return &h.Handle, nil
	}
	h := &incomingHandle{}
	m.blackboard[data.SourceCID] = h
	return &h.Handle, nil
}

// Idle reports whether no transfers are in flight.
func (m *Manager) Idle() bool {
	return len(m.outgoing) == 0 && len(m.incoming) == 0
}

// Poll advances all in-flight transfers without blocking: it probes the
// fabric for one new inbound frame, drains completed receives into the
// blackboard, and retires completed sends. The outer event loop must call
// it regularly.
func (m *Manager) Poll() error {
	if err := m.pollIncoming(); err != nil {
		return err
	}
	if err := m.updateIncoming(); err != nil {
		return err
	}
	return m.updateOutgoing()
}

func (m *Manager) pollIncoming() error {
	source, _, ok := m.fab.Probe(fabric.TagDataTransfer)
	if !ok {
		return nil
	}
	req, err := m.fab.Irecv(source, fabric.TagDataTransfer)
	if err != nil {
		return errors.Wrapf(err, "receiving frame from node %d", source)
	}
	m.incoming = append(m.incoming, &incomingTransfer{req: req})
	return nil
}

func (m *Manager) updateIncoming() error {
	var pending []*incomingTransfer
	for _, t := range m.incoming {
		data, done := t.req.Test()
		if !done {
			pending = append(pending, t)
			continue
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return errors.Wrapf(err, "frame from node %d", t.req.Source)
		}
		source := celerity.NodeID(t.req.Source)
		if h, ok := m.blackboard[frame.PushCID]; ok {
			// an await-push is already waiting: commit and complete it
			delete(m.blackboard, frame.PushCID)
			h.frame = frame
			h.source = source
			if err := m.commit(frame, source); err != nil {
				return err
			}
			h.complete = true
		} else {
			// park the frame until the await-push arrives
			h := &incomingHandle{frame: frame, source: source}
			h.complete = true
			m.blackboard[frame.PushCID] = h
		}
	}
	m.incoming = pending
	return nil
}

func (m *Manager) updateOutgoing() error {
	var pending []*outgoingTransfer
	for _, t := range m.outgoing {
		done, err := t.req.Test()
		if err != nil {
			return errors.Wrap(err, "outgoing transfer failed")
		}
		if !done {
			pending = append(pending, t)
			continue
		}
		t.handle.complete = true
	}
	m.outgoing = pending
	return nil
}

// commitRetries bounds the busy-wait for buffer or reduction metadata that
// an inbound frame may precede by a moment.
const commitRetries = 100

// commit writes a received payload into the local buffer store, or delivers
// it to the reduction manager when the frame carries a reduction id. The
// element size is implied by payload size and box volume.
func (m *Manager) commit(frame *Frame, source celerity.NodeID) error {
	volume := frame.SR.Range.Size()
	if volume == 0 || uint64(len(frame.Payload))%volume != 0 {
		return errors.Errorf("frame for push %d: payload of %d bytes does not tile box volume %d",
			frame.PushCID, len(frame.Payload), volume)
	}
	if frame.RID != 0 {
		for i := 0; !m.reductions.Has(frame.RID); i++ {
			if i == commitRetries {
				return errors.Errorf("reduction %d referenced by push %d never registered", frame.RID, frame.PushCID)
			}
			time.Sleep(time.Millisecond)
		}
		return m.reductions.Push(frame.RID, source, frame.Payload)
	}
	for i := 0; !m.store.HasBuffer(frame.BID); i++ {
		if i == commitRetries {
			return errors.Errorf("buffer %d referenced by push %d never registered", frame.BID, frame.PushCID)
		}
		time.Sleep(time.Millisecond)
	}
	return m.store.SetBufferData(frame.BID, frame.SR.Offset, frame.SR.Range, frame.Payload)
}
