package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/fabric"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
	"github.com/unisa-hpc/celerity-on-synergy/reduction"
	"github.com/unisa-hpc/celerity-on-synergy/runtime"
	"github.com/unisa-hpc/celerity-on-synergy/storage"
	"github.com/unisa-hpc/celerity-on-synergy/utils"
)

func sr1(lo, n, global uint64) grid.Subrange {
	return grid.Subrange{Offset: grid.ID1(lo), Range: grid.Range1(n), GlobalSize: grid.Range1(global)}
}

func pushCmd(cid celerity.CommandID, node, target celerity.NodeID, bid celerity.BufferID, sr grid.Subrange) *runtime.Command {
	return &runtime.Command{
		CID:  cid,
		NID:  node,
		Kind: runtime.CmdPush,
		Push: &runtime.PushData{Target: target, BID: bid, SR: sr},
	}
}

func awaitCmd(cid, source celerity.CommandID, node celerity.NodeID, bid celerity.BufferID, sr grid.Subrange) *runtime.Command {
	return &runtime.Command{
		CID:       cid,
		NID:       node,
		Kind:      runtime.CmdAwaitPush,
		AwaitPush: &runtime.AwaitPushData{SourceCID: source, BID: bid, SR: sr},
	}
}

// newNodePair wires two transfer managers over an in-process fabric, with
// the same buffer registered on both nodes.
func newNodePair(t *testing.T) (*Manager, *Manager, storage.Store, storage.Store) {
	hub := fabric.NewHub(2)
	store0 := storage.NewMemoryStore()
	store1 := storage.NewMemoryStore()
	assert.NoError(t, store0.RegisterBuffer(0, grid.Range1(8), utils.ElemSize, utils.FloatsToBytes([]float64{1, 2, 3, 4, 5, 6, 7, 8})))
	assert.NoError(t, store1.RegisterBuffer(0, grid.Range1(8), utils.ElemSize, nil))
	m0 := NewManager(hub.Node(0), store0, reduction.NewManager())
	m1 := NewManager(hub.Node(1), store1, reduction.NewManager())
	return m0, m1, store0, store1
}

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		SR:      sr1(2, 3, 8),
		BID:     5,
		RID:     0,
		PushCID: 42,
		Payload: []byte{1, 2, 3},
	}
	got, err := DecodeFrame(EncodeFrame(f))
	assert.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := DecodeFrame(make([]byte, 10))
	assert.Error(t, err)
}

func TestPushThenAwait(t *testing.T) {
	// S5: the frame arrives (and is drained by poll) before await_push is
	// called; the parked handle is returned complete and the entry erased
	m0, m1, _, store1 := newNodePair(t)

	h, err := m0.Push(pushCmd(42, 0, 1, 0, sr1(4, 4, 8)))
	assert.NoError(t, err)
	assert.NoError(t, m0.Poll())
	assert.True(t, h.Complete())

	// receiver drains the frame into the blackboard
	assert.NoError(t, m1.Poll())

	ah, err := m1.AwaitPush(awaitCmd(43, 42, 1, 0, sr1(4, 4, 8)))
	assert.NoError(t, err)
	assert.True(t, ah.Complete())

	data, err := store1.GetBufferData(0, grid.ID1(4), grid.Range1(4))
	assert.NoError(t, err)
	values, err := utils.BytesToFloats(data)
	assert.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7, 8}, values)

	// the blackboard entry was consumed: a second poll finds nothing new
	assert.NoError(t, m1.Poll())
}

func TestAwaitThenPush(t *testing.T) {
	// S6: await_push parks a pending handle first; the frame completes it
	m0, m1, _, store1 := newNodePair(t)

	ah, err := m1.AwaitPush(awaitCmd(43, 42, 1, 0, sr1(0, 4, 8)))
	assert.NoError(t, err)
	assert.False(t, ah.Complete())

	_, err = m0.Push(pushCmd(42, 0, 1, 0, sr1(0, 4, 8)))
	assert.NoError(t, err)

	assert.NoError(t, m1.Poll())
	assert.True(t, ah.Complete())

	data, err := store1.GetBufferData(0, grid.ID1(0), grid.Range1(4))
	assert.NoError(t, err)
	values, _ := utils.BytesToFloats(data)
	assert.Equal(t, []float64{1, 2, 3, 4}, values)
}

func TestPayloadMatchesRequestedBox(t *testing.T) {
	// the committed bytes equal the sender's bytes for the requested box,
	// for both arrival orders
	for _, pushFirst := range []bool{true, false} {
		m0, m1, store0, store1 := newNodePair(t)
		sr := sr1(2, 5, 8)

		if pushFirst {
			_, err := m0.Push(pushCmd(7, 0, 1, 0, sr))
			assert.NoError(t, err)
			assert.NoError(t, m1.Poll())
			_, err = m1.AwaitPush(awaitCmd(8, 7, 1, 0, sr))
			assert.NoError(t, err)
		} else {
			ah, err := m1.AwaitPush(awaitCmd(8, 7, 1, 0, sr))
			assert.NoError(t, err)
			_, err = m0.Push(pushCmd(7, 0, 1, 0, sr))
			assert.NoError(t, err)
			assert.NoError(t, m1.Poll())
			assert.True(t, ah.Complete())
		}

		want, err := store0.GetBufferData(0, sr.Offset, sr.Range)
		assert.NoError(t, err)
		got, err := store1.GetBufferData(0, sr.Offset, sr.Range)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAwaitPushMismatchedFrame(t *testing.T) {
	m0, m1, _, _ := newNodePair(t)
	_, err := m0.Push(pushCmd(7, 0, 1, 0, sr1(0, 4, 8)))
	assert.NoError(t, err)
	assert.NoError(t, m1.Poll())

	// awaited region disagrees with the parked frame
	_, err = m1.AwaitPush(awaitCmd(8, 7, 1, 0, sr1(0, 2, 8)))
	assert.Error(t, err)
}

func TestReductionFrameDelivery(t *testing.T) {
	hub := fabric.NewHub(2)
	store0 := storage.NewMemoryStore()
	store1 := storage.NewMemoryStore()
	assert.NoError(t, store0.RegisterBuffer(0, grid.Range1(2), utils.ElemSize, utils.FloatsToBytes([]float64{3, 4})))
	assert.NoError(t, store1.RegisterBuffer(0, grid.Range1(2), utils.ElemSize, utils.FloatsToBytes([]float64{10, 20})))

	red1 := reduction.NewManager()
	assert.NoError(t, red1.Register(9, 0, sr1(0, 2, 2), reduction.Sum))
	m0 := NewManager(hub.Node(0), store0, reduction.NewManager())
	m1 := NewManager(hub.Node(1), store1, red1)

	cmd := pushCmd(5, 0, 1, 0, sr1(0, 2, 2))
	cmd.Push.RID = 9
	_, err := m0.Push(cmd)
	assert.NoError(t, err)
	assert.NoError(t, m1.Poll())

	// the parked frame is committed once its await-push consumes it
	await := awaitCmd(6, 5, 1, 0, sr1(0, 2, 2))
	await.AwaitPush.RID = 9
	ah, err := m1.AwaitPush(await)
	assert.NoError(t, err)
	assert.True(t, ah.Complete())

	// the frame went to the reduction manager, not the store
	assert.Equal(t, 1, red1.Contributions(9))
	data, _ := store1.GetBufferData(0, grid.ID1(0), grid.Range1(2))
	values, _ := utils.BytesToFloats(data)
	assert.Equal(t, []float64{10, 20}, values)
}

func TestPushWrongCommandKind(t *testing.T) {
	m0, _, _, _ := newNodePair(t)
	_, err := m0.Push(&runtime.Command{CID: 1, Kind: runtime.CmdCompute})
	assert.Error(t, err)
	_, err = m0.AwaitPush(&runtime.Command{CID: 1, Kind: runtime.CmdCompute})
	assert.Error(t, err)
}
