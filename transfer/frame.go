// Package transfer moves buffer subregions between nodes. Outgoing push
// commands serialize a data frame and hand it to the fabric; inbound frames
// rendezvous with await-push commands through a blackboard keyed by the
// originating push command id, and their payloads are committed to the local
// buffer store or reduction manager.
package transfer

import (
	"encoding/binary"

	"github.com/pkg/errors"

	celerity "github.com/unisa-hpc/celerity-on-synergy"
	"github.com/unisa-hpc/celerity-on-synergy/grid"
)

// Frame is the unit travelling on the wire: the box being transferred, its
// buffer (or reduction) identity, the originating push command, and the
// row-major payload.
type Frame struct {
	SR      grid.Subrange
	BID     celerity.BufferID
	RID     celerity.ReductionID // 0 = absent
	PushCID celerity.CommandID
	Payload []byte
}

// frameHeaderSize is the packed little-endian header: offset[3], range[3],
// global_size[3], bid, rid, push_cid.
const frameHeaderSize = 12 * 8

// EncodeFrame packs the frame little-endian.
func EncodeFrame(f *Frame) []byte {
	out := make([]byte, frameHeaderSize+len(f.Payload))
	at := 0
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(out[at:], v)
		at += 8
	}
	for d := 0; d < 3; d++ {
		put(f.SR.Offset[d])
	}
	for d := 0; d < 3; d++ {
		put(f.SR.Range[d])
	}
	for d := 0; d < 3; d++ {
		put(f.SR.GlobalSize[d])
	}
	put(uint64(f.BID))
	put(uint64(f.RID))
	put(uint64(f.PushCID))
	copy(out[at:], f.Payload)
	return out
}

// DecodeFrame unpacks a frame received from the fabric.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < frameHeaderSize {
		return nil, errors.Errorf("frame of %d bytes is shorter than the %d byte header", len(data), frameHeaderSize)
	}
	at := 0
	take := func() uint64 {
		v := binary.LittleEndian.Uint64(data[at:])
		at += 8
		return v
	}
	var f Frame
	for d := 0; d < 3; d++ {
		f.SR.Offset[d] = take()
	}
	for d := 0; d < 3; d++ {
		f.SR.Range[d] = take()
	}
	for d := 0; d < 3; d++ {
		f.SR.GlobalSize[d] = take()
	}
	f.BID = celerity.BufferID(take())
	f.RID = celerity.ReductionID(take())
	f.PushCID = celerity.CommandID(take())
	f.Payload = append([]byte(nil), data[at:]...)
	return &f, nil
}
