// Package fabric provides the message-passing layer connecting worker nodes.
// Its surface mirrors the non-blocking subset of MPI the runtime needs:
// immediate sends, probe-for-any-source on a tag, immediate receives, and a
// test operation for completion. Delivery is reliable and in-order per
// (source, destination) pair; a failed operation is fatal to the run.
//
// Two implementations are provided: an in-process Hub for tests and
// single-process multi-node runs, and a gRPC transport for real clusters.
package fabric

import "sync"

// Tag distinguishes message channels on the fabric.
type Tag uint32

// TagDataTransfer is the tag carrying buffer transfer frames.
const TagDataTransfer Tag = 7

// Fabric is the per-node handle to the message-passing layer. All methods are
// non-blocking.
type Fabric interface {
	// Rank is the id of the local node, 0 <= Rank() < Size().
	Rank() int
	// Size is the number of worker nodes.
	Size() int
	// Isend posts an asynchronous send. The returned request completes once
	// the data has been handed to the transport.
	Isend(dest int, tag Tag, data []byte) (*SendRequest, error)
	// Probe non-destructively checks for an incoming message with the given
	// tag from any source, reporting its origin and size.
	Probe(tag Tag) (source int, size int, ok bool)
	// Irecv claims the earliest pending message from source with the given
	// tag. The returned request completes once the payload is available.
	Irecv(source int, tag Tag) (*RecvRequest, error)
}

// SendRequest tracks an in-flight send.
type SendRequest struct {
	mu   sync.Mutex
	done bool
	err  error
}

// Test reports whether the send has completed and any transport error.
func (r *SendRequest) Test() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done, r.err
}

func (r *SendRequest) finish(err error) {
	r.mu.Lock()
	r.done = true
	r.err = err
	r.mu.Unlock()
}

// RecvRequest tracks an in-flight receive.
type RecvRequest struct {
	Source int
	data   []byte
	done   bool
}

// Test reports completion and, once complete, the received payload.
func (r *RecvRequest) Test() ([]byte, bool) {
	if !r.done {
		return nil, false
	}
	return r.data, true
}

// message is a frame queued at a receiver.
type message struct {
	source int
	tag    Tag
	data   []byte
}

// inbox is the per-node queue of undelivered messages.
type inbox struct {
	mu    sync.Mutex
	queue []message
}

func (in *inbox) push(m message) {
	in.mu.Lock()
	in.queue = append(in.queue, m)
	in.mu.Unlock()
}

func (in *inbox) probe(tag Tag) (int, int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, m := range in.queue {
		if m.tag == tag {
			return m.source, len(m.data), true
		}
	}
	return 0, 0, false
}

func (in *inbox) take(source int, tag Tag) ([]byte, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i, m := range in.queue {
		if m.tag == tag && m.source == source {
			in.queue = append(in.queue[:i], in.queue[i+1:]...)
			return m.data, true
		}
	}
	return nil, false
}
