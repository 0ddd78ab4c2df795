package fabric

import (
	"context"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// rawCodecName selects the passthrough codec on both ends of a stream. The
// fabric carries hand-encoded envelopes, so gRPC only frames the bytes.
const rawCodecName = "celerity-raw"

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *[]byte:
		return *m, nil
	case []byte:
		return m, nil
	default:
		return nil, status.Errorf(codes.Internal, "raw codec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	out, ok := v.(*[]byte)
	if !ok {
		return status.Errorf(codes.Internal, "raw codec cannot unmarshal into %T", v)
	}
	*out = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return rawCodecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

const transferMethod = "/celerity.Fabric/Transfer"

var transferStreamDesc = &grpc.StreamDesc{
	StreamName:    "Transfer",
	ClientStreams: true,
}

// GRPC is the inter-process fabric implementation. Each node runs a gRPC
// server accepting one client-streaming Transfer call per in-flight send;
// received envelopes queue in the local inbox until claimed by Irecv.
type GRPC struct {
	rank  int
	addrs map[int]string
	inbox inbox

	server *grpc.Server

	mu    sync.Mutex
	conns map[int]*grpc.ClientConn
}

// NewGRPC creates the fabric handle for the given rank. addrs maps every
// rank to its listen address.
func NewGRPC(rank int, addrs map[int]string) *GRPC {
	f := &GRPC{
		rank:  rank,
		addrs: addrs,
		conns: make(map[int]*grpc.ClientConn),
	}
	f.server = grpc.NewServer()
	f.server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "celerity.Fabric",
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Transfer",
			Handler:       f.handleTransfer,
			ClientStreams: true,
		}},
	}, f)
	return f
}

// Serve accepts inbound transfer streams until the listener closes.
func (f *GRPC) Serve(lis net.Listener) error {
	return f.server.Serve(lis)
}

// Close tears down the server and all client connections.
func (f *GRPC) Close() {
	f.server.GracefulStop()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		conn.Close()
	}
}

func (f *GRPC) handleTransfer(srv interface{}, stream grpc.ServerStream) error {
	for {
		var env []byte
		err := stream.RecvMsg(&env)
		if err == io.EOF {
			var ack []byte
			return stream.SendMsg(&ack)
		}
		if err != nil {
			return status.Errorf(codes.Internal, "failed to receive envelope: %v", err)
		}
		source, tag, payload, err := decodeEnvelope(env)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "bad envelope: %v", err)
		}
		f.inbox.push(message{source: source, tag: tag, data: payload})
	}
}

func (f *GRPC) Rank() int { return f.rank }

func (f *GRPC) Size() int { return len(f.addrs) }

func (f *GRPC) conn(dest int) (*grpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[dest]; ok {
		return conn, nil
	}
	addr, ok := f.addrs[dest]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "no address for node %d", dest)
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to connect to node %d at %s: %v", dest, addr, err)
	}
	f.conns[dest] = conn
	return conn, nil
}

func (f *GRPC) Isend(dest int, tag Tag, data []byte) (*SendRequest, error) {
	req := &SendRequest{}
	if dest == f.rank {
		buf := make([]byte, len(data))
		copy(buf, data)
		f.inbox.push(message{source: f.rank, tag: tag, data: buf})
		req.finish(nil)
		return req, nil
	}
	conn, err := f.conn(dest)
	if err != nil {
		return nil, err
	}
	env := encodeEnvelope(f.rank, tag, data)
	go func() {
		stream, err := conn.NewStream(context.Background(), transferStreamDesc, transferMethod)
		if err != nil {
			req.finish(status.Errorf(codes.Unavailable, "failed to open transfer stream to node %d: %v", dest, err))
			return
		}
		if err := stream.SendMsg(&env); err != nil {
			req.finish(status.Errorf(codes.Unavailable, "failed send to node %d: %v", dest, err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			req.finish(status.Errorf(codes.Unavailable, "failed to close stream to node %d: %v", dest, err))
			return
		}
		var ack []byte
		if err := stream.RecvMsg(&ack); err != nil && err != io.EOF {
			req.finish(status.Errorf(codes.Unavailable, "transfer to node %d not acknowledged: %v", dest, err))
			return
		}
		req.finish(nil)
	}()
	return req, nil
}

func (f *GRPC) Probe(tag Tag) (int, int, bool) {
	return f.inbox.probe(tag)
}

func (f *GRPC) Irecv(source int, tag Tag) (*RecvRequest, error) {
	data, ok := f.inbox.take(source, tag)
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "no pending message from node %d with tag %d", source, tag)
	}
	return &RecvRequest{Source: source, data: data, done: true}, nil
}
