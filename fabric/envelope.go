package fabric

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The gRPC transport wraps each frame in a small protobuf envelope:
//
//	message Envelope {
//	  uint64 source  = 1;
//	  uint32 tag     = 2;
//	  bytes  payload = 3;
//	}
//
// The envelope is encoded by hand with protowire; the payload keeps the
// packed little-endian frame layout of the transfer manager.
const (
	envelopeFieldSource  = 1
	envelopeFieldTag     = 2
	envelopeFieldPayload = 3
)

func encodeEnvelope(source int, tag Tag, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+16)
	buf = protowire.AppendTag(buf, envelopeFieldSource, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(source))
	buf = protowire.AppendTag(buf, envelopeFieldTag, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(tag))
	buf = protowire.AppendTag(buf, envelopeFieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, payload)
	return buf
}

func decodeEnvelope(data []byte) (source int, tag Tag, payload []byte, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, 0, nil, errors.Errorf("malformed envelope tag: %v", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == envelopeFieldSource && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, 0, nil, errors.New("malformed envelope source")
			}
			source = int(v)
			data = data[n:]
		case num == envelopeFieldTag && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, 0, nil, errors.New("malformed envelope tag field")
			}
			tag = Tag(v)
			data = data[n:]
		case num == envelopeFieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, 0, nil, errors.New("malformed envelope payload")
			}
			payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, 0, nil, errors.Errorf("malformed envelope field %d", num)
			}
			data = data[n:]
		}
	}
	return source, tag, payload, nil
}
