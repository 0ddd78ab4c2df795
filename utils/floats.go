// Package utils provides the byte codec shared by buffer payloads. Buffer
// elements are float64 and travel as packed little-endian bytes.
package utils

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ElemSize is the serialized size of one buffer element.
const ElemSize = 8

// FloatsToBytes packs values little-endian.
func FloatsToBytes(values []float64) []byte {
	out := make([]byte, len(values)*ElemSize)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*ElemSize:], math.Float64bits(v))
	}
	return out
}

// BytesToFloats unpacks a little-endian payload.
func BytesToFloats(data []byte) ([]float64, error) {
	if len(data)%ElemSize != 0 {
		return nil, errors.Errorf("payload of %d bytes is not a whole number of elements", len(data))
	}
	out := make([]float64, len(data)/ElemSize)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*ElemSize:]))
	}
	return out, nil
}
