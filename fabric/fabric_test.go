package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubSendProbeRecv(t *testing.T) {
	hub := NewHub(2)
	n0 := hub.Node(0)
	n1 := hub.Node(1)

	assert.Equal(t, 0, n0.Rank())
	assert.Equal(t, 2, n0.Size())

	// nothing pending yet
	_, _, ok := n1.Probe(TagDataTransfer)
	assert.False(t, ok)

	req, err := n0.Isend(1, TagDataTransfer, []byte{1, 2, 3})
	assert.NoError(t, err)
	done, err := req.Test()
	assert.NoError(t, err)
	assert.True(t, done)

	source, size, ok := n1.Probe(TagDataTransfer)
	assert.True(t, ok)
	assert.Equal(t, 0, source)
	assert.Equal(t, 3, size)

	recv, err := n1.Irecv(source, TagDataTransfer)
	assert.NoError(t, err)
	data, done2 := recv.Test()
	assert.True(t, done2)
	assert.Equal(t, []byte{1, 2, 3}, data)

	// the message was claimed
	_, _, ok = n1.Probe(TagDataTransfer)
	assert.False(t, ok)
}

func TestHubInOrderPerPair(t *testing.T) {
	hub := NewHub(2)
	n0 := hub.Node(0)
	n1 := hub.Node(1)

	for i := byte(0); i < 4; i++ {
		_, err := n0.Isend(1, TagDataTransfer, []byte{i})
		assert.NoError(t, err)
	}
	for i := byte(0); i < 4; i++ {
		recv, err := n1.Irecv(0, TagDataTransfer)
		assert.NoError(t, err)
		data, _ := recv.Test()
		assert.Equal(t, []byte{i}, data)
	}
}

func TestHubTagFiltering(t *testing.T) {
	hub := NewHub(2)
	n0 := hub.Node(0)
	n1 := hub.Node(1)

	_, err := n0.Isend(1, Tag(99), []byte{42})
	assert.NoError(t, err)

	_, _, ok := n1.Probe(TagDataTransfer)
	assert.False(t, ok)
	_, size, ok := n1.Probe(Tag(99))
	assert.True(t, ok)
	assert.Equal(t, 1, size)
}

func TestHubSendToUnknownNode(t *testing.T) {
	hub := NewHub(1)
	n0 := hub.Node(0)
	_, err := n0.Isend(3, TagDataTransfer, []byte{1})
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte{0, 1, 2, 3, 254, 255}
	env := encodeEnvelope(3, TagDataTransfer, payload)
	source, tag, got, err := decodeEnvelope(env)
	assert.NoError(t, err)
	assert.Equal(t, 3, source)
	assert.Equal(t, TagDataTransfer, tag)
	assert.Equal(t, payload, got)
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	env := encodeEnvelope(0, Tag(1), nil)
	source, tag, payload, err := decodeEnvelope(env)
	assert.NoError(t, err)
	assert.Equal(t, 0, source)
	assert.Equal(t, Tag(1), tag)
	assert.Empty(t, payload)
}

func TestEnvelopeMalformed(t *testing.T) {
	_, _, _, err := decodeEnvelope([]byte{0xff})
	assert.Error(t, err)
}
