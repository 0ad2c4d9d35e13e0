package wire

import (
	"testing"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripClientPutAndGet(t *testing.T) {
	msgs := []kv.ClientLogMessage{
		{ClientID: 1, MessageID: 0, Op: kv.Operation{Tag: kv.OpPut, Key: []byte("a"), Value: []byte("1")}},
		{ClientID: 1, MessageID: 1, Op: kv.Operation{Tag: kv.OpGet, Key: []byte("a")}},
		{ClientID: 2, MessageID: 0, Op: kv.Operation{Tag: kv.OpDelete, Key: []byte("x")}},
	}

	var payload []byte
	for _, m := range msgs {
		payload = EncodeClientLogMessage(payload, m)
	}

	decoded, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i, m := range msgs {
		assert.Equal(t, m, decoded[i].Client)
		assert.Equal(t, TagIncomingClient, decoded[i].Tag)
	}
}

func TestRoundTripAck(t *testing.T) {
	ack := kv.Ack{ClientID: 7, MessageID: 42, Ext: kv.Extension{Kind: kv.ExtPut, Prior: []byte("old")}}
	payload := EncodeAck(nil, ack)
	decoded, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, ack, decoded[0].Ack)
}

func TestEmptyPayloadProducesNoMessages(t *testing.T) {
	decoded, err := DecodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestTrailingBytesIsFramingError(t *testing.T) {
	payload := EncodeClientLogMessage(nil, kv.ClientLogMessage{
		ClientID: 1, MessageID: 0, Op: kv.Operation{Tag: kv.OpGet, Key: []byte("k")},
	})
	payload = append(payload, 0xff, 0xff, 0xff) // a dangling truncated tag

	decoded, err := DecodePayload(payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)
	require.Len(t, decoded, 1, "the well-formed prefix is still returned")
}

func TestUnknownTagIsFramingError(t *testing.T) {
	_, err := DecodePayload([]byte{0x09})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestAckTruncatedAfterKindIsFramingError(t *testing.T) {
	// A 10-byte ack frame (tag + clientID + msgID + a non-none Kind) with
	// nothing after it must be a framing error, not an out-of-range read.
	payload := EncodeAck(nil, kv.Ack{ClientID: 1, MessageID: 1, Ext: kv.Extension{Kind: kv.ExtGet}})
	truncated := payload[:10] // tag + clientID + msgID + kind, nothing after

	_, err := DecodePayload(truncated)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)
}
