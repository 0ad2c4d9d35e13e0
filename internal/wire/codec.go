// Package wire implements the packet encoding described in the spec's
// external interfaces: a length-prefixed sequence of tagged Message
// values, fixed-width little-endian integers on the wire. Endianness
// is little-endian throughout, resolving the spec's open question in
// the direction it recommends.
//
// Grounded on the teacher's internal/shared/handlers_message.go typed
// dispatch and src/message.go envelope shape.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/adred-codev/kvcore/internal/kv"
)

// Message tags.
const (
	TagIncomingClient byte = 0x01
	TagAck            byte = 0x02
)

// ErrFraming reports a message-local framing defect: bad tag, bad
// length, unknown client, or trailing bytes. It is always message- or
// packet-local — never fatal for the owning stage, per the spec's
// error taxonomy.
var ErrFraming = errors.New("wire: framing error")

// Message is the decoded union of what may appear in a packet payload.
// Exactly one of Client or Ack is set, selected by Tag.
type Message struct {
	Tag    byte
	Client kv.ClientLogMessage
	Ack    kv.Ack
}

// DecodePayload parses a length-prefixed sequence of Messages from a
// packet payload. It returns the messages successfully decoded before
// any trailing-bytes or malformed-length error, along with that error;
// callers decide whether a partial decode is usable (Parse discards the
// whole packet on any error, per spec's edge cases).
func DecodePayload(payload []byte) ([]Message, error) {
	var msgs []Message
	off := 0
	for off < len(payload) {
		msg, n, err := decodeOne(payload[off:])
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
		off += n
	}
	return msgs, nil
}

func decodeOne(b []byte) (Message, int, error) {
	if len(b) < 1 {
		return Message{}, 0, fmt.Errorf("%w: truncated tag", ErrFraming)
	}
	tag := b[0]
	switch tag {
	case TagIncomingClient:
		clm, n, err := decodeClientLogMessage(b[1:])
		if err != nil {
			return Message{}, 0, err
		}
		return Message{Tag: tag, Client: clm}, 1 + n, nil
	case TagAck:
		ack, n, err := decodeAck(b[1:])
		if err != nil {
			return Message{}, 0, err
		}
		return Message{Tag: tag, Ack: ack}, 1 + n, nil
	default:
		return Message{}, 0, fmt.Errorf("%w: unknown tag 0x%02x", ErrFraming, tag)
	}
}

func decodeClientLogMessage(b []byte) (kv.ClientLogMessage, int, error) {
	if len(b) < 8 {
		return kv.ClientLogMessage{}, 0, fmt.Errorf("%w: truncated client message header", ErrFraming)
	}
	clientID := kv.ClientID(binary.LittleEndian.Uint32(b[0:4]))
	msgID := kv.MessageID(binary.LittleEndian.Uint32(b[4:8]))
	op, n, err := decodeOperation(b[8:])
	if err != nil {
		return kv.ClientLogMessage{}, 0, err
	}
	return kv.ClientLogMessage{ClientID: clientID, MessageID: msgID, Op: op}, 8 + n, nil
}

func decodeOperation(b []byte) (kv.Operation, int, error) {
	if len(b) < 1 {
		return kv.Operation{}, 0, fmt.Errorf("%w: truncated op tag", ErrFraming)
	}
	tag := kv.OpTag(b[0])
	off := 1

	key, n, err := decodeBytes(b[off:])
	if err != nil {
		return kv.Operation{}, 0, err
	}
	off += n

	op := kv.Operation{Tag: tag, Key: key}

	switch tag {
	case kv.OpGet, kv.OpDelete:
		// no value on the wire
	case kv.OpPut:
		val, n, err := decodeBytes(b[off:])
		if err != nil {
			return kv.Operation{}, 0, err
		}
		off += n
		op.Value = val
	default:
		return kv.Operation{}, 0, fmt.Errorf("%w: unknown op tag %d", ErrFraming, tag)
	}
	return op, off, nil
}

func decodeBytes(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated length prefix", ErrFraming)
	}
	l := binary.LittleEndian.Uint32(b[0:4])
	if uint64(l)+4 > uint64(len(b)) {
		return nil, 0, fmt.Errorf("%w: length prefix exceeds payload", ErrFraming)
	}
	out := make([]byte, l)
	copy(out, b[4:4+l])
	return out, 4 + int(l), nil
}

func decodeAck(b []byte) (kv.Ack, int, error) {
	if len(b) < 9 {
		return kv.Ack{}, 0, fmt.Errorf("%w: truncated ack header", ErrFraming)
	}
	clientID := kv.ClientID(binary.LittleEndian.Uint32(b[0:4]))
	msgID := kv.MessageID(binary.LittleEndian.Uint32(b[4:8]))
	kind := kv.ExtKind(b[8])
	off := 9

	ext := kv.Extension{Kind: kind}
	if kind != kv.ExtNone {
		if len(b) < off+1 {
			return kv.Ack{}, 0, fmt.Errorf("%w: truncated ack prior-flag", ErrFraming)
		}
		has := b[off]
		off++
		if has == 1 {
			prior, n, err := decodeBytes(b[off:])
			if err != nil {
				return kv.Ack{}, 0, err
			}
			off += n
			ext.Prior = prior
		}
	}
	return kv.Ack{ClientID: clientID, MessageID: msgID, Ext: ext}, off, nil
}

// EncodeClientLogMessage appends the wire encoding of an IncomingClient
// message to dst and returns the result.
func EncodeClientLogMessage(dst []byte, m kv.ClientLogMessage) []byte {
	dst = append(dst, TagIncomingClient)
	dst = appendU32(dst, uint32(m.ClientID))
	dst = appendU32(dst, uint32(m.MessageID))
	dst = appendU8(dst, uint8(m.Op.Tag))
	dst = appendBytes(dst, m.Op.Key)
	if m.Op.Tag == kv.OpPut {
		dst = appendBytes(dst, m.Op.Value)
	}
	return dst
}

// EncodeAck appends the wire encoding of an Ack message to dst and
// returns the result.
func EncodeAck(dst []byte, a kv.Ack) []byte {
	dst = append(dst, TagAck)
	dst = appendU32(dst, uint32(a.ClientID))
	dst = appendU32(dst, uint32(a.MessageID))
	dst = appendU8(dst, uint8(a.Ext.Kind))
	if a.Ext.Kind != kv.ExtNone {
		if a.Ext.Prior == nil {
			dst = append(dst, 0)
		} else {
			dst = append(dst, 1)
			dst = appendBytes(dst, a.Ext.Prior)
		}
	}
	return dst
}

func appendU8(dst []byte, v uint8) []byte {
	return append(dst, v)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = appendU32(dst, uint32(len(b)))
	return append(dst, b...)
}
