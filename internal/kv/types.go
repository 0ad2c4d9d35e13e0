// Package kv holds the wire-independent domain types shared by every
// stage of the pipeline: client identifiers, operations, acknowledgements,
// and commit prefixes.
package kv

import "fmt"

// ClientID identifies one client's ordered stream of operations.
type ClientID uint32

// MessageID is a per-client sequence number. It wraps modulo 2^32;
// wraparound within a live connection is unspecified upstream (see
// spec's Open Questions) and is not guarded against here.
type MessageID uint32

// Next returns the message id that follows m, wrapping on overflow.
func (m MessageID) Next() MessageID {
	return m + 1
}

// OpTag identifies the kind of a client Operation.
type OpTag uint8

const (
	OpGet OpTag = iota + 1
	OpPut
	OpDelete
)

func (t OpTag) String() string {
	switch t {
	case OpGet:
		return "Get"
	case OpPut:
		return "Put"
	case OpDelete:
		return "Delete"
	default:
		return fmt.Sprintf("OpTag(%d)", uint8(t))
	}
}

// Operation is the tagged Get/Put/Delete variant from the data model.
// Key and Value are opaque byte sequences; Value is unused for Get and
// Delete.
type Operation struct {
	Tag   OpTag
	Key   []byte
	Value []byte
}

// ClientLogMessage is the canonical ordering unit: one operation from
// one client at one sequence position.
type ClientLogMessage struct {
	ClientID  ClientID
	MessageID MessageID
	Op        Operation
}

// Tag packs (MessageID, ClientID) into a single uint64 that defines
// total order within and across clients: MessageID is the primary sort
// key, ClientID breaks ties between replicas of the same id. This is an
// explicit packing rather than a reinterpretation of struct memory,
// resolving the portability concern raised against the original's
// 128-bit memory cast.
func (m ClientLogMessage) Tag() uint64 {
	return uint64(m.MessageID)<<32 | uint64(m.ClientID)
}

// ExtKind identifies which operation an Extension's result belongs to.
type ExtKind uint8

const (
	ExtNone ExtKind = iota
	ExtGet
	ExtPut
	ExtDelete
)

// Extension carries the value-shaped half of an Ack: the prior binding
// for Put/Delete, or the current binding for Get. Prior is nil when no
// binding existed.
type Extension struct {
	Kind  ExtKind
	Prior []byte
}

// Ack is the per-message response produced by Apply.
type Ack struct {
	ClientID  ClientID
	MessageID MessageID
	Ext       Extension
}

// Prefix is a vector of per-client high-water marks: States[c] is the
// count of client c's messages that must have been applied before this
// prefix is considered committed. Ids are monotonically increasing and
// a received prefix must dominate the previous one componentwise.
type Prefix struct {
	ID     uint64
	States []MessageID
}

// Dominates reports whether p componentwise dominates prev, i.e. every
// client's high-water mark is non-decreasing and p.ID is strictly
// greater. A zero-value prev (ID 0, all-zero States) is the implicit
// starting point of a fresh deployment.
func (p Prefix) Dominates(prev Prefix) bool {
	if p.ID <= prev.ID {
		return false
	}
	if len(p.States) != len(prev.States) {
		return false
	}
	for c, s := range p.States {
		if s < prev.States[c] {
			return false
		}
	}
	return true
}

// Delta returns, per client, the count of newly-committable messages
// between prev and p. Requires p.Dominates(prev) for the result to be
// meaningful; callers that have already validated monotonicity via
// Dominates can rely on every entry being >= 0.
func (p Prefix) Delta(prev Prefix) []uint32 {
	delta := make([]uint32, len(p.States))
	for c, s := range p.States {
		var prevS MessageID
		if c < len(prev.States) {
			prevS = prev.States[c]
		}
		delta[c] = uint32(s - prevS)
	}
	return delta
}
