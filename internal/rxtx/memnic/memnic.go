// Package memnic implements rxtx.NIC entirely in memory, for tests and
// benchmarks that need a deterministic, driver-free packet source.
//
// Grounded on ehrlich-b-go-ublk/backend/mem.go: a real example repo in
// the pack implements an in-RAM stand-in behind the exact interface its
// real hardware backend satisfies, so the rest of the pipeline (queue
// runner, control plane) is indifferent to which one it's driving. This
// package does the same for rxtx.NIC.
package memnic

import (
	"context"
	"sync"

	"github.com/adred-codev/kvcore/internal/rxtx"
)

// NIC is an in-memory rxtx.NIC: packets pushed via Inject are returned
// by RxBurst in FIFO order; packets accepted by TxBurst are appended to
// Sent for inspection.
type NIC struct {
	mu      sync.Mutex
	pending [][]byte
	Sent    [][]byte
}

// New creates an empty in-memory NIC.
func New() *NIC {
	return &NIC{}
}

// Inject enqueues a packet payload as if it had arrived on the wire.
func (n *NIC) Inject(payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, payload)
}

// RxBurst fills up to len(slots) with queued payloads.
func (n *NIC) RxBurst(ctx context.Context, slots []rxtx.Mbuf) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for count < len(slots) && len(n.pending) > 0 {
		slots[count] = rxtx.Mbuf{Payload: n.pending[0]}
		n.pending = n.pending[1:]
		count++
	}
	return count, nil
}

// TxBurst records every buffer as sent; it never exerts backpressure.
func (n *NIC) TxBurst(ctx context.Context, bufs []rxtx.Mbuf) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, b := range bufs {
		n.Sent = append(n.Sent, b.Payload)
	}
	return len(bufs), nil
}

// FreeBulk is a no-op; this adapter keeps no external pool.
func (n *NIC) FreeBulk(bufs []rxtx.Mbuf) {}

// Pending reports how many injected packets have not yet been drained.
func (n *NIC) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
