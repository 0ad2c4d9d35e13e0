// Package txegress implements the TxEgress stage: drain the merged Ack
// stream, encode each Ack onto the wire, batch encoded acks into
// NIC-MTU-sized buffers, and hand bursts to the NIC for transmission,
// retrying whatever a short write leaves behind.
//
// Grounded on the teacher's internal/shared/pump_write.go batching
// write pump: drain everything ready, accumulate into one buffer,
// flush once per batch instead of once per message.
package txegress

import (
	"context"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/adred-codev/kvcore/internal/rxtx"
	"github.com/adred-codev/kvcore/internal/wire"
	"github.com/rs/zerolog"
)

// DefaultMTU is the payload budget for a single outbound buffer,
// matching a conservative Ethernet MTU (1500) minus typical IP/UDP
// header overhead.
const DefaultMTU = 1472

// Run drains in, encodes each Ack with internal/wire, and packs
// encoded acks into buffers no larger than mtu before handing them to
// nic.TxBurst. A single ack larger than mtu is still sent alone (never
// split mid-ack). Returns once in is drained and abandoned.
func Run(ctx context.Context, in *ring.Ring[kv.Ack], nic rxtx.NIC, mtu int, logger zerolog.Logger) error {
	if mtu <= 0 {
		mtu = DefaultMTU
	}

	var batch []rxtx.Mbuf
	var cur []byte

	flush := func() {
		if cur != nil {
			batch = append(batch, rxtx.Mbuf{Payload: cur})
			cur = nil
		}
		if len(batch) == 0 {
			return
		}
		sendAll(ctx, nic, batch, logger)
		batch = batch[:0]
	}

	for {
		a, ok := in.TryPop()
		if ok {
			encoded := wire.EncodeAck(nil, a)
			if cur != nil && len(cur)+len(encoded) > mtu {
				batch = append(batch, rxtx.Mbuf{Payload: cur})
				cur = nil
			}
			cur = append(cur, encoded...)
			continue
		}

		flush()

		if in.Drained() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// sendAll retries TxBurst until every buffer in batch has been
// accepted by the NIC, matching the NIC interface's "sent may be less
// than len(bufs)" backpressure contract.
func sendAll(ctx context.Context, nic rxtx.NIC, batch []rxtx.Mbuf, logger zerolog.Logger) {
	remaining := batch
	for len(remaining) > 0 {
		sent, err := nic.TxBurst(ctx, remaining)
		if err != nil {
			logger.Error().Err(err).Msg("txegress: NIC fatal error")
			nic.FreeBulk(remaining)
			return
		}
		if sent > 0 {
			nic.FreeBulk(remaining[:sent])
			remaining = remaining[sent:]
		}
		if sent == 0 {
			metrics.BackpressureSpins.WithLabelValues("txegress", "nic").Inc()
			if ctx.Err() != nil {
				return
			}
		}
	}
}
