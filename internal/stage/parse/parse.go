// Package parse implements the Parse stage: decode each packet into a
// sequence of typed messages, demultiplex by client id, and hand each
// client's contiguous run to its own outbound ring.
//
// Grounded on the teacher's internal/shared/handlers_message.go typed
// dispatch and src/channels.go's "validate, count invalid, keep going"
// style for edge cases.
package parse

import (
	"context"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/adred-codev/kvcore/internal/rxtx"
	"github.com/adred-codev/kvcore/internal/wire"
	"github.com/rs/zerolog"
)

// Run drains in, decodes each mbuf's payload, groups decoded
// IncomingClient messages by ClientID, and pushes each client's run
// into outs[clientID] in arrival order. An Ack message appearing in
// ingress is a framing error (acks never arrive from clients) and is
// dropped with a counter; it is never fatal for the stage. Unknown
// ClientID >= len(outs) is a framing error discarding only that
// message; trailing bytes or any other decode error discards that whole
// packet, including messages decoded before the error. The mbuf is
// released back to nic after each packet,
// whether or not it decoded cleanly.
func Run(ctx context.Context, nic rxtx.NIC, in *ring.Ring[rxtx.Mbuf], outs []*ring.Ring[kv.ClientLogMessage], logger zerolog.Logger) error {
	defer func() {
		for _, o := range outs {
			o.Abandon()
		}
	}()

	for {
		mbuf, ok := in.TryPop()
		if !ok {
			if in.Drained() {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		processPacket(ctx, mbuf, outs, logger)
		nic.FreeBulk([]rxtx.Mbuf{mbuf})
	}
}

func processPacket(ctx context.Context, mbuf rxtx.Mbuf, outs []*ring.Ring[kv.ClientLogMessage], logger zerolog.Logger) {
	if len(mbuf.Payload) == 0 {
		return
	}

	msgs, err := wire.DecodePayload(mbuf.Payload)
	if err != nil {
		metrics.FramingErrors.WithLabelValues("parse", "packet_decode").Inc()
		logger.Debug().Err(err).Msg("parse: dropping malformed packet")
		return
	}

	groups := make([][]kv.ClientLogMessage, len(outs))
	for _, m := range msgs {
		if m.Tag == wire.TagAck {
			metrics.FramingErrors.WithLabelValues("parse", "ack_in_ingress").Inc()
			continue
		}
		clientID := int(m.Client.ClientID)
		if clientID < 0 || clientID >= len(outs) {
			metrics.FramingErrors.WithLabelValues("parse", "unknown_client").Inc()
			continue
		}
		groups[clientID] = append(groups[clientID], m.Client)
	}

	for clientID, group := range groups {
		out := outs[clientID]
		for _, cm := range group {
			for !out.TryPush(cm) {
				metrics.BackpressureSpins.WithLabelValues("parse", "out").Inc()
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}
