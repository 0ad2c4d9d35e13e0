// Package apply implements the Apply stage: one goroutine per
// partition, driving a shard of the partitioned hash map from a
// prefix-gated, per-client stream of operations.
//
// Grounded on the teacher's internal/multi/broadcast.go batch-drain
// loop (drain what is ready, process as one unit, repeat) and
// internal/shared/kafka/consumer.go's batching consumer (bounded batch
// size gated by a resource guard before processing) — adapted here
// into the delta-driven "pull exactly Δ[c] per client" gate: a fresh
// prefix names, per client, how many more of that client's messages
// are now committable, and Apply consumes precisely that many before
// moving to the next prefix.
package apply

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/partmap"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/rs/zerolog"
)

// Run owns handle for its lifetime. clientIns[c] carries client c's
// full ordered operation stream (broadcast identically to every
// partition by the Order stage); prefixIn carries the externally-fed
// commit-prefix stream; acksOut receives one Ack per message this
// partition actually applies. clientNext[c], when non-nil, is the
// same atomic counter Order publishes for client c, used only to
// report how far Apply is lagging production (internal/metrics
// PrefixLag) — correctness never depends on it, since spinning on
// TryPop already waits for Order to catch up.
//
// Run returns handle back to the caller (so it can be reused or
// inspected after shutdown) once prefixIn is drained and abandoned, or
// the error that caused early termination.
func Run(
	ctx context.Context,
	clientIns []*ring.Ring[kv.ClientLogMessage],
	clientNext []*atomic.Uint32,
	prefixIn *ring.Ring[kv.Prefix],
	acksOut *ring.Ring[kv.Ack],
	m *partmap.PartitionedHashMap,
	handle *partmap.Handle,
	logger zerolog.Logger,
) (*partmap.Handle, error) {
	defer acksOut.Abandon()

	partitionLabel := strconv.Itoa(handle.PartitionID())
	prev := kv.Prefix{ID: 0, States: make([]kv.MessageID, len(clientIns))}

	for {
		p, ok := prefixIn.TryPop()
		if !ok {
			if prefixIn.Drained() {
				return handle, nil
			}
			if ctx.Err() != nil {
				return handle, ctx.Err()
			}
			continue
		}

		if !p.Dominates(prev) {
			metrics.OrderingViolations.WithLabelValues("apply", "prefix_non_dominating").Inc()
			continue
		}

		delta := p.Delta(prev)
		for c, d := range delta {
			for i := uint32(0); i < d; i++ {
				cm, popped := pullOne(ctx, clientIns[c])
				if !popped {
					// context was cancelled while waiting
					return handle, ctx.Err()
				}
				applyOne(handle, m, cm, acksOut, ctx, logger, partitionLabel)
			}
			reportLag(clientNext, c, prev.States[c]+kv.MessageID(d))
		}

		prev = p
	}
}

// pullOne spins on clientIns until a message is available or ctx is
// cancelled. Returning ok=false only happens on cancellation, since a
// dominating prefix guarantees Order will eventually produce the
// message this call is waiting for.
func pullOne(ctx context.Context, in *ring.Ring[kv.ClientLogMessage]) (kv.ClientLogMessage, bool) {
	for {
		m, ok := in.TryPop()
		if ok {
			return m, true
		}
		metrics.BackpressureSpins.WithLabelValues("apply", "client_in").Inc()
		if ctx.Err() != nil {
			var zero kv.ClientLogMessage
			return zero, false
		}
	}
}

// applyOne checks whether cm's key routes to handle's partition; if
// not, it is silently skipped (another partition owns it, and will
// emit the Ack). Otherwise it mutates the shard and emits exactly one
// Ack carrying the prior binding (for Put/Delete) or current binding
// (for Get).
func applyOne(handle *partmap.Handle, m *partmap.PartitionedHashMap, cm kv.ClientLogMessage, acksOut *ring.Ring[kv.Ack], ctx context.Context, logger zerolog.Logger, partitionLabel string) {
	partition, hash := m.PartitionOf(cm.Op.Key)
	if partition != handle.PartitionID() {
		return
	}

	var ext kv.Extension
	switch cm.Op.Tag {
	case kv.OpGet:
		v, ok := handle.Get(hash)
		ext = kv.Extension{Kind: kv.ExtGet}
		if ok {
			ext.Prior = v
		}
	case kv.OpPut:
		prior, existed := handle.Put(hash, cm.Op.Key, cm.Op.Value)
		ext = kv.Extension{Kind: kv.ExtPut}
		if existed {
			ext.Prior = prior
		}
	case kv.OpDelete:
		prior, existed := handle.Delete(hash)
		ext = kv.Extension{Kind: kv.ExtDelete}
		if existed {
			ext.Prior = prior
		}
	default:
		logger.Warn().Uint8("tag", uint8(cm.Op.Tag)).Msg("apply: unknown operation tag")
		return
	}

	ack := kv.Ack{ClientID: cm.ClientID, MessageID: cm.MessageID, Ext: ext}
	for !acksOut.TryPush(ack) {
		metrics.BackpressureSpins.WithLabelValues("apply", "acks_out").Inc()
		if ctx.Err() != nil {
			return
		}
	}
	metrics.ShardKeys.WithLabelValues(partitionLabel).Set(float64(handle.Len()))
}

func reportLag(clientNext []*atomic.Uint32, client int, consumed kv.MessageID) {
	if clientNext == nil || client >= len(clientNext) || clientNext[client] == nil {
		return
	}
	produced := clientNext[client].Load()
	lag := int64(produced) - int64(consumed)
	metrics.PrefixLag.WithLabelValues(strconv.Itoa(client)).Set(float64(lag))
}
