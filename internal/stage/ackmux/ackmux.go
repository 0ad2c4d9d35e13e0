// Package ackmux fans in the per-partition Ack rings produced by Apply
// into the single outbound stream TxEgress writes to the NIC.
//
// Grounded on the teacher's internal/multi/broadcast.go subscriber
// model inverted: instead of one producer fanning out to many
// consumers, here many producers (one per partition) fan in to one
// consumer, round-robin polled the same way broadcast.go's batched
// drain loop services multiple subscriber channels in one pass.
package ackmux

import (
	"context"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/ring"
)

// Run round-robin drains every ring in ins and pushes each Ack onto
// out, preserving each partition's internal order (but not imposing
// any order across partitions, matching the spec's "fan-in, no global
// order" contract). Returns once every input ring is drained and
// abandoned.
func Run(ctx context.Context, ins []*ring.Ring[kv.Ack], out *ring.Ring[kv.Ack]) error {
	defer out.Abandon()

	for {
		progressed := false
		allDrained := true
		for _, in := range ins {
			if !in.Drained() {
				allDrained = false
			}
			a, ok := in.TryPop()
			if !ok {
				continue
			}
			progressed = true
			for !out.TryPush(a) {
				metrics.BackpressureSpins.WithLabelValues("ackmux", "out").Inc()
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
		if allDrained {
			return nil
		}
		if !progressed {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
