// Package rxingest implements the RxIngest stage: drain a NIC receive
// queue into packet handles, transferring ownership into a single
// outbound ring.
//
// Grounded on the teacher's internal/shared/pump_read.go read loop
// shape (deadline-bounded read, loop, no blocking beyond the deadline).
package rxingest

import (
	"context"

	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/adred-codev/kvcore/internal/rxtx"
	"github.com/rs/zerolog"
)

// Run busy-loops: request up to len(scratch) packets from nic each
// iteration, transfer every returned packet into out. If out is full,
// it spins (checking ctx.Done()) rather than drop. A NIC-fatal error
// propagates up so the caller can trigger process-wide shutdown; out is
// abandoned either way on return.
func Run(ctx context.Context, nic rxtx.NIC, out *ring.Ring[rxtx.Mbuf], burstSize int, logger zerolog.Logger) error {
	defer out.Abandon()

	scratch := make([]rxtx.Mbuf, burstSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := nic.RxBurst(ctx, scratch)
		if err != nil {
			logger.Error().Err(err).Msg("rxingest: NIC fatal error")
			return err
		}
		for i := 0; i < n; i++ {
			for !out.TryPush(scratch[i]) {
				metrics.BackpressureSpins.WithLabelValues("rxingest", "out").Inc()
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}
