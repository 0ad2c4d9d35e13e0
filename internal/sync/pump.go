package sync

import (
	"context"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/ring"
	"golang.org/x/time/rate"
)

// Pump reads prefixes from src and pushes them into out, one SPSC ring
// per partition's Apply instance (mirroring Order's broadcast fan-out:
// every partition must see every prefix to compute its own delta).
// limiter, if non-nil, paces ingestion the same way the teacher's
// ResourceGuard rate-limits Kafka consumption — a defensive brake
// against a runaway or misbehaving external sync layer, not a
// correctness requirement.
func Pump(ctx context.Context, src PrefixSource, outs []*ring.Ring[kv.Prefix], limiter *rate.Limiter) error {
	defer func() {
		for _, o := range outs {
			o.Abandon()
		}
	}()

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		p, ok := src.Next(ctx)
		if !ok {
			return nil
		}
		for _, out := range outs {
			for !out.TryPush(p) {
				metrics.BackpressureSpins.WithLabelValues("sync", "prefix_out").Inc()
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}
