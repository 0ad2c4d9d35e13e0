// Package sync defines the external commit-prefix feed the pipeline
// consumes: the replication/consensus layer that decides what is safe
// to apply is out of scope (spec §1, §6), so this package only fixes
// the boundary and provides a couple of concrete feeds.
package sync

import (
	"context"

	"github.com/adred-codev/kvcore/internal/kv"
)

// PrefixSource produces the externally-driven stream of commit
// prefixes. Next blocks (or spins, per the caller's own cancellation
// discipline) until a new prefix is available, ctx is cancelled, or
// the source is exhausted (ok=false).
type PrefixSource interface {
	Next(ctx context.Context) (kv.Prefix, bool)
}
