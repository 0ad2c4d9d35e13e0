// Package staticprefix implements a sync.PrefixSource backed by a
// fixed, pre-built slice of prefixes — for tests and for driving a
// pipeline from a precomputed schedule rather than a live feed.
package staticprefix

import (
	"context"

	"github.com/adred-codev/kvcore/internal/kv"
)

// Source replays prefixes in order, one per Next call, then reports
// exhaustion.
type Source struct {
	prefixes []kv.Prefix
	pos      int
}

// New creates a Source that will yield prefixes in the given order.
func New(prefixes []kv.Prefix) *Source {
	return &Source{prefixes: prefixes}
}

// Next returns the next prefix in the schedule, or ok=false once the
// schedule is exhausted.
func (s *Source) Next(ctx context.Context) (kv.Prefix, bool) {
	if s.pos >= len(s.prefixes) {
		var zero kv.Prefix
		return zero, false
	}
	p := s.prefixes[s.pos]
	s.pos++
	return p, true
}
