// Package lifecycle wraps the context/cancel/WaitGroup triple every
// teacher stage (Shard, BroadcastBus, LoadBalancer) repeats ad hoc, into
// one reusable type. This is the one generalization SPEC_FULL.md calls
// for: the teacher's pattern is kept exactly, just named once instead
// of copy-pasted per stage.
//
// It also stands in for the spec's "process-wide terminate flag" and
// "counting semaphore taken to zero by the shutdown routine" (§5):
// context cancellation propagates the terminate signal, and Wait plays
// the role of the semaphore drain.
package lifecycle

import (
	"context"
	"sync"
)

// Group manages a set of goroutines sharing one cancellation signal.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Group derived from parent.
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Ctx returns the group's context; stages should select on Ctx().Done()
// or poll Ctx().Err() inside their spin loops.
func (g *Group) Ctx() context.Context { return g.ctx }

// Go runs fn in a tracked goroutine.
func (g *Group) Go(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Shutdown cancels the group's context and blocks until every tracked
// goroutine has returned — the quiescence wait the spec's shutdown
// routine performs before tearing down NIC resources.
func (g *Group) Shutdown() {
	g.cancel()
	g.wg.Wait()
}
