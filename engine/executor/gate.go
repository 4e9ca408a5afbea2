package executor

import (
	"context"
	"sync"

	"github.com/compozy/taskforest/engine/task"
)

// gate is the per-node suspension primitive that parks Report calls while
// the node is paused. It is level-triggered: a waiter arriving after the
// gate reopened passes straight through, and any number of reporters may
// park on the same node at once.
type gate struct {
	mu sync.Mutex
	ch chan struct{} // closed while the gate is open
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

// shut closes the gate so subsequent waits park. Idempotent.
func (g *gate) shut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// open releases every parked waiter. Idempotent.
func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// wait blocks until the gate opens, the caller's context ends, or the
// task's own unit is canceled.
func (g *gate) wait(ctx, runCtx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-runCtx.Done():
		return task.ErrCanceled
	case <-ctx.Done():
		return ctx.Err()
	}
}
