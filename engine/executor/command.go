package executor

import (
	"context"
	"time"

	"github.com/compozy/taskforest/engine/core"
	"github.com/compozy/taskforest/engine/task"
)

// command is one structural mutation or query processed by the command
// loop. The loop is the single serialization point: commands apply one at
// a time, so no two tree mutations ever interleave.
type command interface {
	apply(e *Executor)
}

type addResult struct {
	id  core.ID
	err error
}

type cmdAdd struct {
	in    TaskInput
	reply chan addResult
}

type cmdReport struct {
	id       core.ID
	progress task.Progress
	reply    chan error
}

type pushStartResult struct {
	tc  *taskContext
	err error
}

type cmdPushStart struct {
	parentID core.ID
	name     string
	body     task.Body
	reply    chan pushStartResult
}

type cmdPushFinish struct {
	childID core.ID
	err     error
	reply   chan error
}

// cmdBodyDone, cmdTimeout, and cmdEvictCanceled carry the gen of the run
// they belong to; the loop drops them when the registered entry's gen
// differs, so a stale run can never resolve its successor.
type cmdBodyDone struct {
	id  core.ID
	gen uint64
	err error
}

type cmdTimeout struct {
	id  core.ID
	gen uint64
}

type cmdPause struct {
	id core.ID
}

type cmdResume struct {
	id core.ID
}

type cmdCancel struct {
	id core.ID
}

// cmdEvictCanceled fires after the cancel grace window. The node is only
// removed if it is still Canceled, so a retry in the meantime wins.
type cmdEvictCanceled struct {
	id  core.ID
	gen uint64
}

type cmdRemove struct {
	id    core.ID
	reply chan error
}

type cmdRetry struct {
	id    core.ID
	reply chan addResult
}

type cmdCancelAll struct {
	reply chan struct{}
}

type cmdSweep struct {
	cutoff time.Time
}

type cmdAllTasks struct {
	reply chan []*task.Snapshot
}

type cmdStop struct {
	reply chan struct{}
}

// send queues a command, respecting caller cancellation and shutdown.
func (e *Executor) send(ctx context.Context, c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendAsync queues a command from internal callers (timers, finished task
// bodies) that must never block on a caller context. Dropped silently once
// the loop has stopped.
func (e *Executor) sendAsync(c command) {
	select {
	case e.cmds <- c:
	case <-e.done:
	}
}
