package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/taskforest/engine/core"
	"github.com/compozy/taskforest/engine/task"
)

// errParked tells a reporter the pause landed before its update reached
// the command loop; the reporter goes back to the gate. Never escapes the
// package.
var errParked = errors.New("report parked")

// taskContext is the facade handed to a task body. It implements
// task.Reporter and is the only way a body may touch the forest: every
// mutation round-trips through the command loop.
type taskContext struct {
	ex     *Executor
	id     core.ID
	node   *task.Node
	gate   *gate
	runCtx context.Context
}

// checkCanceled is the cooperative cancellation check performed at every
// suspension point.
func (tc *taskContext) checkCanceled() error {
	if tc.runCtx.Err() != nil {
		return task.ErrCanceled
	}
	if tc.node.Status() == core.StatusCanceled && tc.node.Options().Cancellable {
		return task.ErrCanceled
	}
	return nil
}

func (tc *taskContext) Report(ctx context.Context, p task.Progress) error {
	for {
		if err := tc.checkCanceled(); err != nil {
			return err
		}
		for tc.node.IsPaused() {
			if err := tc.gate.wait(ctx, tc.runCtx); err != nil {
				return err
			}
			// The task may have been canceled while parked.
			if err := tc.checkCanceled(); err != nil {
				return err
			}
		}
		reply := make(chan error, 1)
		if err := tc.ex.send(ctx, cmdReport{id: tc.id, progress: p, reply: reply}); err != nil {
			return err
		}
		select {
		case err := <-reply:
			if errors.Is(err, errParked) {
				continue
			}
			return err
		case <-tc.ex.done:
			return task.ErrCanceled
		}
	}
}

func (tc *taskContext) Push(ctx context.Context, name string, body task.Body) error {
	if err := tc.checkCanceled(); err != nil {
		return err
	}
	startReply := make(chan pushStartResult, 1)
	if err := tc.ex.send(ctx, cmdPushStart{
		parentID: tc.id,
		name:     name,
		body:     body,
		reply:    startReply,
	}); err != nil {
		return err
	}
	var res pushStartResult
	select {
	case res = <-startReply:
	case <-tc.ex.done:
		return task.ErrCanceled
	}
	if res.err != nil {
		return res.err
	}
	bodyErr := runBody(res.tc.runCtx, body, res.tc)
	// The finish must reach the loop even if the caller's context died
	// mid-push, or the child would stay Running forever.
	finishReply := make(chan error, 1)
	tc.ex.sendAsync(cmdPushFinish{
		childID: res.tc.id,
		err:     bodyErr,
		reply:   finishReply,
	})
	select {
	case err := <-finishReply:
		return err
	case <-tc.ex.done:
		return task.ErrCanceled
	}
}

// runBody invokes a task closure, converting a panic into an ordinary
// failure so it reaches the node boundary instead of taking down the
// process.
func runBody(ctx context.Context, body task.Body, rep task.Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task body panicked: %v", r)
		}
	}()
	return body(ctx, rep)
}
