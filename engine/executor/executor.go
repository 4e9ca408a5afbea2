package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/taskforest/engine/core"
	"github.com/compozy/taskforest/engine/task"
	"github.com/compozy/taskforest/pkg/config"
	"github.com/compozy/taskforest/pkg/logger"
)

// TaskInput describes a top-level task to register.
type TaskInput struct {
	// ID is optional: a zero ID gets a generated one. Supplying an ID
	// already in use is a caller error and is rejected.
	ID       core.ID
	Name     string
	Options  task.Options
	Metadata map[string]any
	Body     task.Body
}

// entry is the loop-owned runtime state for one registered node. gen
// distinguishes runs sharing an id: a retry reuses the id while the old
// run's body may still be alive, so async results carry the gen of the
// run that produced them and stale ones are discarded.
type entry struct {
	node    *task.Node
	gate    *gate
	runCtx  context.Context
	cancel  context.CancelFunc
	timer   *time.Timer // set when the task has a timeout
	started time.Time
	gen     uint64
}

// Executor owns the task forest. Every structural mutation goes through
// its command loop, a single goroutine that owns the registry and the root
// list; task bodies run as independent goroutines and talk back only
// through their task context.
type Executor struct {
	cfg     config.ExecutorConfig
	log     logger.Logger
	metrics *Metrics
	bcast   *broadcaster

	cmds chan command
	done chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc

	closing atomic.Bool
	wg      sync.WaitGroup

	// owned by the command loop, never touched elsewhere
	registry map[core.ID]*entry
	roots    []*task.Node
	nextGen  uint64
}

type Option func(*Executor)

func WithLogger(log logger.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// WithMeter enables otel instrumentation on the given meter.
func WithMeter(meter metric.Meter) Option {
	return func(e *Executor) {
		m, err := NewMetrics(context.Background(), meter)
		if err != nil {
			e.log.Error("failed to initialize executor metrics", "error", err)
			return
		}
		e.metrics = m
	}
}

// New starts an executor. A nil cfg loads defaults plus environment
// overrides through the config service.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Executor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		loaded, err := config.NewService().Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load executor config: %w", err)
		}
		cfg = loaded
	}
	baseCtx, baseCancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Executor{
		cfg:        cfg.Executor,
		log:        logger.FromContext(ctx),
		bcast:      newBroadcaster(cfg.Executor.SubscriberBuffer),
		cmds:       make(chan command, cfg.Executor.CommandBuffer),
		done:       make(chan struct{}),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		registry:   make(map[core.ID]*entry),
	}
	e.metrics = &Metrics{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	go e.loop()
	return e, nil
}

func (e *Executor) loop() {
	for {
		c := <-e.cmds
		c.apply(e)
		if _, stopped := c.(cmdStop); stopped {
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Public operations
// -----------------------------------------------------------------------------

// AddTask registers a Pending node, flips it to Running, starts the body
// as its own goroutine, and returns the id without waiting for completion.
func (e *Executor) AddTask(ctx context.Context, in TaskInput) (core.ID, error) {
	if in.Body == nil {
		return "", fmt.Errorf("task body is required")
	}
	if e.closing.Load() {
		return "", ErrExecutorClosed
	}
	reply := make(chan addResult, 1)
	if err := e.send(ctx, cmdAdd{in: in, reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-e.done:
		return "", ErrExecutorClosed
	}
}

// Pause suspends the task and its whole subtree. A no-op unless the task
// exists, is pausable, and has not finished.
func (e *Executor) Pause(ctx context.Context, id core.ID) error {
	return e.send(ctx, cmdPause{id: id})
}

// Resume clears paused state on the task and every descendant and releases
// any parked reporters.
func (e *Executor) Resume(ctx context.Context, id core.ID) error {
	return e.send(ctx, cmdResume{id: id})
}

// Cancel cooperatively cancels the task. A no-op unless the task is
// cancellable. The node stays visible for the cancel grace window so
// observers can see the cancellation before it disappears.
func (e *Executor) Cancel(ctx context.Context, id core.ID) error {
	return e.send(ctx, cmdCancel{id: id})
}

// Remove unconditionally cancels and immediately evicts the task. Used to
// dismiss failed or canceled tasks.
func (e *Executor) Remove(ctx context.Context, id core.ID) error {
	reply := make(chan error, 1)
	if err := e.send(ctx, cmdRemove{id: id, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrExecutorClosed
	}
}

// Retry discards a Failed or Canceled retryable task and starts an
// equivalent run under the same id using the retained body.
func (e *Executor) Retry(ctx context.Context, id core.ID) (core.ID, error) {
	if e.closing.Load() {
		return "", ErrExecutorClosed
	}
	reply := make(chan addResult, 1)
	if err := e.send(ctx, cmdRetry{id: id, reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-e.done:
		return "", ErrExecutorClosed
	}
}

// CancelAll applies Cancel semantics to every cancellable top-level task.
func (e *Executor) CancelAll(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := e.send(ctx, cmdCancelAll{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
	case <-e.done:
		return ErrExecutorClosed
	}
	return nil
}

// RemoveCompletedTasks runs the cleanup sweep immediately, ignoring the
// visibility schedule.
func (e *Executor) RemoveCompletedTasks(ctx context.Context) error {
	return e.send(ctx, cmdSweep{cutoff: time.Now()})
}

// AllTasks returns snapshots of the top-level tasks in creation order.
func (e *Executor) AllTasks(ctx context.Context) ([]*task.Snapshot, error) {
	reply := make(chan []*task.Snapshot, 1)
	if err := e.send(ctx, cmdAllTasks{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case snaps := <-reply:
		return snaps, nil
	case <-e.done:
		return nil, ErrExecutorClosed
	}
}

// Subscribe registers an observer. The stream yields a full-forest
// snapshot on every change; history is not replayed and intermediate
// snapshots may be coalesced. The returned func unregisters the observer
// and releases its channel.
func (e *Executor) Subscribe(ctx context.Context) (<-chan *task.Graph, func(), error) {
	select {
	case <-e.done:
		return nil, nil, ErrExecutorClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	token, ch := e.bcast.subscribe()
	return ch, func() { e.bcast.unsubscribe(token) }, nil
}

// Shutdown cancels all work, waits for task bodies up to the context
// deadline (bodies that never poll cannot be preempted), then stops the
// command loop.
func (e *Executor) Shutdown(ctx context.Context) error {
	if !e.closing.CompareAndSwap(false, true) {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	e.baseCancel()
	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()
	var waitErr error
	select {
	case <-waited:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	reply := make(chan struct{}, 1)
	select {
	case e.cmds <- cmdStop{reply: reply}:
		<-e.done
	case <-e.done:
	}
	return waitErr
}

// -----------------------------------------------------------------------------
// Command applications (run on the command loop only)
// -----------------------------------------------------------------------------

func (c cmdAdd) apply(e *Executor) {
	id, err := e.startTask(c.in)
	c.reply <- addResult{id: id, err: err}
}

// startTask is the shared add path used by AddTask and Retry.
func (e *Executor) startTask(in TaskInput) (core.ID, error) {
	id := in.ID
	if id.IsZero() {
		id = core.MustNewID()
	}
	if _, exists := e.registry[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrTaskExists, id)
	}
	node := task.NewNode(id, in.Name, in.Options, in.Body, in.Metadata)
	ent := e.register(e.baseCtx, node)
	e.roots = append(e.roots, node)
	e.sortRoots()
	node.MarkRunning()
	e.startBody(ent)
	e.log.Debug("task started", "task_id", id, "name", in.Name)
	e.publish()
	return id, nil
}

func (e *Executor) register(parentCtx context.Context, node *task.Node) *entry {
	runCtx, cancel := context.WithCancel(parentCtx)
	e.nextGen++
	ent := &entry{
		node:    node,
		gate:    newGate(),
		runCtx:  runCtx,
		cancel:  cancel,
		started: time.Now(),
		gen:     e.nextGen,
	}
	e.registry[node.ID()] = ent
	if d := node.Options().Timeout; d > 0 {
		id, gen := node.ID(), ent.gen
		ent.timer = time.AfterFunc(d, func() {
			e.sendAsync(cmdTimeout{id: id, gen: gen})
		})
	}
	e.metrics.recordStarted(e.baseCtx)
	return ent
}

func (e *Executor) startBody(ent *entry) {
	tc := &taskContext{
		ex:     e,
		id:     ent.node.ID(),
		node:   ent.node,
		gate:   ent.gate,
		runCtx: ent.runCtx,
	}
	gen := ent.gen
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := runBody(tc.runCtx, tc.node.Body(), tc)
		e.sendAsync(cmdBodyDone{id: tc.id, gen: gen, err: err})
	}()
}

func (c cmdReport) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok {
		c.reply <- task.ErrCanceled
		return
	}
	if ent.node.Status() == core.StatusCanceled && ent.node.Options().Cancellable {
		c.reply <- task.ErrCanceled
		return
	}
	// A pause that landed after the reporter's own check sends it back to
	// the gate instead of slipping the update through.
	if ent.node.IsPaused() {
		c.reply <- errParked
		return
	}
	ent.node.ApplyProgress(c.progress)
	e.publish()
	c.reply <- nil
}

func (c cmdPushStart) apply(e *Executor) {
	parent, ok := e.registry[c.parentID]
	if !ok || parent.node.Status() == core.StatusCanceled {
		c.reply <- pushStartResult{err: task.ErrCanceled}
		return
	}
	opts := parent.node.Options()
	opts.Timeout = 0 // subtasks share the parent's unit, not its timer
	child := task.NewNode(core.MustNewID(), c.name, opts, c.body, nil)
	ent := e.register(parent.runCtx, child)
	child.MarkRunning()
	parent.node.AppendChild(child)
	if parent.node.IsPaused() {
		child.SetPaused(true)
		ent.gate.shut()
	}
	e.publish()
	c.reply <- pushStartResult{tc: &taskContext{
		ex:     e,
		id:     child.ID(),
		node:   child,
		gate:   ent.gate,
		runCtx: ent.runCtx,
	}}
}

func (c cmdPushFinish) apply(e *Executor) {
	ent, ok := e.registry[c.childID]
	if !ok {
		c.reply <- task.ErrCanceled
		return
	}
	now := time.Now()
	if ent.timer != nil {
		ent.timer.Stop()
	}
	ent.cancel()
	var replyErr error
	switch {
	case c.err == nil:
		e.finishNode(ent, core.StatusCompleted, nil, now)
		e.scheduleSweep()
	case task.Kind(c.err) == task.KindCanceled:
		// Parent cancellation, if any, travels the normal cancel path,
		// never this failure path.
		e.finishNode(ent, core.StatusCanceled, nil, now)
		replyErr = task.ErrCanceled
	default:
		env := task.AsEnvelope(c.err)
		e.finishNode(ent, core.StatusFailed, env, now)
		if parent, ok := e.registry[ent.node.ParentID()]; ok &&
			parent.node.Status() == core.StatusRunning {
			e.finishNode(parent, core.StatusFailed, env, now)
			e.log.Error("subtask failure propagated to parent",
				"task_id", parent.node.ID(), "subtask_id", ent.node.ID(), "error", c.err)
		}
		replyErr = &task.SubtaskError{TaskID: ent.node.ID(), Name: ent.node.Name(), Err: c.err}
	}
	if parent, ok := e.registry[ent.node.ParentID()]; ok {
		parent.node.SetAggregate(task.Aggregate(parent.node.Children()))
	}
	e.publish()
	c.reply <- replyErr
}

func (c cmdBodyDone) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok || ent.gen != c.gen {
		// The run that produced this result is gone; a retry may have
		// reused its id. The current run must not be touched.
		return
	}
	if ent.timer != nil {
		ent.timer.Stop()
	}
	ent.cancel()
	now := time.Now()
	switch {
	case c.err == nil:
		if e.finishNode(ent, core.StatusCompleted, nil, now) {
			e.scheduleSweep()
		}
	case task.Kind(c.err) == task.KindCanceled:
		e.finishNode(ent, core.StatusCanceled, nil, now)
	default:
		if e.finishNode(ent, core.StatusFailed, task.AsEnvelope(c.err), now) {
			e.log.Error("task failed", "task_id", c.id, "error", c.err)
		}
	}
	e.publish()
}

func (c cmdTimeout) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok || ent.gen != c.gen {
		return
	}
	// An explicit cancel (or any other terminal transition) that landed
	// first wins; the timeout never overwrites it.
	if ent.node.Status().IsTerminal() {
		return
	}
	terr := &task.TimeoutError{TaskID: c.id, Timeout: ent.node.Options().Timeout}
	e.finishNode(ent, core.StatusFailed, task.AsEnvelope(terr), time.Now())
	ent.node.SetPaused(false)
	ent.cancel()
	ent.gate.open()
	e.cancelDescendants(ent, time.Now())
	e.log.Warn("task timed out", "task_id", c.id, "timeout", terr.Timeout)
	e.publish()
}

func (c cmdPause) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok || !ent.node.Options().Pausable || ent.node.Status().IsTerminal() {
		return
	}
	for _, x := range e.subtreeEntries(ent) {
		x.node.SetPaused(true)
		x.gate.shut()
	}
	e.publish()
}

func (c cmdResume) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok {
		return
	}
	for _, x := range e.subtreeEntries(ent) {
		x.node.SetPaused(false)
		x.gate.open()
	}
	e.publish()
}

func (c cmdCancel) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok {
		return
	}
	if e.cancelEntry(ent) {
		e.publish()
	}
}

// cancelEntry applies cancel semantics to one entry and its subtree,
// scheduling eviction after the grace window. Reports whether anything
// changed.
func (e *Executor) cancelEntry(ent *entry) bool {
	if !ent.node.Options().Cancellable || ent.node.Status().IsTerminal() {
		return false
	}
	now := time.Now()
	e.finishNode(ent, core.StatusCanceled, nil, now)
	ent.node.SetPaused(false)
	ent.cancel()
	ent.gate.open()
	e.cancelDescendants(ent, now)
	id, gen := ent.node.ID(), ent.gen
	time.AfterFunc(e.cfg.CancelGraceWindow, func() {
		e.sendAsync(cmdEvictCanceled{id: id, gen: gen})
	})
	e.log.Debug("task canceled", "task_id", id)
	return true
}

// cancelDescendants marks still-running descendants Canceled, clears their
// paused flags, and releases their gates.
func (e *Executor) cancelDescendants(root *entry, now time.Time) {
	for _, x := range e.subtreeEntries(root) {
		if x == root {
			continue
		}
		if !x.node.Status().IsTerminal() {
			e.finishNode(x, core.StatusCanceled, nil, now)
		}
		x.node.SetPaused(false)
		x.cancel()
		x.gate.open()
	}
}

func (c cmdEvictCanceled) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok || ent.gen != c.gen {
		return
	}
	// A retry may have replaced the node since the grace window started.
	if ent.node.Status() != core.StatusCanceled {
		return
	}
	e.removeSubtree(ent)
	e.publish()
}

func (c cmdRemove) apply(e *Executor) {
	ent, ok := e.registry[c.id]
	if !ok {
		c.reply <- fmt.Errorf("%w: %s", ErrTaskNotFound, c.id)
		return
	}
	now := time.Now()
	for _, x := range e.subtreeEntries(ent) {
		if !x.node.Status().IsTerminal() {
			e.metrics.recordFinished(e.baseCtx, core.StatusCanceled, now.Sub(x.started))
		}
		x.node.ForceCancel(now)
		if x.timer != nil {
			x.timer.Stop()
		}
		x.cancel()
		x.gate.open()
	}
	e.removeSubtree(ent)
	e.publish()
	c.reply <- nil
}

func (c cmdRetry) apply(e *Executor) {
	// Shutdown may have begun after this command was queued; starting a
	// fresh body now would escape the shutdown wait.
	if e.closing.Load() {
		c.reply <- addResult{err: ErrExecutorClosed}
		return
	}
	ent, ok := e.registry[c.id]
	if !ok || !ent.node.Options().Retryable || !ent.node.Status().IsDismissible() {
		c.reply <- addResult{err: ErrNotRetryable}
		return
	}
	in := TaskInput{
		ID:       ent.node.ID(),
		Name:     ent.node.Name(),
		Options:  ent.node.Options(),
		Metadata: ent.node.Metadata(),
		Body:     ent.node.Body(),
	}
	e.removeSubtree(ent)
	id, err := e.startTask(in)
	if err == nil {
		e.metrics.recordRetried(e.baseCtx)
		e.log.Info("task retried", "task_id", id, "name", in.Name)
	}
	c.reply <- addResult{id: id, err: err}
}

func (c cmdCancelAll) apply(e *Executor) {
	changed := false
	for _, root := range append([]*task.Node(nil), e.roots...) {
		if ent, ok := e.registry[root.ID()]; ok {
			changed = e.cancelEntry(ent) || changed
		}
	}
	if changed {
		e.publish()
	}
	c.reply <- struct{}{}
}

func (c cmdSweep) apply(e *Executor) {
	cutoff := c.cutoff
	changed := false
	for _, root := range append([]*task.Node(nil), e.roots...) {
		ent, ok := e.registry[root.ID()]
		if !ok {
			continue
		}
		if e.sweepable(root, cutoff) {
			e.removeSubtree(ent)
			changed = true
			continue
		}
		changed = e.pruneCompleted(root, cutoff) || changed
	}
	if changed {
		e.publish()
	}
}

func (c cmdAllTasks) apply(e *Executor) {
	out := make([]*task.Snapshot, 0, len(e.roots))
	for _, root := range e.roots {
		out = append(out, root.Snapshot())
	}
	c.reply <- out
}

func (c cmdStop) apply(e *Executor) {
	for _, ent := range e.registry {
		if ent.timer != nil {
			ent.timer.Stop()
		}
		ent.cancel()
		ent.gate.open()
	}
	e.bcast.close()
	close(e.done)
	c.reply <- struct{}{}
}

// -----------------------------------------------------------------------------
// Loop helpers
// -----------------------------------------------------------------------------

// finishNode moves a node to a terminal status, stopping its timer and
// recording metrics exactly once. Reports whether the transition happened.
func (e *Executor) finishNode(ent *entry, status core.StatusType, failure *core.Error, at time.Time) bool {
	if !ent.node.Finish(status, failure, at) {
		return false
	}
	if ent.timer != nil {
		ent.timer.Stop()
	}
	e.metrics.recordFinished(e.baseCtx, status, at.Sub(ent.started))
	return true
}

// subtreeEntries returns the entries of root and all its registered
// descendants, root first.
func (e *Executor) subtreeEntries(root *entry) []*entry {
	out := []*entry{root}
	for i := 0; i < len(out); i++ {
		for _, child := range out[i].node.Children() {
			if ce, ok := e.registry[child.ID()]; ok {
				out = append(out, ce)
			}
		}
	}
	return out
}

// removeSubtree detaches the node from its parent (or the root list) and
// deletes every entry of the subtree from the registry.
func (e *Executor) removeSubtree(ent *entry) {
	id := ent.node.ID()
	if parentID := ent.node.ParentID(); !parentID.IsZero() {
		if parent, ok := e.registry[parentID]; ok {
			parent.node.RemoveChild(id)
		}
	} else {
		for i, root := range e.roots {
			if root.ID() == id {
				e.roots = append(e.roots[:i], e.roots[i+1:]...)
				break
			}
		}
	}
	for _, x := range e.subtreeEntries(ent) {
		if x.timer != nil {
			x.timer.Stop()
		}
		x.cancel()
		x.gate.open()
		delete(e.registry, x.node.ID())
	}
}

// sweepable reports whether a task is ready for eviction: naturally
// Completed before the cutoff, with no Failed or Canceled descendant
// still waiting for manual dismissal.
func (e *Executor) sweepable(n *task.Node, cutoff time.Time) bool {
	if n.Status() != core.StatusCompleted {
		return false
	}
	at := n.CompletedAt()
	return at != nil && at.Before(cutoff) && !hasDismissible(n)
}

func hasDismissible(n *task.Node) bool {
	for _, child := range n.Children() {
		if child.Status().IsDismissible() || hasDismissible(child) {
			return true
		}
	}
	return false
}

// pruneCompleted drops Completed children older than the cutoff, keeping
// Running children and keeping Failed/Canceled children for manual
// dismissal. Recurses into surviving children.
func (e *Executor) pruneCompleted(n *task.Node, cutoff time.Time) bool {
	changed := false
	for _, child := range n.Children() {
		if e.sweepable(child, cutoff) {
			if ce, ok := e.registry[child.ID()]; ok {
				e.removeSubtree(ce)
				changed = true
			}
			continue
		}
		changed = e.pruneCompleted(child, cutoff) || changed
	}
	return changed
}

func (e *Executor) scheduleSweep() {
	const slack = 25 * time.Millisecond
	vis := e.cfg.VisibilityDuration
	time.AfterFunc(vis+slack, func() {
		e.sendAsync(cmdSweep{cutoff: time.Now().Add(-vis)})
	})
}

func (e *Executor) sortRoots() {
	sort.SliceStable(e.roots, func(i, j int) bool {
		return e.roots[i].CreatedAt().Before(e.roots[j].CreatedAt())
	})
}

// publish fans out a fresh full-forest snapshot to every subscriber.
func (e *Executor) publish() {
	g := &task.Graph{
		Tasks:   make([]*task.Snapshot, 0, len(e.roots)),
		TakenAt: time.Now(),
	}
	for _, root := range e.roots {
		g.Tasks = append(g.Tasks, root.Snapshot())
	}
	e.bcast.publish(g)
}
