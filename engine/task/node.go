package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/compozy/taskforest/engine/core"
)

// Reporter is the only surface a task body may use to talk to the system:
// reporting progress and spawning nested subtasks. The executor's task
// context implements it.
type Reporter interface {
	// Report applies a progress update. It blocks while the task is paused
	// and fails with ErrCanceled once the task has been canceled.
	Report(ctx context.Context, p Progress) error
	// Push runs body as a subtask of the current task and does not return
	// until the subtask finishes. The subtask's failure is re-raised.
	Push(ctx context.Context, name string, body Body) error
}

// Body is a task closure. It is retained on the node so a retry can
// reconstruct an equivalent run.
type Body func(ctx context.Context, rep Reporter) error

// Node is the mutable record of one task. The executor's command loop is
// the only writer of tree shape (children, parent); scalar fields may be
// read from any goroutine under the per-node lock, and are written only by
// the command loop or, for progress fields, by the owning body's Report.
type Node struct {
	mu           sync.RWMutex
	id           core.ID
	name         string
	stepName     string
	completeness *float64 // nil means indeterminate
	status       core.StatusType
	failure      *core.Error
	opts         Options
	paused       bool
	createdAt    time.Time
	completedAt  *time.Time
	metadata     map[string]any
	parentID     core.ID
	children     []*Node
	body         Body
}

// NewNode creates a Pending node.
func NewNode(id core.ID, name string, opts Options, body Body, metadata map[string]any) *Node {
	return &Node{
		id:        id,
		name:      name,
		status:    core.StatusPending,
		opts:      opts,
		createdAt: time.Now(),
		metadata:  metadata,
		body:      body,
	}
}

func (n *Node) ID() core.ID {
	return n.id
}

func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

func (n *Node) StepName() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stepName
}

// Completeness returns the current fraction or nil when indeterminate.
func (n *Node) Completeness() *float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.completeness == nil {
		return nil
	}
	v := *n.completeness
	return &v
}

func (n *Node) Status() core.StatusType {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

func (n *Node) Failure() *core.Error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failure
}

func (n *Node) Options() Options {
	return n.opts
}

func (n *Node) IsPaused() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.paused
}

func (n *Node) CreatedAt() time.Time {
	return n.createdAt
}

func (n *Node) CompletedAt() *time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.completedAt == nil {
		return nil
	}
	t := *n.completedAt
	return &t
}

func (n *Node) ParentID() core.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parentID
}

// Body returns the retained task closure used by retry.
func (n *Node) Body() Body {
	return n.body
}

// Metadata returns the live metadata map. Callers outside the command loop
// must go through Snapshot instead.
func (n *Node) Metadata() map[string]any {
	return n.metadata
}

// ApplyProgress stores a progress update: a meaningful step label replaces
// the current one, a numeric completeness is clamped to [0,1].
func (n *Node) ApplyProgress(p Progress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p.HasStepName() {
		n.stepName = p.Name
	}
	if p.Completeness != nil {
		v := ClampFraction(*p.Completeness)
		n.completeness = &v
	}
}

// MarkRunning flips a Pending node to Running.
func (n *Node) MarkRunning() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status == core.StatusPending {
		n.status = core.StatusRunning
	}
}

// Finish moves the node to a terminal status. A node already terminal is
// left untouched so a late completion can never downgrade a cancel or a
// timeout verdict.
func (n *Node) Finish(status core.StatusType, failure *core.Error, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.IsTerminal() {
		return false
	}
	n.status = status
	n.failure = failure
	n.completedAt = &at
	if status == core.StatusCompleted {
		one := 1.0
		n.completeness = &one
	}
	return true
}

// ForceCancel unconditionally moves the node to Canceled, bypassing the
// terminal-status guard. Used by remove, which must always win.
func (n *Node) ForceCancel(at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.status.IsTerminal() {
		n.completedAt = &at
	}
	n.status = core.StatusCanceled
	n.paused = false
}

func (n *Node) SetPaused(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = v
}

// SetAggregate overwrites the completeness with the aggregator's result.
func (n *Node) SetAggregate(v *float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completeness = v
}

func (n *Node) SetParentID(id core.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parentID = id
}

// Children returns a copy of the child list in creation order. Only the
// command loop may mutate the underlying list.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// AppendChild transfers ownership of child to n and re-sorts the list by
// creation time.
func (n *Node) AppendChild(child *Node) {
	child.SetParentID(n.id)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, child)
	sort.SliceStable(n.children, func(i, j int) bool {
		return n.children[i].createdAt.Before(n.children[j].createdAt)
	})
}

// RemoveChild detaches the child with the given id, reporting whether it
// was present.
func (n *Node) RemoveChild(id core.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c.id == id {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}
