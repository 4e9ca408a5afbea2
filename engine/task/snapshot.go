package task

import (
	"time"

	"github.com/compozy/taskforest/engine/core"
)

// Snapshot is an immutable, recursively-copied view of one node at a
// specific instant, safe for external consumption and serialization.
type Snapshot struct {
	ID           core.ID         `json:"id"`
	Name         string          `json:"name"`
	StepName     string          `json:"step_name,omitempty"`
	Completeness *float64        `json:"completeness,omitempty"` // nil means indeterminate
	Status       core.StatusType `json:"status"`
	Error        *core.Error     `json:"error,omitempty"`
	Options      Options         `json:"options"`
	Paused       bool            `json:"is_paused"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Children     []*Snapshot     `json:"children,omitempty"`
}

// Graph is a point-in-time copy of the whole forest, top-level tasks in
// creation order.
type Graph struct {
	Tasks   []*Snapshot `json:"tasks"`
	TakenAt time.Time   `json:"taken_at"`
}

// Snapshot deep-copies the node and all its descendants.
func (n *Node) Snapshot() *Snapshot {
	meta, err := core.DeepCopyMap(n.Metadata())
	if err != nil {
		meta = nil
	}
	s := &Snapshot{
		ID:           n.ID(),
		Name:         n.Name(),
		StepName:     n.StepName(),
		Completeness: n.Completeness(),
		Status:       n.Status(),
		Error:        n.Failure(),
		Options:      n.Options(),
		Paused:       n.IsPaused(),
		CreatedAt:    n.CreatedAt(),
		CompletedAt:  n.CompletedAt(),
		Metadata:     meta,
	}
	children := n.Children()
	if len(children) > 0 {
		s.Children = make([]*Snapshot, 0, len(children))
		for _, c := range children {
			s.Children = append(s.Children, c.Snapshot())
		}
	}
	return s
}

// IdentityHash fingerprints who the task is, independent of its progress.
func (s *Snapshot) IdentityHash() string {
	return core.HashOf(map[string]any{
		"id":   s.ID.String(),
		"name": s.Name,
	})
}

// StateHash fingerprints every progress-affecting field of the snapshot and
// all its descendants. Two snapshots are equal iff their state hashes match.
func (s *Snapshot) StateHash() string {
	return core.HashOf(s.stateDigest())
}

func (s *Snapshot) stateDigest() map[string]any {
	d := map[string]any{
		"id":        s.ID.String(),
		"name":      s.Name,
		"step_name": s.StepName,
		"status":    s.Status.String(),
		"is_paused": s.Paused,
	}
	if s.Completeness != nil {
		d["completeness"] = *s.Completeness
	}
	if s.Error != nil {
		d["error_code"] = s.Error.Code
		d["error_message"] = s.Error.Message
	}
	if len(s.Children) > 0 {
		children := make([]any, 0, len(s.Children))
		for _, c := range s.Children {
			children = append(children, c.stateDigest())
		}
		d["children"] = children
	}
	return d
}

// Equal reports whether two snapshots match on every progress-affecting
// field, descendants included.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.StateHash() == other.StateHash()
}

// Find returns the snapshot with the given id in the subtree rooted at s.
func (s *Snapshot) Find(id core.ID) *Snapshot {
	if s.ID == id {
		return s
	}
	for _, c := range s.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Find returns the snapshot with the given id anywhere in the forest.
func (g *Graph) Find(id core.ID) *Snapshot {
	for _, t := range g.Tasks {
		if found := t.Find(id); found != nil {
			return found
		}
	}
	return nil
}
