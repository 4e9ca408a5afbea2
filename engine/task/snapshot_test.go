package task_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/taskforest/engine/core"
	"github.com/compozy/taskforest/engine/task"
)

func TestSnapshot(t *testing.T) {
	t.Run("Should deep-copy the subtree", func(t *testing.T) {
		parent := task.NewNode(core.MustNewID(), "parent", task.DefaultOptions(), nil,
			map[string]any{"source": "unit"})
		parent.MarkRunning()
		child := task.NewNode(core.MustNewID(), "child", task.DefaultOptions(), nil, nil)
		child.MarkRunning()
		parent.AppendChild(child)
		snap := parent.Snapshot()
		require.Len(t, snap.Children, 1)
		assert.Equal(t, child.ID(), snap.Children[0].ID)

		// mutating the live node must not leak into the snapshot
		child.ApplyProgress(task.ProgressValue(0.9))
		parent.Metadata()["source"] = "mutated"
		assert.Nil(t, snap.Children[0].Completeness)
		assert.Equal(t, "unit", snap.Metadata["source"])
	})
	t.Run("Should find nodes by id", func(t *testing.T) {
		parent := task.NewNode(core.MustNewID(), "parent", task.DefaultOptions(), nil, nil)
		child := task.NewNode(core.MustNewID(), "child", task.DefaultOptions(), nil, nil)
		parent.AppendChild(child)
		snap := parent.Snapshot()
		require.NotNil(t, snap.Find(child.ID()))
		assert.Nil(t, snap.Find(core.ID("missing")))
	})
}

func TestSnapshotHashes(t *testing.T) {
	t.Run("Should keep the identity hash stable across progress", func(t *testing.T) {
		n := task.NewNode(core.MustNewID(), "Import", task.DefaultOptions(), nil, nil)
		n.MarkRunning()
		before := n.Snapshot().IdentityHash()
		n.ApplyProgress(task.ProgressValue(0.7))
		after := n.Snapshot().IdentityHash()
		assert.Equal(t, before, after)
	})
	t.Run("Should change the state hash on progress", func(t *testing.T) {
		n := task.NewNode(core.MustNewID(), "Import", task.DefaultOptions(), nil, nil)
		n.MarkRunning()
		before := n.Snapshot().StateHash()
		n.ApplyProgress(task.ProgressValue(0.7))
		after := n.Snapshot().StateHash()
		assert.NotEqual(t, before, after)
	})
	t.Run("Should change the state hash on descendant changes", func(t *testing.T) {
		parent := task.NewNode(core.MustNewID(), "parent", task.DefaultOptions(), nil, nil)
		parent.MarkRunning()
		child := task.NewNode(core.MustNewID(), "child", task.DefaultOptions(), nil, nil)
		child.MarkRunning()
		parent.AppendChild(child)
		before := parent.Snapshot().StateHash()
		child.Finish(core.StatusCompleted, nil, time.Now())
		after := parent.Snapshot().StateHash()
		assert.NotEqual(t, before, after)
	})
	t.Run("Should consider equal snapshots equal", func(t *testing.T) {
		n := task.NewNode(core.MustNewID(), "Import", task.DefaultOptions(), nil, nil)
		n.MarkRunning()
		n.ApplyProgress(task.ProgressValue(0.5))
		a := n.Snapshot()
		b := n.Snapshot()
		assert.True(t, a.Equal(b))
	})
}
