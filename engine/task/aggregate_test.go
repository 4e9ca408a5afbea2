package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/taskforest/engine/core"
	"github.com/compozy/taskforest/engine/task"
)

func childWithProgress(t *testing.T, v *float64) *task.Node {
	t.Helper()
	n := task.NewNode(core.MustNewID(), "child", task.DefaultOptions(), nil, nil)
	n.MarkRunning()
	if v != nil {
		n.ApplyProgress(task.ProgressValue(*v))
	}
	return n
}

func fraction(v float64) *float64 {
	return &v
}

func TestAggregate(t *testing.T) {
	t.Run("Should return nil for no children", func(t *testing.T) {
		assert.Nil(t, task.Aggregate(nil))
	})
	t.Run("Should average determinate children", func(t *testing.T) {
		children := []*task.Node{
			childWithProgress(t, fraction(0.5)),
			childWithProgress(t, fraction(1.0)),
		}
		got := task.Aggregate(children)
		require.NotNil(t, got)
		assert.InDelta(t, 0.75, *got, 1e-9)
	})
	t.Run("Should treat an indeterminate child as zero", func(t *testing.T) {
		children := []*task.Node{
			childWithProgress(t, nil),
			childWithProgress(t, fraction(0.6)),
		}
		got := task.Aggregate(children)
		require.NotNil(t, got)
		assert.InDelta(t, 0.3, *got, 1e-9)
	})
	t.Run("Should stay indeterminate when every child is indeterminate", func(t *testing.T) {
		children := []*task.Node{
			childWithProgress(t, nil),
			childWithProgress(t, nil),
		}
		assert.Nil(t, task.Aggregate(children))
	})
	t.Run("Should clamp the mean to one", func(t *testing.T) {
		children := []*task.Node{
			childWithProgress(t, fraction(1.0)),
			childWithProgress(t, fraction(1.0)),
		}
		got := task.Aggregate(children)
		require.NotNil(t, got)
		assert.Equal(t, 1.0, *got)
	})
}
