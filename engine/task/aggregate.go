package task

// Aggregate recomputes a parent's completeness from its children. Each
// child contributes its own fraction, an indeterminate child contributes 0.
// When every child is indeterminate the parent itself becomes indeterminate
// (nil), not 0. Invoked by the executor only when a child reaches a
// terminal state, never on intermediate updates.
func Aggregate(children []*Node) *float64 {
	if len(children) == 0 {
		return nil
	}
	sum := 0.0
	determinate := 0
	for _, c := range children {
		if v := c.Completeness(); v != nil {
			sum += *v
			determinate++
		}
	}
	if determinate == 0 {
		return nil
	}
	mean := ClampFraction(sum / float64(len(children)))
	return &mean
}
