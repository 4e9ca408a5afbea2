package task

// placeholderStep is the step name used by indeterminate updates that carry
// no caller-supplied label. It is never stored on a node.
const placeholderStep = "…"

// Progress is the value a task body reports through its context. Name is an
// optional free-text phase label; Completeness is a fraction in [0,1] or nil
// for indeterminate progress.
type Progress struct {
	Name         string   `json:"name,omitempty"`
	Completeness *float64 `json:"completeness,omitempty"`
}

// NamedProgress returns an indeterminate update carrying only a step label.
func NamedProgress(name string) Progress {
	return Progress{Name: name}
}

// ProgressValue returns an update carrying a numeric completeness fraction.
// Values outside [0,1] are clamped when applied, not rejected.
func ProgressValue(v float64) Progress {
	return Progress{Completeness: &v}
}

// StepProgress returns an update for step current out of total, e.g.
// StepProgress(3, 5) reports 0.6.
func StepProgress(current, total int) Progress {
	if total <= 0 {
		return IndeterminateProgress("")
	}
	v := float64(current) / float64(total)
	return Progress{Completeness: &v}
}

// CompletedProgress returns an update reporting full completeness.
func CompletedProgress() Progress {
	return ProgressValue(1)
}

// IndeterminateProgress returns an update with no numeric completeness.
// An empty name yields a placeholder label that is not stored on the node.
func IndeterminateProgress(name string) Progress {
	if name == "" {
		name = placeholderStep
	}
	return Progress{Name: name}
}

// WithName returns a copy of p carrying the given step label.
func (p Progress) WithName(name string) Progress {
	p.Name = name
	return p
}

// WithValue returns a copy of p carrying the given completeness fraction.
func (p Progress) WithValue(v float64) Progress {
	p.Completeness = &v
	return p
}

// Indeterminate reports whether p carries no numeric completeness.
func (p Progress) Indeterminate() bool {
	return p.Completeness == nil
}

// HasStepName reports whether p carries a step label worth storing.
func (p Progress) HasStepName() bool {
	return p.Name != "" && p.Name != placeholderStep
}

// ClampFraction clamps v to [0,1]. Out-of-range reports are a deliberate
// leniency, not a validation error.
func ClampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
