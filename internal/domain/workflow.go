package domain

import "time"

// Step is one delegated task inside a workflow. DependsOn lists indices of
// earlier steps that must reach a terminal state before this step starts.
type Step struct {
	Agent     string `yaml:"agent" json:"agent"`
	Task      string `yaml:"task" json:"task"`
	DependsOn []int  `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// WorkflowSpec is an ordered list of steps forming a DAG. Request-scoped:
// built per invocation and discarded after the result is returned.
type WorkflowSpec struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// StepStatus is the terminal (or pending) state of one workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"   // a dependency failed or was skipped
	StepCancelled StepStatus = "cancelled" // workflow deadline expired before start
)

// Terminal reports whether the status is a terminal state.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// WorkflowStatus summarizes a whole workflow run.
type WorkflowStatus string

const (
	WorkflowCompleted WorkflowStatus = "completed" // every step completed
	WorkflowPartial   WorkflowStatus = "partial"   // mix of completed/failed/skipped
	WorkflowFailed    WorkflowStatus = "failed"    // the first runnable step failed
)

// StepResult is the outcome of one step. Duration is recorded for
// observability only and never drives control flow.
type StepResult struct {
	Index    int           `json:"index"`
	Agent    string        `json:"agent"`
	Status   StepStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// WorkflowResult aggregates per-step outcomes and total wall-clock duration.
type WorkflowResult struct {
	ID       string         `json:"id"`
	Status   WorkflowStatus `json:"status"`
	Steps    []StepResult   `json:"steps"`
	Duration time.Duration  `json:"duration"`
}

// FallbackResult is the outcome of a fallback chain: the winning agent's
// output plus every failed attempt that preceded it, for diagnostics.
type FallbackResult struct {
	Agent    string            `json:"agent"`
	Output   string            `json:"output"`
	Attempts []FallbackAttempt `json:"-"`
	Duration time.Duration     `json:"duration"`
}
