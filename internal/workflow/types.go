package workflow

import (
	"fmt"
	"time"

	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/input"
)

// TaskStatus tracks a task's execution state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// validTransitions defines allowed task state transitions.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskRunning},
	TaskRunning: {TaskCompleted, TaskFailed},
}

// Transition validates and returns nil if from→to is a legal transition.
func Transition(from, to TaskStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q → %q", from, to)
}

// Status tracks a workflow's aggregate state.
type Status string

const (
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the workflow has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one planned invocation of a capability. Created by the planner,
// mutated only by the executor, never deleted during a run — failed tasks
// stay visible for diagnostics.
type Task struct {
	ID           string              `json:"id"`
	CapabilityID string              `json:"capability_id"`
	Type         capability.TaskType `json:"type"`
	Inputs       []*input.DebugInput `json:"inputs"`
	Status       TaskStatus          `json:"status"`
	Result       *capability.Result  `json:"result,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// FixSuggestion is a compiled, user-facing remediation. Immutable once
// created; consumed individually when a client applies or discards it.
type FixSuggestion struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Confidence           int      `json:"confidence"`
	Type                 string   `json:"type"`
	OriginalCode         string   `json:"original_code,omitempty"`
	SuggestedCode        string   `json:"suggested_code,omitempty"`
	Steps                []string `json:"steps,omitempty"`
	Rationale            string   `json:"rationale,omitempty"`
	DocumentationRefs    []string `json:"documentation_refs,omitempty"`
	RelatedInputIDs      []string `json:"related_input_ids"`
	ProducedByCapability string   `json:"produced_by_capability"`
}

// Workflow is the aggregate run over a batch of inputs. Exclusively owned
// by its executor goroutine while running; read-only once terminal. Readers
// always get snapshot copies through the store.
type Workflow struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"session_id,omitempty"`
	Inputs      []*input.DebugInput `json:"inputs"`
	Tasks       []*Task             `json:"tasks"`
	Suggestions []*FixSuggestion    `json:"suggestions"`
	Status      Status              `json:"status"`
	Progress    float64             `json:"progress"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Clone returns a snapshot deep enough for concurrent readers: tasks and
// suggestions are copied by value, inputs are shared because they are
// immutable.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Inputs = append([]*input.DebugInput(nil), w.Inputs...)
	cp.Tasks = make([]*Task, len(w.Tasks))
	for i, t := range w.Tasks {
		tc := *t
		cp.Tasks[i] = &tc
	}
	cp.Suggestions = make([]*FixSuggestion, len(w.Suggestions))
	for i, s := range w.Suggestions {
		sc := *s
		cp.Suggestions[i] = &sc
	}
	return &cp
}

// InputIDs returns the ids of all workflow inputs in order.
func (w *Workflow) InputIDs() []string {
	ids := make([]string, len(w.Inputs))
	for i, in := range w.Inputs {
		ids[i] = in.ID
	}
	return ids
}

// CompletedTasks counts tasks that finished successfully.
func (w *Workflow) CompletedTasks() int {
	n := 0
	for _, t := range w.Tasks {
		if t.Status == TaskCompleted {
			n++
		}
	}
	return n
}

// FailedTasks counts tasks that reached a failure state.
func (w *Workflow) FailedTasks() int {
	n := 0
	for _, t := range w.Tasks {
		if t.Status == TaskFailed {
			n++
		}
	}
	return n
}

// CapabilitiesUsed returns the distinct capability ids across all tasks, in
// first-use order.
func (w *Workflow) CapabilitiesUsed() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range w.Tasks {
		if !seen[t.CapabilityID] {
			seen[t.CapabilityID] = true
			out = append(out, t.CapabilityID)
		}
	}
	return out
}
