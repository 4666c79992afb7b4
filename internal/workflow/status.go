package workflow

import (
	"context"
	"time"
)

// TaskView is the polling-facing projection of a task.
type TaskView struct {
	ID           string     `json:"id"`
	CapabilityID string     `json:"capability_id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusView is the intermediate polling projection of a workflow.
type StatusView struct {
	WorkflowID string     `json:"workflow_id"`
	Status     string     `json:"status"`
	Progress   float64    `json:"progress"`
	Tasks      []TaskView `json:"tasks"`
}

// Summary aggregates task counts for the suggestions response.
type Summary struct {
	TotalTasks       int      `json:"total_tasks"`
	CompletedTasks   int      `json:"completed_tasks"`
	FailedTasks      int      `json:"failed_tasks"`
	CapabilitiesUsed []string `json:"capabilities_used"`
}

// SuggestionsView is the terminal polling projection. Before the workflow is
// terminal it carries status "analyzing" and an empty suggestion list.
type SuggestionsView struct {
	WorkflowID  string           `json:"workflow_id"`
	Status      string           `json:"status"`
	Suggestions []*FixSuggestion `json:"suggestions"`
	Summary     Summary          `json:"summary"`
}

// StatusService answers idempotent polling reads over the store.
type StatusService struct {
	store Store
}

// NewStatusService wraps a store for read access.
func NewStatusService(store Store) *StatusService {
	return &StatusService{store: store}
}

// Status returns the current task-level view of a workflow. Unknown ids fail
// with ErrNotFound.
func (s *StatusService) Status(ctx context.Context, id string) (*StatusView, error) {
	wf, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		WorkflowID: wf.ID,
		Status:     string(wf.Status),
		Progress:   wf.Progress,
		Tasks:      make([]TaskView, len(wf.Tasks)),
	}
	for i, t := range wf.Tasks {
		view.Tasks[i] = TaskView{
			ID:           t.ID,
			CapabilityID: t.CapabilityID,
			Type:         string(t.Type),
			Status:       string(t.Status),
			Error:        t.Error,
			StartedAt:    t.StartedAt,
			CompletedAt:  t.CompletedAt,
		}
	}
	return view, nil
}

// Suggestions returns the compiled suggestions once the workflow is
// terminal. For a still-running workflow it returns an empty list with
// status analyzing rather than an error.
func (s *StatusService) Suggestions(ctx context.Context, id string) (*SuggestionsView, error) {
	wf, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &SuggestionsView{
		WorkflowID:  wf.ID,
		Status:      string(wf.Status),
		Suggestions: []*FixSuggestion{},
		Summary: Summary{
			TotalTasks:       len(wf.Tasks),
			CompletedTasks:   wf.CompletedTasks(),
			FailedTasks:      wf.FailedTasks(),
			CapabilitiesUsed: wf.CapabilitiesUsed(),
		},
	}
	if wf.Status.Terminal() {
		view.Suggestions = wf.Suggestions
	}
	return view, nil
}
