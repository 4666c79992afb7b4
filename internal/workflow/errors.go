package workflow

import "errors"

var (
	// ErrEmptyInput is returned when analysis is requested with no buffered
	// inputs.
	ErrEmptyInput = errors.New("workflow: no inputs to analyze")

	// ErrNotFound is returned when a workflow or suggestion id resolves to
	// nothing.
	ErrNotFound = errors.New("workflow: not found")

	// ErrPollingTimeout is returned by WaitTerminal when a workflow does not
	// reach a terminal state within the attempt budget.
	ErrPollingTimeout = errors.New("workflow: polling timed out before terminal state")
)
