package workflow

import (
	"fmt"
	"time"

	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/input"
)

// routeKind maps an input kind to the task type and capability that should
// analyze it. Kinds with no analyzer yield ok=false and are skipped.
func routeKind(kind input.Kind) (capability.TaskType, string, bool) {
	switch kind {
	case input.KindLogs, input.KindErrorTrace:
		return capability.TaskErrorExtraction, capability.CapErrorExtractor, true
	case input.KindCode:
		return capability.TaskCodeAnalysis, capability.CapCodeAnalyzer, true
	case input.KindScreenshot, input.KindDiagram:
		return capability.TaskMultimodalAnalysis, capability.CapMultimodalAnalyzer, true
	default:
		return "", "", false
	}
}

// Plan maps an ordered input sequence into an ordered task list. Routing is
// deterministic and order-preserving: one task per routable input, then a
// single documentation_search over the whole set when any per-input task was
// emitted, then always a trailing fix_generation over the whole set so every
// run yields at least one suggestion. Planning never fails.
func Plan(inputs []*input.DebugInput) []*Task {
	now := time.Now()
	var tasks []*Task

	next := func(taskType capability.TaskType, capID string, ins []*input.DebugInput) *Task {
		return &Task{
			ID:           fmt.Sprintf("task-%d", len(tasks)+1),
			CapabilityID: capID,
			Type:         taskType,
			Inputs:       ins,
			Status:       TaskPending,
			CreatedAt:    now,
		}
	}

	for _, in := range inputs {
		taskType, capID, ok := routeKind(in.Kind)
		if !ok {
			continue
		}
		tasks = append(tasks, next(taskType, capID, []*input.DebugInput{in}))
	}

	if len(tasks) > 0 {
		tasks = append(tasks, next(capability.TaskDocumentationSearch, capability.CapDocRetriever, inputs))
	}
	tasks = append(tasks, next(capability.TaskFixGeneration, capability.CapFixGenerator, inputs))

	return tasks
}
