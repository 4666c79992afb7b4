package workflow

import "github.com/google/uuid"

// SystemDefaultCapability tags the fallback suggestion emitted when no
// completed task produced structured fixes.
const SystemDefaultCapability = "system-default"

var defaultSteps = []string{
	"Review the analysis output attached to each completed task",
	"Reproduce the failure locally with the submitted artifacts",
	"Add logging around the suspected failure point and re-run",
	"Re-submit updated artifacts for another analysis pass",
}

// Compile builds the user-facing suggestion list from a finished workflow.
// Only completed tasks contribute. Suggestions appear in the order they are
// discovered while scanning tasks in plan order; confidence ties keep that
// order so output stays deterministic. When no completed task carried
// structured fixes, exactly one generic suggestion is emitted so callers
// never receive zero actionable output.
func Compile(wf *Workflow) []*FixSuggestion {
	inputIDs := wf.InputIDs()
	var suggestions []*FixSuggestion

	for _, t := range wf.Tasks {
		if t.Status != TaskCompleted || t.Result == nil {
			continue
		}
		for _, fix := range t.Result.Fixes {
			suggestions = append(suggestions, &FixSuggestion{
				ID:                   uuid.NewString(),
				Title:                fix.Title,
				Description:          fix.Description,
				Confidence:           clampConfidence(fix.Confidence),
				Type:                 fix.Type,
				OriginalCode:         fix.OriginalCode,
				SuggestedCode:        fix.SuggestedCode,
				Steps:                fix.Steps,
				Rationale:            fix.Rationale,
				DocumentationRefs:    fix.DocumentationRefs,
				RelatedInputIDs:      inputIDs,
				ProducedByCapability: t.CapabilityID,
			})
		}
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, &FixSuggestion{
			ID:                   uuid.NewString(),
			Title:                "Manual investigation needed",
			Description:          "Automated analysis did not yield a concrete fix. Follow the generic remediation steps to narrow down the cause.",
			Confidence:           60,
			Type:                 "code_fix",
			Steps:                append([]string(nil), defaultSteps...),
			Rationale:            "No completed task produced structured fixes for this input set.",
			RelatedInputIDs:      inputIDs,
			ProducedByCapability: SystemDefaultCapability,
		})
	}

	return suggestions
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
