package capability

import (
	"context"
	"fmt"

	"github.com/nidhogg/bugsmith/internal/input"
)

// TaskType names one analytical function a capability can perform.
type TaskType string

const (
	TaskErrorExtraction     TaskType = "error_extraction"
	TaskCodeAnalysis        TaskType = "code_analysis"
	TaskDocumentationSearch TaskType = "documentation_search"
	TaskFixGeneration       TaskType = "fix_generation"
	TaskMultimodalAnalysis  TaskType = "multimodal_analysis"
)

// Well-known capability ids.
const (
	CapErrorExtractor     = "error-extractor"
	CapCodeAnalyzer       = "code-analyzer"
	CapDocRetriever       = "doc-retriever"
	CapFixGenerator       = "fix-generator"
	CapMultimodalAnalyzer = "multimodal-analyzer"
)

// Capability is a named, stateless analysis collaborator. Implementations
// are read-only with respect to workflow state and must be safe for
// concurrent invocation.
type Capability interface {
	ID() string
	Name() string
	Description() string
	TaskTypes() []TaskType
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// Request carries everything a capability needs for one invocation.
type Request struct {
	TaskType TaskType
	Inputs   []*input.DebugInput
	// Prior holds results from tasks that already completed in the same
	// workflow. Fix generation and documentation search use it for context;
	// other task types ignore it.
	Prior []PriorResult
}

// PriorResult pairs a completed result with the capability that produced it.
type PriorResult struct {
	CapabilityID string
	TaskType     TaskType
	Result       *Result
}

// Result is the tagged union of capability outputs. Exactly one of the
// per-task-type slices is populated for a structured result; Raw carries the
// unparsed capability output when structure could not be recovered. Err is
// set instead of any payload when the invocation itself failed.
type Result struct {
	TaskType TaskType `json:"task_type"`

	Errors        []ErrorFinding `json:"errors,omitempty"`
	CodeIssues    []CodeIssue    `json:"code_issues,omitempty"`
	ImageFindings []ImageFinding `json:"image_findings,omitempty"`
	DocRefs       []DocRef       `json:"doc_refs,omitempty"`
	Fixes         []Fix          `json:"fixes,omitempty"`

	Raw string           `json:"raw,omitempty"`
	Err *CapabilityError `json:"error,omitempty"`
}

// Structured reports whether the result carries typed findings rather than
// just raw text.
func (r *Result) Structured() bool {
	return len(r.Errors) > 0 || len(r.CodeIssues) > 0 || len(r.ImageFindings) > 0 ||
		len(r.DocRefs) > 0 || len(r.Fixes) > 0
}

// ErrorFinding is one error extracted from logs or a stack trace.
type ErrorFinding struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	RootCause string `json:"root_cause,omitempty"`
	Component string `json:"component,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// CodeIssue is one problem found by static code analysis.
type CodeIssue struct {
	Category     string `json:"category"`
	Line         int    `json:"line,omitempty"`
	Description  string `json:"description"`
	Snippet      string `json:"snippet,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
	Rationale    string `json:"rationale,omitempty"`
	Severity     string `json:"severity,omitempty"`
}

// ImageFinding is one issue detected in a screenshot or diagram.
type ImageFinding struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Severity    string  `json:"severity,omitempty"`
	Location    string  `json:"location,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// DocRef points at an external documentation resource.
type DocRef struct {
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Source string  `json:"source,omitempty"`
	Score  float32 `json:"score,omitempty"`
}

// Fix is one remediation proposed by fix generation.
type Fix struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Confidence        int      `json:"confidence"`
	Type              string   `json:"type"`
	OriginalCode      string   `json:"original_code,omitempty"`
	SuggestedCode     string   `json:"suggested_code,omitempty"`
	Steps             []string `json:"steps,omitempty"`
	Rationale         string   `json:"rationale,omitempty"`
	DocumentationRefs []string `json:"documentation_refs,omitempty"`
}

// Error codes recorded on failed invocations.
const (
	ErrCodeTimeout            = "timeout"
	ErrCodeMalformedResponse  = "malformed_response"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeGatewayUnavailable = "gateway_unavailable"
	ErrCodeUnsupported        = "unsupported_task_type"
)

// CapabilityError describes a failed capability invocation. It is recorded
// on the task and never escalates beyond the task level.
type CapabilityError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResult wraps a CapabilityError as a tagged Result for the given task
// type.
func ErrorResult(taskType TaskType, code, msg string) *Result {
	return &Result{
		TaskType: taskType,
		Err:      &CapabilityError{Code: code, Message: msg},
	}
}
