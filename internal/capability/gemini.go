package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nidhogg/bugsmith/internal/input"
	"go.uber.org/zap"
)

// GeminiConfig holds connection settings for the Gemini generateContent API.
type GeminiConfig struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Gemini implements Capability against Google's Gemini API. One instance
// serves a single capability id; the prompt is chosen by task type.
type Gemini struct {
	id     string
	desc   descriptor
	config GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGemini creates a Gemini-backed capability for the given id.
func NewGemini(id string, cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Gemini{
		id:     id,
		desc:   describe(id),
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (g *Gemini) ID() string            { return g.id }
func (g *Gemini) Name() string          { return g.desc.Name }
func (g *Gemini) Description() string   { return g.desc.Description }
func (g *Gemini) TaskTypes() []TaskType { return g.desc.TaskTypes }

// Invoke builds the task-type request parts, calls the API, and parses the
// reply into a structured Result. Multimodal requests over uploaded images
// carry the image bytes inline; everything else is a single text part.
// Unparseable model output becomes a raw-fallback Result rather than an
// error.
func (g *Gemini) Invoke(ctx context.Context, req *Request) (*Result, error) {
	parts, err := g.buildParts(req)
	if err != nil {
		return nil, err
	}

	text, err := g.generate(ctx, parts)
	if err != nil {
		return nil, err
	}
	return parseResult(req.TaskType, text), nil
}

// Gemini wire types.
type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// generate sends one request and returns the first candidate's text.
func (g *Gemini) generate(ctx context.Context, parts []geminiPart) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenConfig{
			Temperature:     0.3,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 2048,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.config.Endpoint, g.config.Model, g.config.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// buildParts assembles the request parts for a task. Uploaded images become
// a text prompt plus an inline_data part with the base64 image; every other
// task is a single text part.
func (g *Gemini) buildParts(req *Request) ([]geminiPart, error) {
	if len(req.Inputs) == 0 && req.TaskType != TaskFixGeneration {
		return nil, fmt.Errorf("no inputs for %s", req.TaskType)
	}

	if req.TaskType == TaskMultimodalAnalysis {
		in := req.Inputs[0]
		if mime := imageMIME(in); in.IsFile() && mime != "" {
			data, err := os.ReadFile(in.FileRef)
			if err != nil {
				return nil, fmt.Errorf("read image %s: %w", in.FileRef, err)
			}
			prompt := fmt.Sprintf(`Analyze this %s for visual bugs, layout problems, and UI issues.

Reply with only valid JSON in this exact shape:
{"findings":[{"type":"...","description":"...","severity":"high|medium|low","location":"...","confidence":0.8}]}`, in.Kind)
			return []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{
					MIMEType: mime,
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
			}, nil
		}
	}

	prompt, err := g.buildPrompt(req)
	if err != nil {
		return nil, err
	}
	return []geminiPart{{Text: prompt}}, nil
}

// imageMIME returns the input's image MIME type, or "" when the input is not
// a raster image the vision API accepts. SVG and diagram sources stay on the
// text path.
func imageMIME(in *input.DebugInput) string {
	mime := in.Metadata["content_type"]
	switch mime {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return mime
	}
	name := in.Metadata["filename"]
	if name == "" {
		name = in.FileRef
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return ""
}

func (g *Gemini) buildPrompt(req *Request) (string, error) {
	switch req.TaskType {
	case TaskErrorExtraction:
		content := readContent(req.Inputs[0])
		return fmt.Sprintf(`Analyze the following %s and extract all errors, warnings, and issues.

Content:
%s

Reply with only valid JSON in this exact shape:
{"errors":[{"type":"...","severity":"critical|high|medium|low","root_cause":"...","component":"...","snippet":"..."}]}`,
			req.Inputs[0].Kind, content), nil

	case TaskCodeAnalysis:
		content := truncate(readContent(req.Inputs[0]), 1500)
		return fmt.Sprintf(`Analyze this code and report specific issues.

Code:
`+"```"+`
%s
`+"```"+`

Reply with only a valid JSON array in this exact shape:
[{"type":"syntax_error|logic_error|performance|security|best_practice","line":1,"description":"...","original_code":"...","fixed_code":"...","rationale":"...","severity":"high|medium|low"}]

Find 2-5 specific issues. Focus on actual problems in the code.`, content), nil

	case TaskMultimodalAnalysis:
		// Raster images were handled in buildParts; what reaches this point
		// is a text description or a text-based diagram source.
		in := req.Inputs[0]
		return fmt.Sprintf(`Analyze this %s for architectural and visual issues:

%s

Reply with only valid JSON in this exact shape:
{"findings":[{"type":"...","description":"...","severity":"high|medium|low","location":"...","confidence":0.8}]}`,
			in.Kind, truncate(readContent(in), 1500)), nil

	case TaskDocumentationSearch:
		var ctxParts []string
		for _, in := range req.Inputs {
			ctxParts = append(ctxParts, fmt.Sprintf("%s: %s", in.Kind, truncate(readContent(in), 500)))
		}
		return fmt.Sprintf(`Based on the following errors and issues, suggest relevant documentation and resources:

Context:
%s

Reply with only valid JSON in this exact shape:
{"references":[{"title":"...","url":"...","source":"official_docs|stack_overflow|github|tutorial"}]}

Focus on actionable, current resources.`, strings.Join(ctxParts, "\n")), nil

	case TaskFixGeneration:
		findings, err := json.MarshalIndent(priorSummary(req.Prior), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal prior results: %w", err)
		}
		return fmt.Sprintf(`Based on the following analysis results from multiple agents, generate specific, actionable fixes:

Analysis Results:
%s

Reply with only valid JSON in this exact shape:
{"fixes":[{"title":"...","description":"...","confidence":80,"type":"code_fix|configuration|dependency|architecture","original_code":"...","suggested_code":"...","steps":["..."],"rationale":"...","documentation_refs":["..."]}]}

For each fix include root cause, step-by-step instructions, and before/after code when applicable.`, findings), nil

	default:
		return "", fmt.Errorf("unsupported task type %s", req.TaskType)
	}
}

// priorSummary flattens prior results into a prompt-friendly structure.
func priorSummary(prior []PriorResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(prior))
	for _, p := range prior {
		out = append(out, map[string]interface{}{
			"capability": p.CapabilityID,
			"task_type":  p.TaskType,
			"result":     p.Result,
		})
	}
	return out
}

// parseResult decodes model output into the task type's structured form,
// falling back to a raw result when the output is not the requested JSON.
func parseResult(t TaskType, text string) *Result {
	payload := extractJSON(text)
	res := &Result{TaskType: t}

	switch t {
	case TaskErrorExtraction:
		var wire struct {
			Errors []ErrorFinding `json:"errors"`
		}
		if json.Unmarshal([]byte(payload), &wire) == nil && len(wire.Errors) > 0 {
			res.Errors = wire.Errors
			return res
		}
	case TaskCodeAnalysis:
		var wire []struct {
			Type         string `json:"type"`
			Line         int    `json:"line"`
			Description  string `json:"description"`
			OriginalCode string `json:"original_code"`
			FixedCode    string `json:"fixed_code"`
			Rationale    string `json:"rationale"`
			Severity     string `json:"severity"`
		}
		if json.Unmarshal([]byte(payload), &wire) == nil && len(wire) > 0 {
			for _, w := range wire {
				res.CodeIssues = append(res.CodeIssues, CodeIssue{
					Category:     w.Type,
					Line:         w.Line,
					Description:  w.Description,
					Snippet:      w.OriginalCode,
					SuggestedFix: w.FixedCode,
					Rationale:    w.Rationale,
					Severity:     w.Severity,
				})
			}
			return res
		}
	case TaskMultimodalAnalysis:
		var wire struct {
			Findings []ImageFinding `json:"findings"`
		}
		if json.Unmarshal([]byte(payload), &wire) == nil && len(wire.Findings) > 0 {
			res.ImageFindings = wire.Findings
			return res
		}
	case TaskDocumentationSearch:
		var wire struct {
			References []DocRef `json:"references"`
		}
		if json.Unmarshal([]byte(payload), &wire) == nil && len(wire.References) > 0 {
			res.DocRefs = wire.References
			return res
		}
	case TaskFixGeneration:
		var wire struct {
			Fixes []Fix `json:"fixes"`
		}
		if json.Unmarshal([]byte(payload), &wire) == nil && len(wire.Fixes) > 0 {
			res.Fixes = wire.Fixes
			return res
		}
	}

	res.Raw = text
	return res
}

// extractJSON strips markdown fences and isolates the outermost JSON value
// so a chatty model reply still parses.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexAny(s, "[{")
	if objStart < 0 {
		return s
	}
	var closer byte = '}'
	if s[objStart] == '[' {
		closer = ']'
	}
	objEnd := strings.LastIndexByte(s, closer)
	if objEnd > objStart {
		return s[objStart : objEnd+1]
	}
	return s
}

// readContent returns an input's inline payload, or the file contents for
// uploaded inputs. Read failures degrade to a placeholder so the analysis
// still runs.
func readContent(in *input.DebugInput) string {
	if !in.IsFile() {
		return in.Payload
	}
	data, err := os.ReadFile(in.FileRef)
	if err != nil {
		return fmt.Sprintf("[error reading file: %v]", err)
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
