package docindex

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/capability"
)

// Retriever is the documentation-search capability backed by the vector
// index. It registers under the standard doc-retriever id and replaces the
// offline heuristic when an index is configured.
type Retriever struct {
	index  *Index
	topK   uint64
	logger *zap.Logger
}

// NewRetriever wraps an index as a capability.
func NewRetriever(index *Index, logger *zap.Logger) *Retriever {
	return &Retriever{index: index, topK: 5, logger: logger}
}

func (r *Retriever) ID() string   { return capability.CapDocRetriever }
func (r *Retriever) Name() string { return "Documentation Retrieval Agent" }

func (r *Retriever) Description() string {
	return "Searches indexed documentation for pages relevant to the submitted artifacts"
}

func (r *Retriever) TaskTypes() []capability.TaskType {
	return []capability.TaskType{capability.TaskDocumentationSearch}
}

// Invoke builds a query from the request inputs and prior findings, then
// returns the nearest documentation pages.
func (r *Retriever) Invoke(ctx context.Context, req *capability.Request) (*capability.Result, error) {
	query := buildQuery(req)
	if query == "" {
		return &capability.Result{
			TaskType: req.TaskType,
			Raw:      "no searchable content in the submitted inputs",
		}, nil
	}

	hits, err := r.index.Query(ctx, query, r.topK)
	if err != nil {
		return nil, fmt.Errorf("documentation search: %w", err)
	}

	refs := make([]capability.DocRef, 0, len(hits))
	for _, h := range hits {
		refs = append(refs, capability.DocRef{
			Title:  h.Title,
			URL:    h.URL,
			Source: h.Source,
			Score:  h.Score,
		})
	}
	r.logger.Debug("documentation search",
		zap.Int("hits", len(refs)),
		zap.Int("query_len", len(query)))

	return &capability.Result{TaskType: req.TaskType, DocRefs: refs}, nil
}

// buildQuery condenses inputs and upstream error findings into one query
// string. Error types and root causes carry more signal than raw payloads,
// so they lead.
func buildQuery(req *capability.Request) string {
	var parts []string

	for _, prior := range req.Prior {
		if prior.Result == nil {
			continue
		}
		for _, e := range prior.Result.Errors {
			parts = append(parts, e.Type)
			if e.RootCause != "" {
				parts = append(parts, e.RootCause)
			}
		}
		for _, issue := range prior.Result.CodeIssues {
			parts = append(parts, issue.Category)
		}
	}

	for _, in := range req.Inputs {
		if in.IsFile() {
			continue
		}
		payload := in.Payload
		if len(payload) > 300 {
			payload = payload[:300]
		}
		parts = append(parts, payload)
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}
