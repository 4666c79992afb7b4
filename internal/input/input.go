package input

import (
	"strings"
	"time"
)

// Kind classifies a debug input.
type Kind string

const (
	KindCode       Kind = "code"
	KindLogs       Kind = "logs"
	KindScreenshot Kind = "screenshot"
	KindErrorTrace Kind = "error_trace"
	KindDiagram    Kind = "diagram"
)

// Valid reports whether k is one of the recognized input kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCode, KindLogs, KindScreenshot, KindErrorTrace, KindDiagram:
		return true
	}
	return false
}

// DebugInput is a single artifact submitted for analysis. Inputs are
// immutable once created; a workflow references them, it never copies or
// mutates them.
type DebugInput struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Payload   string            `json:"payload"`
	FileRef   string            `json:"file_ref,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// IsFile reports whether the input's content lives on disk rather than in
// Payload.
func (d *DebugInput) IsFile() bool { return d.FileRef != "" }

// Content returns the inline payload, or the file reference when the input
// was uploaded as a file. Callers that need file bytes read FileRef
// themselves.
func (d *DebugInput) Content() string {
	if d.IsFile() {
		return d.FileRef
	}
	return d.Payload
}

// DetectKind guesses an input kind from a filename and MIME content type.
// Unrecognized files are treated as code.
func DetectKind(filename, contentType string) Kind {
	if strings.HasPrefix(contentType, "image/") {
		return KindScreenshot
	}
	lower := strings.ToLower(filename)
	switch {
	case hasAnySuffix(lower, ".log", ".logs"):
		return KindLogs
	case hasAnySuffix(lower, ".trace", ".stack"):
		return KindErrorTrace
	case hasAnySuffix(lower, ".svg", ".drawio", ".vsd"):
		return KindDiagram
	default:
		return KindCode
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
