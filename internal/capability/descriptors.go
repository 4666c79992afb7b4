package capability

// descriptor carries the fixed identity of a built-in capability. The same
// id can be backed by a remote or a heuristic implementation; the identity
// stays stable either way.
type descriptor struct {
	Name        string
	Description string
	TaskTypes   []TaskType
}

var descriptors = map[string]descriptor{
	CapErrorExtractor: {
		Name:        "Error Extraction Agent",
		Description: "Extracts and categorizes errors from logs and stack traces",
		TaskTypes:   []TaskType{TaskErrorExtraction},
	},
	CapCodeAnalyzer: {
		Name:        "Code Analysis Agent",
		Description: "Analyzes code for bugs, performance issues, and best practices",
		TaskTypes:   []TaskType{TaskCodeAnalysis},
	},
	CapDocRetriever: {
		Name:        "Documentation Retrieval Agent",
		Description: "Searches and retrieves relevant documentation and solutions",
		TaskTypes:   []TaskType{TaskDocumentationSearch},
	},
	CapFixGenerator: {
		Name:        "Fix Generation Agent",
		Description: "Generates code fixes and provides detailed rationales",
		TaskTypes:   []TaskType{TaskFixGeneration},
	},
	CapMultimodalAnalyzer: {
		Name:        "Multimodal Analysis Agent",
		Description: "Analyzes screenshots, diagrams, and UI elements for bugs",
		TaskTypes:   []TaskType{TaskMultimodalAnalysis},
	},
}

func describe(id string) descriptor {
	if d, ok := descriptors[id]; ok {
		return d
	}
	return descriptor{Name: id, Description: "custom capability"}
}
