package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/docindex"
	"github.com/nidhogg/bugsmith/internal/input"
	"github.com/nidhogg/bugsmith/internal/workflow"
)

// newTestServer wires a handler over the offline heuristic capabilities and
// an in-memory store.
func newTestServer(t *testing.T) (*httptest.Server, *workflow.MemoryStore) {
	t.Helper()
	return newTestServerWithDocs(t, nil)
}

func newTestServerWithDocs(t *testing.T, docs DocIndexer) (*httptest.Server, *workflow.MemoryStore) {
	t.Helper()
	logger := zap.NewNop()

	gw := capability.NewGateway(5*time.Second, logger)
	for _, id := range []string{
		capability.CapErrorExtractor,
		capability.CapCodeAnalyzer,
		capability.CapDocRetriever,
		capability.CapFixGenerator,
		capability.CapMultimodalAnalyzer,
	} {
		gw.Register(capability.NewHeuristic(id, logger))
	}

	store := workflow.NewMemoryStore()
	exec := workflow.NewExecutor(gw, store, logger)
	status := workflow.NewStatusService(store)
	buffers := input.NewManager(logger)

	h := NewHandler(buffers, exec, status, store, store, gw, docs, t.TempDir(), 10, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListCapabilities(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts, "/api/capabilities")
	var caps []capability.Info
	decodeJSON(t, resp, &caps)
	if len(caps) != 5 {
		t.Fatalf("capabilities = %d, want 5", len(caps))
	}
	if caps[0].ID != capability.CapErrorExtractor {
		t.Errorf("first capability = %s, want registration order preserved", caps[0].ID)
	}
}

func TestAddInputValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/debug/inputs", map[string]string{"session_id": "s1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing content: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/debug/inputs", map[string]string{
		"session_id": "s1", "kind": "hologram", "content": "x",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad kind: status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAnalyzeEmptyBuffer(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/debug/analyze", map[string]string{"session_id": "empty"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty buffer", resp.StatusCode)
	}
}

func TestUnknownWorkflow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts, "/api/debug/workflows/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("workflows: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/debug/suggestions/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("suggestions: status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// pollUntilTerminal polls the workflow endpoint until a terminal status.
func pollUntilTerminal(t *testing.T, ts *httptest.Server, workflowID string) workflow.StatusView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp := getJSON(t, ts, "/api/debug/workflows/"+workflowID)
		var view workflow.StatusView
		decodeJSON(t, resp, &view)
		if view.Status == "completed" || view.Status == "failed" {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached a terminal status", workflowID)
	return workflow.StatusView{}
}

func TestDebugFlowEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)

	// Buffer one code artifact and one log artifact.
	resp := postJSON(t, ts, "/api/debug/inputs", map[string]interface{}{
		"session_id": "s1",
		"kind":       "code",
		"content":    "var total = 0\nconsole.log(total)",
		"metadata":   map[string]string{"filename": "main.js"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add input: status = %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	if created["input_id"] != "input-1" {
		t.Errorf("input_id = %s", created["input_id"])
	}

	resp = postJSON(t, ts, "/api/debug/inputs", map[string]string{
		"session_id": "s1",
		"kind":       "logs",
		"content":    "ERROR: connection refused\npanic: nil pointer",
	})
	resp.Body.Close()

	// Kick off analysis.
	resp = postJSON(t, ts, "/api/debug/analyze", map[string]string{"session_id": "s1"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("analyze: status = %d", resp.StatusCode)
	}
	var started struct {
		WorkflowID string `json:"workflow_id"`
		Status     string `json:"status"`
		TaskCount  int    `json:"task_count"`
	}
	decodeJSON(t, resp, &started)
	if started.Status != "analyzing" {
		t.Errorf("initial status = %s", started.Status)
	}
	// 2 per-input + doc search + fix generation.
	if started.TaskCount != 4 {
		t.Errorf("task_count = %d, want 4", started.TaskCount)
	}

	// The buffer was consumed; a second analyze must fail.
	resp = postJSON(t, ts, "/api/debug/analyze", map[string]string{"session_id": "s1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("re-analyze on drained buffer: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	view := pollUntilTerminal(t, ts, started.WorkflowID)
	if view.Status != "completed" {
		t.Fatalf("final status = %s", view.Status)
	}
	if view.Progress != 100 {
		t.Errorf("progress = %v", view.Progress)
	}

	// Suggestions are authoritative now.
	resp = getJSON(t, ts, "/api/debug/suggestions/"+started.WorkflowID)
	var sv workflow.SuggestionsView
	decodeJSON(t, resp, &sv)
	if len(sv.Suggestions) == 0 {
		t.Fatal("no suggestions on a completed workflow")
	}
	if sv.Summary.TotalTasks != 4 || sv.Summary.CompletedTasks == 0 {
		t.Errorf("summary = %+v", sv.Summary)
	}

	// Apply the first suggestion; it must disappear from the workflow.
	first := sv.Suggestions[0]
	resp = postJSON(t, ts, fmt.Sprintf("/api/debug/workflows/%s/suggestions/%s/apply", started.WorkflowID, first.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply: status = %d", resp.StatusCode)
	}
	var applied struct {
		Action    string `json:"action"`
		Remaining int    `json:"remaining"`
	}
	decodeJSON(t, resp, &applied)
	if applied.Action != "applied" || applied.Remaining != len(sv.Suggestions)-1 {
		t.Errorf("apply response = %+v", applied)
	}

	// Applying the same suggestion again is a 404.
	resp = postJSON(t, ts, fmt.Sprintf("/api/debug/workflows/%s/suggestions/%s/apply", started.WorkflowID, first.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("re-apply: status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSuggestionsBeforeTerminal(t *testing.T) {
	ts, store := newTestServer(t)

	wf := &workflow.Workflow{ID: "wf-live", Status: workflow.StatusAnalyzing}
	store.Put(context.Background(), wf)

	resp := getJSON(t, ts, "/api/debug/suggestions/wf-live")
	var sv workflow.SuggestionsView
	decodeJSON(t, resp, &sv)
	if sv.Status != "analyzing" || len(sv.Suggestions) != 0 {
		t.Errorf("view = %+v", sv)
	}

	// Consuming a suggestion on a live workflow conflicts.
	resp = postJSON(t, ts, "/api/debug/workflows/wf-live/suggestions/s-1/discard", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("discard on live workflow: status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUploadDetectsKind(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("session_id", "s1")
	fw, err := mw.CreateFormFile("file", "crash.log")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fmt.Fprint(fw, "ERROR: everything is on fire")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/debug/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["kind"] != "logs" {
		t.Errorf("kind = %s, want logs from .log extension", body["kind"])
	}

	resp = getJSON(t, ts, "/api/debug/inputs/s1")
	var inputs []*input.DebugInput
	decodeJSON(t, resp, &inputs)
	if len(inputs) != 1 || !inputs[0].IsFile() {
		t.Fatalf("inputs = %+v", inputs)
	}
}

type recordingIndexer struct {
	mu   sync.Mutex
	docs []docindex.Document
}

func (r *recordingIndexer) Add(_ context.Context, doc docindex.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return nil
}

func TestAddDocumentWithoutIndex(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/docs", map[string]string{
		"title": "Goroutine leaks", "content": "how to find them",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no index is configured", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAddDocument(t *testing.T) {
	indexer := &recordingIndexer{}
	ts, _ := newTestServerWithDocs(t, indexer)

	resp := postJSON(t, ts, "/api/docs", map[string]string{"title": "no content"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing content: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/docs", map[string]string{
		"title":   "Goroutine leak guide",
		"url":     "https://example.com/goroutine-leaks",
		"source":  "official_docs",
		"content": "A leaked goroutine blocks forever on a channel no one writes to.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["doc_id"] == "" {
		t.Error("response must carry the assigned doc_id")
	}

	if len(indexer.docs) != 1 {
		t.Fatalf("indexed docs = %d, want 1", len(indexer.docs))
	}
	doc := indexer.docs[0]
	if doc.Title != "Goroutine leak guide" || doc.URL != "https://example.com/goroutine-leaks" || doc.ID != body["doc_id"] {
		t.Errorf("indexed doc = %+v", doc)
	}
}

func TestConcurrentConsumeLosesNothing(t *testing.T) {
	ts, store := newTestServer(t)

	wf := &workflow.Workflow{
		ID:     "wf-done",
		Status: workflow.StatusCompleted,
		Suggestions: []*workflow.FixSuggestion{
			{ID: "s-1", Title: "Fix the nil map"},
		},
	}
	store.Put(context.Background(), wf)

	statuses := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := postJSON(t, ts, "/api/debug/workflows/wf-done/suggestions/s-1/apply", nil)
			statuses <- resp.StatusCode
			resp.Body.Close()
		}()
	}
	wg.Wait()
	close(statuses)

	ok, notFound := 0, 0
	for code := range statuses {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusNotFound:
			notFound++
		}
	}
	if ok != 1 || notFound != 1 {
		t.Errorf("got %d OK and %d NotFound, want exactly one of each", ok, notFound)
	}

	got, err := store.Get(context.Background(), "wf-done")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Suggestions) != 0 {
		t.Errorf("suggestions remaining = %d, want 0", len(got.Suggestions))
	}
}

func TestDeleteSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/debug/inputs", map[string]string{
		"session_id": "doomed", "kind": "code", "content": "x = 1",
	})
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/debug/sessions/doomed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		InputsDropped int `json:"inputs_dropped"`
	}
	decodeJSON(t, resp, &body)
	if body.InputsDropped != 1 {
		t.Errorf("inputs_dropped = %d", body.InputsDropped)
	}

	resp = getJSON(t, ts, "/api/debug/inputs/doomed")
	var inputs []*input.DebugInput
	decodeJSON(t, resp, &inputs)
	if len(inputs) != 0 {
		t.Errorf("buffer survived deletion: %+v", inputs)
	}
}
