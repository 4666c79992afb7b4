package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/input"
)

type stubCap struct {
	id     string
	invoke func(ctx context.Context, req *capability.Request) (*capability.Result, error)
}

func (s *stubCap) ID() string                         { return s.id }
func (s *stubCap) Name() string                       { return s.id }
func (s *stubCap) Description() string                { return "stub" }
func (s *stubCap) TaskTypes() []capability.TaskType {
	return []capability.TaskType{
		capability.TaskErrorExtraction,
		capability.TaskCodeAnalysis,
		capability.TaskDocumentationSearch,
		capability.TaskFixGeneration,
		capability.TaskMultimodalAnalysis,
	}
}

func (s *stubCap) Invoke(ctx context.Context, req *capability.Request) (*capability.Result, error) {
	return s.invoke(ctx, req)
}

func okCap(id string) *stubCap {
	return &stubCap{id: id, invoke: func(_ context.Context, req *capability.Request) (*capability.Result, error) {
		return &capability.Result{TaskType: req.TaskType, Raw: "ok"}, nil
	}}
}

func failCap(id string) *stubCap {
	return &stubCap{id: id, invoke: func(context.Context, *capability.Request) (*capability.Result, error) {
		return nil, errors.New("backend exploded")
	}}
}

func fixCap(fixes ...capability.Fix) *stubCap {
	return &stubCap{id: capability.CapFixGenerator, invoke: func(_ context.Context, req *capability.Request) (*capability.Result, error) {
		return &capability.Result{TaskType: req.TaskType, Fixes: fixes}, nil
	}}
}

func newTestGateway(caps ...capability.Capability) *capability.Gateway {
	gw := capability.NewGateway(time.Second, zap.NewNop())
	for _, c := range caps {
		gw.Register(c)
	}
	return gw
}

// recordingStore captures the progress value of every published snapshot.
type recordingStore struct {
	*MemoryStore
	mu       sync.Mutex
	progress []float64
}

func (r *recordingStore) Put(ctx context.Context, wf *Workflow) error {
	r.mu.Lock()
	r.progress = append(r.progress, wf.Progress)
	r.mu.Unlock()
	return r.MemoryStore.Put(ctx, wf)
}

func waitDone(t *testing.T, store Store, id string) *Workflow {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wf, err := WaitTerminal(ctx, store, id, 5*time.Millisecond, 500)
	if err != nil {
		t.Fatalf("WaitTerminal: %v", err)
	}
	return wf
}

func TestExecutorHappyPath(t *testing.T) {
	gw := newTestGateway(
		okCap(capability.CapCodeAnalyzer),
		okCap(capability.CapErrorExtractor),
		okCap(capability.CapDocRetriever),
		fixCap(
			capability.Fix{Title: "Guard the nil map", Confidence: 85, Type: "code_fix"},
			capability.Fix{Title: "Bump the client library", Confidence: 70, Type: "dependency"},
		),
	)
	store := NewMemoryStore()
	exec := NewExecutor(gw, store, zap.NewNop())

	inputs := []*input.DebugInput{
		testInput("input-1", input.KindCode),
		testInput("input-2", input.KindLogs),
	}
	wf, err := exec.Start(context.Background(), "session-1", inputs)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if wf.Status != StatusAnalyzing {
		t.Errorf("initial status = %s, want analyzing", wf.Status)
	}

	final := waitDone(t, store, wf.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %v, want 100", final.Progress)
	}
	// 2 per-input + doc search + fix generation.
	if len(final.Tasks) != 4 {
		t.Fatalf("tasks = %d, want 4", len(final.Tasks))
	}
	for _, task := range final.Tasks {
		if task.Status != TaskCompleted {
			t.Errorf("task %s status = %s, want completed", task.ID, task.Status)
		}
		if task.StartedAt == nil || task.CompletedAt == nil {
			t.Errorf("task %s missing timing", task.ID)
		}
	}
	if len(final.Suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(final.Suggestions))
	}
	if final.Suggestions[0].Title != "Guard the nil map" {
		t.Errorf("suggestion order not preserved")
	}
}

func TestExecutorSurvivesSingleTaskFailure(t *testing.T) {
	gw := newTestGateway(
		failCap(capability.CapCodeAnalyzer),
		okCap(capability.CapDocRetriever),
		fixCap(capability.Fix{Title: "Retry with backoff", Confidence: 75, Type: "code_fix"}),
	)
	store := NewMemoryStore()
	exec := NewExecutor(gw, store, zap.NewNop())

	wf, err := exec.Start(context.Background(), "", []*input.DebugInput{testInput("input-1", input.KindCode)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitDone(t, store, wf.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed despite one failure", final.Status)
	}
	if final.FailedTasks() != 1 {
		t.Errorf("failed tasks = %d, want 1", final.FailedTasks())
	}
	failed := final.Tasks[0]
	if failed.Status != TaskFailed || failed.Error == "" {
		t.Errorf("failed task not recorded: status=%s error=%q", failed.Status, failed.Error)
	}
	if len(final.Suggestions) != 1 {
		t.Errorf("suggestions = %d, want 1 from the surviving fix generator", len(final.Suggestions))
	}
}

func TestExecutorAllTasksFailing(t *testing.T) {
	gw := newTestGateway(
		failCap(capability.CapErrorExtractor),
		failCap(capability.CapDocRetriever),
		failCap(capability.CapFixGenerator),
	)
	store := NewMemoryStore()
	exec := NewExecutor(gw, store, zap.NewNop())

	wf, err := exec.Start(context.Background(), "", []*input.DebugInput{testInput("input-1", input.KindLogs)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitDone(t, store, wf.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want failed when zero tasks completed", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %v, want 100 even on failure", final.Progress)
	}
	if len(final.Suggestions) != 1 || final.Suggestions[0].ProducedByCapability != SystemDefaultCapability {
		t.Errorf("expected single default suggestion, got %+v", final.Suggestions)
	}
}

func TestExecutorUnknownCapabilityFailsTaskOnly(t *testing.T) {
	// Nothing registered: every dispatch fails with gateway_unavailable but
	// the workflow still terminates instead of raising to the caller.
	gw := newTestGateway()
	store := NewMemoryStore()
	exec := NewExecutor(gw, store, zap.NewNop())

	wf, err := exec.Start(context.Background(), "", []*input.DebugInput{testInput("input-1", input.KindCode)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitDone(t, store, wf.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	for _, task := range final.Tasks {
		if task.Status != TaskFailed {
			t.Errorf("task %s status = %s, want failed", task.ID, task.Status)
		}
	}
}

func TestExecutorEmptyInputs(t *testing.T) {
	store := NewMemoryStore()
	exec := NewExecutor(newTestGateway(), store, zap.NewNop())

	_, err := exec.Start(context.Background(), "session-1", nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	active, _ := store.ListActive(context.Background())
	if len(active) != 0 {
		t.Errorf("no workflow should be created on empty input")
	}
}

func TestExecutorProgressMonotonic(t *testing.T) {
	gw := newTestGateway(
		okCap(capability.CapCodeAnalyzer),
		okCap(capability.CapErrorExtractor),
		okCap(capability.CapDocRetriever),
		okCap(capability.CapFixGenerator),
	)
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	exec := NewExecutor(gw, store, zap.NewNop())

	wf, err := exec.Start(context.Background(), "", []*input.DebugInput{
		testInput("input-1", input.KindCode),
		testInput("input-2", input.KindLogs),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, store, wf.ID)
	exec.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	prev := -1.0
	for i, p := range store.progress {
		if p < prev {
			t.Fatalf("progress regressed at snapshot %d: %v -> %v", i, prev, p)
		}
		prev = p
	}
	if prev != 100 {
		t.Errorf("final progress = %v, want 100", prev)
	}
}

func TestExecutorPassesPriorResultsToFixGeneration(t *testing.T) {
	var gotPrior []capability.PriorResult
	fixGen := &stubCap{id: capability.CapFixGenerator, invoke: func(_ context.Context, req *capability.Request) (*capability.Result, error) {
		gotPrior = req.Prior
		return &capability.Result{TaskType: req.TaskType}, nil
	}}
	gw := newTestGateway(okCap(capability.CapCodeAnalyzer), okCap(capability.CapDocRetriever), fixGen)
	store := NewMemoryStore()
	exec := NewExecutor(gw, store, zap.NewNop())

	wf, err := exec.Start(context.Background(), "", []*input.DebugInput{testInput("input-1", input.KindCode)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, store, wf.ID)
	exec.Wait()

	if len(gotPrior) != 2 {
		t.Fatalf("prior results = %d, want 2 (code analysis + doc search)", len(gotPrior))
	}
	if gotPrior[0].CapabilityID != capability.CapCodeAnalyzer {
		t.Errorf("prior[0] = %s, want code-analyzer", gotPrior[0].CapabilityID)
	}
}

func TestConcurrentWorkflowsAreIsolated(t *testing.T) {
	gw := newTestGateway(
		okCap(capability.CapCodeAnalyzer),
		okCap(capability.CapErrorExtractor),
		okCap(capability.CapDocRetriever),
		fixCap(capability.Fix{Title: "fix", Confidence: 80, Type: "code_fix"}),
	)
	store := NewMemoryStore()
	exec := NewExecutor(gw, store, zap.NewNop())

	const n = 8
	ids := make([]string, n)
	inputIDs := make([]string, n)
	for i := 0; i < n; i++ {
		in := testInput(fmt.Sprintf("input-%d", i+1), input.KindCode)
		wf, err := exec.Start(context.Background(), "session", []*input.DebugInput{in})
		if err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		ids[i] = wf.ID
		inputIDs[i] = in.ID
	}

	for i := 0; i < n; i++ {
		final := waitDone(t, store, ids[i])
		if final.Status != StatusCompleted {
			t.Errorf("workflow %d status = %s", i, final.Status)
		}
		for _, s := range final.Suggestions {
			if len(s.RelatedInputIDs) != 1 || s.RelatedInputIDs[0] != inputIDs[i] {
				t.Errorf("workflow %d suggestion references foreign inputs: %v", i, s.RelatedInputIDs)
			}
		}
	}
}
