package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/input"
)

// EventPublisher receives a progress event after every published snapshot.
// Implementations must not block for long; publish errors are logged and
// dropped.
type EventPublisher interface {
	PublishProgress(ctx context.Context, wf *Workflow) error
}

// Notifier is told once when a workflow reaches a terminal state.
type Notifier interface {
	WorkflowFinished(ctx context.Context, wf *Workflow)
}

// Executor plans and runs workflows. Tasks within one workflow run
// sequentially; distinct workflows run concurrently, sharing only the
// gateway, which is safe for concurrent invocation.
type Executor struct {
	gateway  *capability.Gateway
	store    Store
	events   EventPublisher
	notifier Notifier
	logger   *zap.Logger

	wg sync.WaitGroup
}

// ExecutorOption configures optional collaborators.
type ExecutorOption func(*Executor)

// WithEvents attaches a progress event publisher.
func WithEvents(p EventPublisher) ExecutorOption {
	return func(e *Executor) { e.events = p }
}

// WithNotifier attaches a terminal-state notifier.
func WithNotifier(n Notifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// NewExecutor builds an executor over the given gateway and store.
func NewExecutor(gw *capability.Gateway, store Store, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		gateway: gw,
		store:   store,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates inputs, plans tasks, persists the initial snapshot and
// launches execution in a background goroutine. An empty input set fails
// synchronously with ErrEmptyInput and creates nothing. The returned
// workflow is the caller's snapshot of the initial state.
func (e *Executor) Start(ctx context.Context, sessionID string, inputs []*input.DebugInput) (*Workflow, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}

	now := time.Now()
	wf := &Workflow{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Inputs:    append([]*input.DebugInput(nil), inputs...),
		Tasks:     Plan(inputs),
		Status:    StatusAnalyzing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Put(ctx, wf); err != nil {
		return nil, err
	}

	e.logger.Info("workflow started",
		zap.String("workflow_id", wf.ID),
		zap.String("session_id", sessionID),
		zap.Int("inputs", len(inputs)),
		zap.Int("tasks", len(wf.Tasks)))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Detached from the request context on purpose: clearing the buffer
		// or dropping the HTTP connection must not cancel the run.
		e.run(context.Background(), wf)
	}()

	return wf.Clone(), nil
}

// Wait blocks until all in-flight workflows finish. Used on shutdown.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// run drives the workflow to a terminal state. It is the sole mutator of wf;
// readers only ever see snapshots published through the store.
func (e *Executor) run(ctx context.Context, wf *Workflow) {
	for _, task := range wf.Tasks {
		e.runTask(ctx, wf, task)
		wf.Progress = progress(wf)
		wf.UpdatedAt = time.Now()
		e.publish(ctx, wf)
	}

	wf.Suggestions = Compile(wf)
	if wf.CompletedTasks() > 0 {
		wf.Status = StatusCompleted
	} else {
		wf.Status = StatusFailed
	}
	wf.Progress = 100
	wf.UpdatedAt = time.Now()
	e.publish(ctx, wf)

	e.logger.Info("workflow finished",
		zap.String("workflow_id", wf.ID),
		zap.String("status", string(wf.Status)),
		zap.Int("completed_tasks", wf.CompletedTasks()),
		zap.Int("failed_tasks", wf.FailedTasks()),
		zap.Int("suggestions", len(wf.Suggestions)))

	if e.notifier != nil {
		e.notifier.WorkflowFinished(ctx, wf.Clone())
	}
}

func (e *Executor) runTask(ctx context.Context, wf *Workflow, task *Task) {
	started := time.Now()
	task.Status = TaskRunning
	task.StartedAt = &started
	e.publish(ctx, wf)

	req := &capability.Request{
		TaskType: task.Type,
		Inputs:   task.Inputs,
		Prior:    priorResults(wf, task),
	}
	res := e.gateway.Invoke(ctx, task.CapabilityID, req)

	finished := time.Now()
	task.CompletedAt = &finished
	if res.Err != nil {
		task.Status = TaskFailed
		task.Error = res.Err.Error()
		e.logger.Warn("task failed",
			zap.String("workflow_id", wf.ID),
			zap.String("task_id", task.ID),
			zap.String("capability", task.CapabilityID),
			zap.String("code", res.Err.Code),
			zap.Duration("elapsed", finished.Sub(started)))
		return
	}

	task.Result = res
	task.Status = TaskCompleted
	e.logger.Debug("task completed",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", task.ID),
		zap.String("capability", task.CapabilityID),
		zap.Duration("elapsed", finished.Sub(started)))
}

// priorResults collects results of tasks already completed before task, in
// plan order, for capabilities that consume upstream context.
func priorResults(wf *Workflow, task *Task) []capability.PriorResult {
	var prior []capability.PriorResult
	for _, t := range wf.Tasks {
		if t == task {
			break
		}
		if t.Status != TaskCompleted || t.Result == nil {
			continue
		}
		prior = append(prior, capability.PriorResult{
			CapabilityID: t.CapabilityID,
			TaskType:     t.Type,
			Result:       t.Result,
		})
	}
	return prior
}

func progress(wf *Workflow) float64 {
	if len(wf.Tasks) == 0 {
		return 0
	}
	terminal := 0
	for _, t := range wf.Tasks {
		if t.Status.Terminal() {
			terminal++
		}
	}
	return 100 * float64(terminal) / float64(len(wf.Tasks))
}

func (e *Executor) publish(ctx context.Context, wf *Workflow) {
	if err := e.store.Put(ctx, wf); err != nil {
		e.logger.Error("store snapshot failed",
			zap.String("workflow_id", wf.ID), zap.Error(err))
	}
	if e.events != nil {
		if err := e.events.PublishProgress(ctx, wf); err != nil {
			e.logger.Warn("progress publish failed",
				zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	}
}
