package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Info describes a registered capability for API consumers.
type Info struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	TaskTypes   []TaskType `json:"task_types"`
}

// Gateway routes task invocations to registered capabilities through one
// uniform call. It never returns a Go error to the caller: every failure —
// unknown capability, unsupported task type, timeout, transport error —
// comes back as a tagged error Result, so a workflow degrades to partial
// results instead of aborting. Safe for concurrent use from independent
// workflows.
type Gateway struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	order        []string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewGateway creates a gateway with the given per-invocation timeout.
// A non-positive timeout falls back to 30 seconds.
func NewGateway(timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		capabilities: make(map[string]Capability),
		timeout:      timeout,
		logger:       logger,
	}
}

// Register adds a capability. A later registration with the same id replaces
// the earlier one, which is how a heuristic implementation is swapped for a
// remote one.
func (g *Gateway) Register(c Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.capabilities[c.ID()]; !exists {
		g.order = append(g.order, c.ID())
	}
	g.capabilities[c.ID()] = c
	g.logger.Info("registered capability",
		zap.String("id", c.ID()),
		zap.String("name", c.Name()))
}

// List returns the registered capabilities in registration order.
func (g *Gateway) List() []Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	infos := make([]Info, 0, len(g.order))
	for _, id := range g.order {
		c := g.capabilities[id]
		infos = append(infos, Info{
			ID:          c.ID(),
			Name:        c.Name(),
			Description: c.Description(),
			TaskTypes:   c.TaskTypes(),
		})
	}
	return infos
}

// Has reports whether a capability id is registered.
func (g *Gateway) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.capabilities[id]
	return ok
}

// Invoke dispatches one task to the named capability and always returns a
// Result. Inspect Result.Err to distinguish success from failure.
func (g *Gateway) Invoke(ctx context.Context, capabilityID string, req *Request) *Result {
	g.mu.RLock()
	c, ok := g.capabilities[capabilityID]
	g.mu.RUnlock()

	if !ok {
		g.logger.Warn("capability not registered", zap.String("id", capabilityID))
		return ErrorResult(req.TaskType, ErrCodeGatewayUnavailable,
			fmt.Sprintf("no capability registered for id %q", capabilityID))
	}
	if !supports(c, req.TaskType) {
		return ErrorResult(req.TaskType, ErrCodeUnsupported,
			fmt.Sprintf("capability %q does not handle %s", capabilityID, req.TaskType))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := c.Invoke(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		code := ErrCodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = ErrCodeTimeout
		}
		g.logger.Warn("capability invocation failed",
			zap.String("capability", capabilityID),
			zap.String("task_type", string(req.TaskType)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return ErrorResult(req.TaskType, code, err.Error())
	}
	if res == nil {
		return ErrorResult(req.TaskType, ErrCodeMalformedResponse,
			fmt.Sprintf("capability %q returned no result", capabilityID))
	}

	g.logger.Debug("capability invocation succeeded",
		zap.String("capability", capabilityID),
		zap.String("task_type", string(req.TaskType)),
		zap.Duration("elapsed", elapsed))
	res.TaskType = req.TaskType
	return res
}

func supports(c Capability, t TaskType) bool {
	for _, tt := range c.TaskTypes() {
		if tt == t {
			return true
		}
	}
	return false
}
