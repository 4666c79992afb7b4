package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/workflow"
)

// Message is a rendered workflow-completion notification.
type Message struct {
	WorkflowID  string
	SessionID   string
	Status      string
	Title       string
	Body        string
	Suggestions int
}

// Notifier delivers a completion message to one platform.
type Notifier interface {
	Platform() string
	Notify(ctx context.Context, msg *Message) error
}

// Record tracks a delivered notification for history.
type Record struct {
	Message   *Message  `json:"message"`
	SentAt    time.Time `json:"sent_at"`
	Platforms []string  `json:"platforms"`
}

// Broadcaster fans a workflow-completion notice out to every configured
// platform. Delivery failures are logged and skipped; notification is best
// effort and never affects workflow state.
type Broadcaster struct {
	notifiers []Notifier
	logger    *zap.Logger

	mu      sync.Mutex
	history []Record
}

// NewBroadcaster builds a broadcaster over the given notifiers.
func NewBroadcaster(logger *zap.Logger, notifiers ...Notifier) *Broadcaster {
	return &Broadcaster{notifiers: notifiers, logger: logger}
}

// WorkflowFinished renders and delivers the terminal-state notice.
func (b *Broadcaster) WorkflowFinished(ctx context.Context, wf *workflow.Workflow) {
	if len(b.notifiers) == 0 {
		return
	}

	msg := render(wf)
	var delivered []string
	for _, n := range b.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			b.logger.Warn("notification delivery failed",
				zap.String("platform", n.Platform()),
				zap.String("workflow_id", wf.ID),
				zap.Error(err))
			continue
		}
		delivered = append(delivered, n.Platform())
	}

	b.mu.Lock()
	b.history = append(b.history, Record{Message: msg, SentAt: time.Now(), Platforms: delivered})
	b.mu.Unlock()

	b.logger.Info("workflow notification sent",
		zap.String("workflow_id", wf.ID),
		zap.Strings("platforms", delivered))
}

// History returns the most recent records, newest last.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Record, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

func render(wf *workflow.Workflow) *Message {
	title := fmt.Sprintf("Debug analysis %s", wf.Status)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow %s finished with status %s.\n", wf.ID, wf.Status)
	fmt.Fprintf(&sb, "Tasks: %d completed, %d failed of %d.\n",
		wf.CompletedTasks(), wf.FailedTasks(), len(wf.Tasks))
	fmt.Fprintf(&sb, "Suggestions: %d", len(wf.Suggestions))
	for i, s := range wf.Suggestions {
		if i >= 3 {
			fmt.Fprintf(&sb, "\n… and %d more", len(wf.Suggestions)-i)
			break
		}
		fmt.Fprintf(&sb, "\n• %s (%d%%)", s.Title, s.Confidence)
	}

	return &Message{
		WorkflowID:  wf.ID,
		SessionID:   wf.SessionID,
		Status:      string(wf.Status),
		Title:       title,
		Body:        sb.String(),
		Suggestions: len(wf.Suggestions),
	}
}
