package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/workflow"
)

// Bus publishes workflow progress events over Redis Streams so dashboards
// and webhooks can follow runs without polling the HTTP API.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// ProgressEvent is one snapshot of a workflow's advancement.
type ProgressEvent struct {
	WorkflowID  string    `json:"workflow_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	TotalTasks  int       `json:"total_tasks"`
	DoneTasks   int       `json:"done_tasks"`
	FailedTasks int       `json:"failed_tasks"`
	Timestamp   time.Time `json:"timestamp"`
}

const streamPrefix = "bugsmith:workflow:"

// PublishProgress appends the workflow's current state to its stream.
func (b *Bus) PublishProgress(ctx context.Context, wf *workflow.Workflow) error {
	ev := ProgressEvent{
		WorkflowID:  wf.ID,
		SessionID:   wf.SessionID,
		Status:      string(wf.Status),
		Progress:    wf.Progress,
		TotalTasks:  len(wf.Tasks),
		DoneTasks:   wf.CompletedTasks(),
		FailedTasks: wf.FailedTasks(),
		Timestamp:   time.Now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	stream := streamPrefix + wf.ID
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published progress",
		zap.String("workflow_id", wf.ID),
		zap.String("status", ev.Status),
		zap.Float64("progress", ev.Progress))
	return nil
}

// Subscribe follows a workflow's stream. Returns a channel that emits
// events; cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context, workflowID string) <-chan *ProgressEvent {
	ch := make(chan *ProgressEvent, 16)
	stream := streamPrefix + workflowID

	go func() {
		defer close(ch)
		lastID := "0"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev ProgressEvent
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
