package workflow

import (
	"context"
	"time"
)

const (
	// DefaultPollInterval is how often WaitTerminal re-reads the store.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollAttempts bounds how many reads WaitTerminal performs.
	DefaultPollAttempts = 150
)

// WaitTerminal polls the store until the workflow reaches a terminal status
// and returns its final snapshot. A zero interval or attempt count selects
// the defaults. When the attempt budget runs out the caller gets
// ErrPollingTimeout; the workflow itself may still be running server-side.
func WaitTerminal(ctx context.Context, store Store, id string, interval time.Duration, maxAttempts int) (*Workflow, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		wf, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if wf.Status.Terminal() {
			return wf, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, ErrPollingTimeout
}
