package workflow

import (
	"context"
	"sync"
)

// Store persists workflow snapshots. Implementations must treat stored
// workflows as immutable values: Put replaces the snapshot for an id, Get
// returns the latest snapshot.
type Store interface {
	Put(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	ListActive(ctx context.Context) ([]*Workflow, error)
}

// MemoryStore is the in-process Store used by default and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*Workflow)}
}

// Put stores a defensive snapshot of wf.
func (s *MemoryStore) Put(_ context.Context, wf *Workflow) error {
	snapshot := wf.Clone()
	s.mu.Lock()
	s.workflows[wf.ID] = snapshot
	s.mu.Unlock()
	return nil
}

// Get returns the latest snapshot for id, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	wf, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return wf.Clone(), nil
}

// ListActive returns snapshots of all workflows not yet terminal.
func (s *MemoryStore) ListActive(_ context.Context) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Workflow
	for _, wf := range s.workflows {
		if !wf.Status.Terminal() {
			out = append(out, wf.Clone())
		}
	}
	return out, nil
}

// DeleteBySession removes all workflows belonging to a session and returns
// how many were dropped. Used by session teardown.
func (s *MemoryStore) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, wf := range s.workflows {
		if wf.SessionID == sessionID {
			delete(s.workflows, id)
			n++
		}
	}
	return n, nil
}
