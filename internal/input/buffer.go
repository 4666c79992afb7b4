package input

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Buffer holds the pending debug inputs for one session. Appends assign
// monotonically increasing ids; Clear is the only deletion path. A workflow
// snapshots the buffer at plan time, so clearing never affects a run that is
// already in flight.
type Buffer struct {
	mu     sync.Mutex
	seq    uint64
	inputs []*DebugInput
}

// Append stores an input and returns its assigned id.
func (b *Buffer) Append(kind Kind, payload, fileRef string, metadata map[string]string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	in := &DebugInput{
		ID:        fmt.Sprintf("input-%d", b.seq),
		Kind:      kind,
		Payload:   payload,
		FileRef:   fileRef,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	b.inputs = append(b.inputs, in)
	return in.ID
}

// List returns an ordered snapshot of the buffered inputs.
func (b *Buffer) List() []*DebugInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*DebugInput, len(b.inputs))
	copy(out, b.inputs)
	return out
}

// Clear drops all buffered inputs. The id sequence keeps counting so a
// session never reuses an id.
func (b *Buffer) Clear() []*DebugInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := b.inputs
	b.inputs = nil
	return dropped
}

// Len returns the number of buffered inputs.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inputs)
}

// Manager keys input buffers by session id.
type Manager struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	logger  *zap.Logger
}

// NewManager creates an empty buffer manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		buffers: make(map[string]*Buffer),
		logger:  logger,
	}
}

// Buffer returns the session's buffer, creating it on first use.
func (m *Manager) Buffer(sessionID string) *Buffer {
	m.mu.RLock()
	b, ok := m.buffers[sessionID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.buffers[sessionID]; ok {
		return b
	}
	b = &Buffer{}
	m.buffers[sessionID] = b
	m.logger.Debug("created input buffer", zap.String("session", sessionID))
	return b
}

// Lookup returns the session's buffer without creating one.
func (m *Manager) Lookup(sessionID string) (*Buffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buffers[sessionID]
	return b, ok
}

// Remove deletes a session's buffer entirely and returns its inputs so the
// caller can clean up any uploaded files.
func (m *Manager) Remove(sessionID string) []*DebugInput {
	m.mu.Lock()
	b, ok := m.buffers[sessionID]
	delete(m.buffers, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Clear()
}
