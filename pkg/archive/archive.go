// Package archive stores post-close session transcripts: a small summary of
// each live context written after it closes. Useful for audit trails and
// capacity analysis; the engine works fine with no store configured.
package archive

import (
	"context"
	"sync"
	"time"
)

// Transcript summarizes one closed live context.
type Transcript struct {
	ContextID string    `json:"context_id"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Patches   uint64    `json:"patches"`
	Batches   uint64    `json:"batches"`
	Callbacks uint64    `json:"callbacks"`
	BytesSent uint64    `json:"bytes_sent"`
}

// Store persists transcripts.
type Store interface {
	Save(ctx context.Context, t *Transcript) error
}

// MemoryStore keeps transcripts in memory. Intended for tests and
// development.
type MemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]*Transcript
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transcripts: make(map[string]*Transcript)}
}

// Save stores a transcript, replacing any previous one for the same context.
func (s *MemoryStore) Save(_ context.Context, t *Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transcripts[t.ContextID] = &cp
	return nil
}

// Get returns the stored transcript for a context id, or nil.
func (s *MemoryStore) Get(contextID string) *Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcripts[contextID]
}

// Len returns the number of stored transcripts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts)
}
