package evaluation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no evaluation exists for an interview.
var ErrNotFound = errors.New("evaluation: not found")

// MemStore is an in-memory [Store] for tests and dev mode.
type MemStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Evaluation
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: map[uuid.UUID]Evaluation{}}
}

// Upsert implements Store.
func (s *MemStore) Upsert(_ context.Context, ev *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[ev.InterviewID] = *ev
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, interviewID uuid.UUID) (Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.rows[interviewID]
	if !ok {
		return Evaluation{}, ErrNotFound
	}
	return ev, nil
}
