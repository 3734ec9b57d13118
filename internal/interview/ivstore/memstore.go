package ivstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// MemStore is an in-memory [Store] with the same semantics as the Postgres
// implementation, including the compare-and-set AttachSession.
type MemStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Record
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: map[uuid.UUID]*Record{}}
}

// Create implements Store.
func (m *MemStore) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = interview.InterviewScheduled
	}
	cp := *rec
	m.rows[rec.ID] = &cp
	return nil
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return Record{}, interview.ErrInterviewNotFound
	}
	return *rec, nil
}

// SetStatus implements Store.
func (m *MemStore) SetStatus(_ context.Context, id uuid.UUID, status interview.InterviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return interview.ErrInterviewNotFound
	}
	rec.Status = status
	return nil
}

// AttachSession implements Store. The whole check-and-set runs under the
// store mutex, so concurrent callers observe exactly one winner.
func (m *MemStore) AttachSession(_ context.Context, interviewID, sessionID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[interviewID]
	if !ok {
		return uuid.Nil, interview.ErrInterviewNotFound
	}
	if rec.SessionID.Valid {
		return rec.SessionID.UUID, nil
	}
	rec.SessionID = uuid.NullUUID{UUID: sessionID, Valid: true}
	return sessionID, nil
}
