package questionbank

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// MemStore is an in-memory [Store] for tests and single-node development.
type MemStore struct {
	mu        sync.RWMutex
	questions map[uuid.UUID]Question
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{questions: map[uuid.UUID]Question{}}
}

// Add implements Store.
func (s *MemStore) Add(_ context.Context, q *Question) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	for i := range q.TestCases {
		if q.TestCases[i].ID == uuid.Nil {
			q.TestCases[i].ID = uuid.New()
		}
	}
	s.mu.Lock()
	s.questions[q.ID] = cloneQuestion(*q)
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id uuid.UUID) (Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return Question{}, ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

// Search implements Store with a linear cosine-distance scan.
func (s *MemStore) Search(_ context.Context, aiType interview.AIType, topic, difficulty string, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, q := range s.questions {
		if q.Embedding == nil {
			continue
		}
		if aiType != "" && q.AIType != aiType {
			continue
		}
		if topic != "" && q.Topic != topic {
			continue
		}
		if difficulty != "" && q.Difficulty != difficulty {
			continue
		}
		matches = append(matches, Match{
			Question: cloneQuestion(q),
			Distance: cosineDistance(embedding, q.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Random implements Store.
func (s *MemStore) Random(_ context.Context, aiType interview.AIType, topic string) (Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pool []Question
	for _, q := range s.questions {
		if q.AIType != aiType {
			continue
		}
		if topic != "" && q.Topic != topic {
			continue
		}
		pool = append(pool, q)
	}
	if len(pool) == 0 {
		return Question{}, ErrQuestionNotFound
	}
	return cloneQuestion(pool[rand.Intn(len(pool))]), nil
}

// Len counts stored questions.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.questions)
}

func cloneQuestion(q Question) Question {
	cp := q
	if q.Embedding != nil {
		cp.Embedding = append([]float32(nil), q.Embedding...)
	}
	if q.TestCases != nil {
		cp.TestCases = append([]TestCase(nil), q.TestCases...)
	}
	return cp
}

// cosineDistance is 1 minus the cosine similarity of a and b, matching the
// pgvector <=> operator. Mismatched lengths or zero vectors score as
// maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
