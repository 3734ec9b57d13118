// Package questionbank stores seeded interview questions with embeddings
// and serves two retrieval paths: semantic search for the opening question
// of a session, and canned per-topic fallbacks for when the LLM misbehaves
// or times out.
package questionbank

import (
	"context"
	"errors"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// ErrQuestionNotFound is returned for an unknown question id.
var ErrQuestionNotFound = errors.New("questionbank: question not found")

// TestCase is one stdin/expected pair bound to a coding question.
type TestCase struct {
	ID       uuid.UUID
	Stdin    string
	Expected string
}

// Question is one seeded interview question.
type Question struct {
	ID         uuid.UUID
	AIType     interview.AIType
	Topic      string
	Difficulty string
	Text       string

	// TestCases is non-empty only for coding questions.
	TestCases []TestCase

	// Embedding of Text, used for semantic retrieval. May be nil when the
	// bank was seeded without an embeddings provider.
	Embedding []float32
}

// Match is a retrieved question with its cosine distance to the query.
type Match struct {
	Question Question
	Distance float64
}

// Store is the persistence interface of the bank.
type Store interface {
	Add(ctx context.Context, q *Question) error
	Get(ctx context.Context, id uuid.UUID) (Question, error)

	// Search returns up to topK questions of the given type ordered by
	// ascending cosine distance to embedding. Topic and difficulty filter
	// when non-empty.
	Search(ctx context.Context, aiType interview.AIType, topic, difficulty string, embedding []float32, topK int) ([]Match, error)

	// Random returns a random question of the given type, ignoring
	// embeddings. Used when no embeddings provider is configured.
	Random(ctx context.Context, aiType interview.AIType, topic string) (Question, error)
}

// canned is the static fallback list, keyed by ai_type. These are asked
// verbatim when both retrieval and the LLM fail; they must stand alone
// without job context.
var canned = map[interview.AIType][]string{
	interview.TypeTechnical: {
		"Walk me through a technically challenging problem you solved recently and the trade-offs you weighed.",
		"How do you decide between optimizing for latency and optimizing for throughput in a service you own?",
		"Describe how you would debug a production issue that you cannot reproduce locally.",
	},
	interview.TypeBehavioral: {
		"Tell me about a time you disagreed with a teammate on a technical decision. How was it resolved?",
		"Describe a situation where you had to deliver under a deadline you thought was unrealistic.",
		"Tell me about a piece of feedback that changed how you work.",
	},
	interview.TypeCoding: {
		"Given an array of integers, describe how you would find the longest run of strictly increasing values, then we will implement it.",
		"How would you detect whether two strings are anagrams of each other? Talk through your approach before coding.",
	},
	interview.TypeSystemDesign: {
		"Design a URL shortener. Start from the data model and walk outward to the read path.",
		"How would you design a rate limiter shared by a fleet of API servers?",
	},
	interview.TypeGeneral: {
		"What attracted you to this role, and what would you want to work on in your first three months?",
		"Tell me about the project you are most proud of.",
	},
}

// Canned returns a fallback question for the given type. topic biases the
// pick when a canned question mentions it; otherwise the choice is random.
// The general list backs any type with no entries.
func Canned(aiType interview.AIType, topic string) string {
	list := canned[aiType]
	if len(list) == 0 {
		list = canned[interview.TypeGeneral]
	}
	if topic != "" {
		lower := strings.ToLower(topic)
		for _, q := range list {
			if strings.Contains(strings.ToLower(q), lower) {
				return q
			}
		}
	}
	return list[rand.Intn(len(list))]
}
