package questionbank

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// Schema is the SQL DDL for the question bank. The vector dimension must
// match the embeddings model the bank is seeded with.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS questions (
    id         UUID PRIMARY KEY,
    ai_type    TEXT NOT NULL,
    topic      TEXT NOT NULL DEFAULT '',
    difficulty TEXT NOT NULL DEFAULT '',
    text       TEXT NOT NULL,
    embedding  vector(1536)
);
CREATE INDEX IF NOT EXISTS idx_questions_type_topic ON questions(ai_type, topic);

CREATE TABLE IF NOT EXISTS question_test_cases (
    id          UUID PRIMARY KEY,
    question_id UUID NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
    stdin       TEXT NOT NULL DEFAULT '',
    expected    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_test_cases_question ON question_test_cases(question_id);
`

// DB is the database interface used by [PostgresStore]. *pgxpool.Pool
// satisfies this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL with pgvector.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("questionbank: migrate: %w", err)
	}
	return nil
}

// Add upserts the question and replaces its test cases. Re-seeding with the
// same id refreshes text and embedding in place.
func (s *PostgresStore) Add(ctx context.Context, q *Question) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	var emb any
	if q.Embedding != nil {
		emb = pgvector.NewVector(q.Embedding)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO questions (id, ai_type, topic, difficulty, text, embedding)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET ai_type = EXCLUDED.ai_type,
		    topic = EXCLUDED.topic,
		    difficulty = EXCLUDED.difficulty,
		    text = EXCLUDED.text,
		    embedding = EXCLUDED.embedding`,
		q.ID, string(q.AIType), q.Topic, q.Difficulty, q.Text, emb,
	)
	if err != nil {
		return fmt.Errorf("questionbank: upsert question: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`DELETE FROM question_test_cases WHERE question_id = $1`, q.ID); err != nil {
		return fmt.Errorf("questionbank: clear test cases: %w", err)
	}
	for i := range q.TestCases {
		tc := &q.TestCases[i]
		if tc.ID == uuid.Nil {
			tc.ID = uuid.New()
		}
		if _, err := s.db.Exec(ctx, `
			INSERT INTO question_test_cases (id, question_id, stdin, expected)
			VALUES ($1,$2,$3,$4)`,
			tc.ID, q.ID, tc.Stdin, tc.Expected,
		); err != nil {
			return fmt.Errorf("questionbank: insert test case: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Question, error) {
	var q Question
	var emb *pgvector.Vector
	err := s.db.QueryRow(ctx, `
		SELECT id, ai_type, topic, difficulty, text, embedding
		FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.AIType, &q.Topic, &q.Difficulty, &q.Text, &emb)
	if errors.Is(err, pgx.ErrNoRows) {
		return Question{}, ErrQuestionNotFound
	}
	if err != nil {
		return Question{}, fmt.Errorf("questionbank: get question: %w", err)
	}
	if emb != nil {
		q.Embedding = emb.Slice()
	}
	if q.TestCases, err = s.testCases(ctx, q.ID); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Search implements Store using pgvector cosine distance ordering.
func (s *PostgresStore) Search(ctx context.Context, aiType interview.AIType, topic, difficulty string, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	args := []any{pgvector.NewVector(embedding)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	query := `
		SELECT id, ai_type, topic, difficulty, text, embedding <=> $1 AS distance
		FROM questions
		WHERE embedding IS NOT NULL`
	if aiType != "" {
		query += ` AND ai_type = ` + next(string(aiType))
	}
	if topic != "" {
		query += ` AND topic = ` + next(topic)
	}
	if difficulty != "" {
		query += ` AND difficulty = ` + next(difficulty)
	}
	query += ` ORDER BY distance LIMIT ` + next(topK)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("questionbank: search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.Question.ID, &m.Question.AIType, &m.Question.Topic,
			&m.Question.Difficulty, &m.Question.Text, &m.Distance)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("questionbank: collect matches: %w", err)
	}
	return matches, nil
}

// Random implements Store.
func (s *PostgresStore) Random(ctx context.Context, aiType interview.AIType, topic string) (Question, error) {
	args := []any{string(aiType)}
	query := `
		SELECT id, ai_type, topic, difficulty, text
		FROM questions WHERE ai_type = $1`
	if topic != "" {
		args = append(args, topic)
		query += ` AND topic = $2`
	}
	query += ` ORDER BY random() LIMIT 1`

	var q Question
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&q.ID, &q.AIType, &q.Topic, &q.Difficulty, &q.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return Question{}, ErrQuestionNotFound
	}
	if err != nil {
		return Question{}, fmt.Errorf("questionbank: random question: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) testCases(ctx context.Context, questionID uuid.UUID) ([]TestCase, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, stdin, expected
		FROM question_test_cases WHERE question_id = $1
		ORDER BY id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("questionbank: test cases: %w", err)
	}
	cases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TestCase, error) {
		var tc TestCase
		err := row.Scan(&tc.ID, &tc.Stdin, &tc.Expected)
		return tc, err
	})
	if err != nil {
		return nil, fmt.Errorf("questionbank: collect test cases: %w", err)
	}
	return cases, nil
}
