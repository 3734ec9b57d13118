package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the evaluations table.
const Schema = `
CREATE TABLE IF NOT EXISTS evaluations (
    interview_id    UUID PRIMARY KEY,
    session_id      UUID NOT NULL,
    overall_score   DOUBLE PRECISION NOT NULL,
    technical       DOUBLE PRECISION NOT NULL,
    communication   DOUBLE PRECISION NOT NULL,
    problem_solving DOUBLE PRECISION NOT NULL,
    avg_turn_score  DOUBLE PRECISION NOT NULL,
    coding_score    INT NOT NULL DEFAULT -1,
    penalty         DOUBLE PRECISION NOT NULL,
    warning_count   INT NOT NULL,
    summary         TEXT NOT NULL DEFAULT '',
    report_ref      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL
);
`

// DB is the database interface used by [PostgresStore].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("evaluation: migrate: %w", err)
	}
	return nil
}

// Upsert implements Store; a second assembly replaces the first.
func (s *PostgresStore) Upsert(ctx context.Context, ev *Evaluation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO evaluations (interview_id, session_id, overall_score, technical,
			communication, problem_solving, avg_turn_score, coding_score, penalty,
			warning_count, summary, report_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (interview_id) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    overall_score = EXCLUDED.overall_score,
		    technical = EXCLUDED.technical,
		    communication = EXCLUDED.communication,
		    problem_solving = EXCLUDED.problem_solving,
		    avg_turn_score = EXCLUDED.avg_turn_score,
		    coding_score = EXCLUDED.coding_score,
		    penalty = EXCLUDED.penalty,
		    warning_count = EXCLUDED.warning_count,
		    summary = EXCLUDED.summary,
		    report_ref = EXCLUDED.report_ref,
		    created_at = EXCLUDED.created_at`,
		ev.InterviewID, ev.SessionID, ev.OverallScore, ev.Dimensions.Technical,
		ev.Dimensions.Communication, ev.Dimensions.ProblemSolving, ev.AvgTurnScore,
		ev.CodingScore, ev.Penalty, ev.WarningCount, ev.Summary, ev.ReportRef,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("evaluation: upsert: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, interviewID uuid.UUID) (Evaluation, error) {
	var ev Evaluation
	err := s.db.QueryRow(ctx, `
		SELECT interview_id, session_id, overall_score, technical, communication,
			problem_solving, avg_turn_score, coding_score, penalty, warning_count,
			summary, report_ref, created_at
		FROM evaluations WHERE interview_id = $1`, interviewID,
	).Scan(&ev.InterviewID, &ev.SessionID, &ev.OverallScore, &ev.Dimensions.Technical,
		&ev.Dimensions.Communication, &ev.Dimensions.ProblemSolving, &ev.AvgTurnScore,
		&ev.CodingScore, &ev.Penalty, &ev.WarningCount, &ev.Summary, &ev.ReportRef,
		&ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Evaluation{}, ErrNotFound
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluation: get: %w", err)
	}
	return ev, nil
}
