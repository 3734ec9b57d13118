package ivstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// Schema is the SQL DDL for the interviews table.
const Schema = `
CREATE TABLE IF NOT EXISTS interviews (
    id                  UUID PRIMARY KEY,
    candidate_id        UUID NOT NULL,
    job_id              UUID NOT NULL,
    scheduled_start_utc TIMESTAMPTZ,
    scheduled_end_utc   TIMESTAMPTZ,
    status              TEXT NOT NULL DEFAULT 'scheduled',
    session_id          UUID,
    job_context         TEXT NOT NULL DEFAULT '',
    candidate_context   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_interviews_candidate ON interviews(candidate_id);
`

// DB is the database interface used by [PostgresStore]. *pgxpool.Pool
// satisfies this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] over the given pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ivstore: migrate: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = interview.InterviewScheduled
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO interviews (id, candidate_id, job_id, scheduled_start_utc, scheduled_end_utc, status, session_id, job_context, candidate_context)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.CandidateID, rec.JobID, rec.ScheduledStartUTC, rec.ScheduledEndUTC,
		string(rec.Status), rec.SessionID, rec.JobContext, rec.CandidateContext,
	)
	if err != nil {
		return fmt.Errorf("ivstore: insert interview: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	err := s.db.QueryRow(ctx, `
		SELECT id, candidate_id, job_id, scheduled_start_utc, scheduled_end_utc, status, session_id, job_context, candidate_context
		FROM interviews WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.CandidateID, &rec.JobID, &rec.ScheduledStartUTC, &rec.ScheduledEndUTC,
		&rec.Status, &rec.SessionID, &rec.JobContext, &rec.CandidateContext)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, interview.ErrInterviewNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("ivstore: get interview: %w", err)
	}
	return rec, nil
}

// SetStatus implements Store.
func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status interview.InterviewStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE interviews SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("ivstore: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interview.ErrInterviewNotFound
	}
	return nil
}

// AttachSession implements Store. The conditional UPDATE matches only while
// session_id is still NULL; when it matches zero rows the read-back returns
// whichever session won the race.
func (s *PostgresStore) AttachSession(ctx context.Context, interviewID, sessionID uuid.UUID) (uuid.UUID, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE interviews SET session_id = $2
		WHERE id = $1 AND session_id IS NULL`,
		interviewID, sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ivstore: attach session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return sessionID, nil
	}

	var winner uuid.NullUUID
	err = s.db.QueryRow(ctx,
		`SELECT session_id FROM interviews WHERE id = $1`, interviewID,
	).Scan(&winner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, interview.ErrInterviewNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("ivstore: read winner: %w", err)
	}
	if !winner.Valid {
		// NULL after a zero-row update means a concurrent detach, which the
		// model does not allow. Treat it as our win retried.
		return s.AttachSession(ctx, interviewID, sessionID)
	}
	return winner.UUID, nil
}
