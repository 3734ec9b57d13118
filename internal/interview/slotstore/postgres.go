package slotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// Schema is the SQL DDL for the slots and bookings tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS slots (
    id           UUID PRIMARY KEY,
    company      TEXT NOT NULL,
    job          TEXT NOT NULL DEFAULT '',
    start_utc    TIMESTAMPTZ NOT NULL,
    end_utc      TIMESTAMPTZ NOT NULL,
    capacity     INT NOT NULL CHECK (capacity > 0),
    booked_count INT NOT NULL DEFAULT 0 CHECK (booked_count >= 0 AND booked_count <= capacity),
    status       TEXT NOT NULL DEFAULT 'available',
    ai_type      TEXT NOT NULL,
    difficulty   TEXT NOT NULL DEFAULT '',
    language     TEXT NOT NULL DEFAULT 'en',
    CHECK (start_utc < end_utc)
);
CREATE INDEX IF NOT EXISTS idx_slots_company_type_start ON slots(company, ai_type, start_utc);

CREATE TABLE IF NOT EXISTS bookings (
    id           UUID PRIMARY KEY,
    slot_id      UUID NOT NULL REFERENCES slots(id),
    interview_id UUID NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    notes        TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'confirmed'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_interview
    ON bookings(interview_id) WHERE status <> 'canceled';
CREATE INDEX IF NOT EXISTS idx_bookings_slot ON bookings(slot_id);
`

// DB is the database interface used by [PostgresStore]. *pgxpool.Pool
// satisfies this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] over the given pool. The
// caller is responsible for calling [PostgresStore.Migrate] to ensure the
// schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("slotstore: migrate: %w", err)
	}
	return nil
}

// CreateSlot inserts the slot after checking the overlap policy. An advisory
// transaction lock on (company, ai_type) serialises concurrent creators so
// the check-then-insert pair cannot race.
func (s *PostgresStore) CreateSlot(ctx context.Context, slot *interview.Slot) error {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.Status == "" {
		slot.Status = interview.SlotAvailable
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("slotstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
		slot.Company, string(slot.AIType)); err != nil {
		return fmt.Errorf("slotstore: advisory lock: %w", err)
	}

	var overlaps bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE company = $1 AND ai_type = $2
			  AND status <> 'canceled'
			  AND booked_count < capacity
			  AND start_utc < $4 AND $3 < end_utc
		)`,
		slot.Company, string(slot.AIType), slot.StartUTC, slot.EndUTC,
	).Scan(&overlaps)
	if err != nil {
		return fmt.Errorf("slotstore: overlap check: %w", err)
	}
	if overlaps {
		return interview.ErrSlotOverlap
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO slots (id, company, job, start_utc, end_utc, capacity, booked_count, status, ai_type, difficulty, language)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		slot.ID, slot.Company, slot.Job, slot.StartUTC, slot.EndUTC,
		slot.Capacity, slot.BookedCount, string(slot.Status), string(slot.AIType),
		slot.Difficulty, slot.Language,
	)
	if err != nil {
		return fmt.Errorf("slotstore: insert slot: %w", err)
	}
	return tx.Commit(ctx)
}

// GetSlot implements Store.
func (s *PostgresStore) GetSlot(ctx context.Context, id uuid.UUID) (interview.Slot, error) {
	var slot interview.Slot
	err := s.db.QueryRow(ctx, `
		SELECT id, company, job, start_utc, end_utc, capacity, booked_count, status, ai_type, difficulty, language
		FROM slots WHERE id = $1`, id,
	).Scan(&slot.ID, &slot.Company, &slot.Job, &slot.StartUTC, &slot.EndUTC,
		&slot.Capacity, &slot.BookedCount, &slot.Status, &slot.AIType,
		&slot.Difficulty, &slot.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Slot{}, interview.ErrSlotNotFound
	}
	if err != nil {
		return interview.Slot{}, fmt.Errorf("slotstore: get slot: %w", err)
	}
	return slot, nil
}

// CancelSlot implements Store.
func (s *PostgresStore) CancelSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE slots SET status = 'canceled' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("slotstore: cancel slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interview.ErrSlotNotFound
	}
	return nil
}

// Book implements Store. The capacity check and increment are one
// conditional UPDATE, so concurrent bookers race on committed row state:
// the statement matches only while a place is free.
func (s *PostgresStore) Book(ctx context.Context, slotID, interviewID uuid.UUID, notes string) (interview.Booking, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return interview.Booking{}, fmt.Errorf("slotstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var bookedCount int
	err = tx.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = booked_count + 1,
		    status = CASE WHEN booked_count + 1 = capacity THEN 'full' ELSE status END
		WHERE id = $1 AND status <> 'canceled' AND booked_count < capacity
		RETURNING booked_count`, slotID,
	).Scan(&bookedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Booking{}, s.classifyBookFailure(ctx, slotID)
	}
	if err != nil {
		return interview.Booking{}, fmt.Errorf("slotstore: book: %w", err)
	}

	booking := interview.Booking{
		ID:          uuid.New(),
		SlotID:      slotID,
		InterviewID: interviewID,
		Notes:       notes,
		Status:      interview.BookingConfirmed,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (id, slot_id, interview_id, notes, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		booking.ID, booking.SlotID, booking.InterviewID, booking.Notes, string(booking.Status),
	).Scan(&booking.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return interview.Booking{}, interview.ErrAlreadyBooked
		}
		return interview.Booking{}, fmt.Errorf("slotstore: insert booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return interview.Booking{}, fmt.Errorf("slotstore: commit: %w", err)
	}
	return booking, nil
}

// classifyBookFailure maps a zero-row conditional UPDATE to the precise
// booking error by inspecting the slot row.
func (s *PostgresStore) classifyBookFailure(ctx context.Context, slotID uuid.UUID) error {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM slots WHERE id = $1`, slotID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.ErrSlotNotFound
	}
	if err != nil {
		return fmt.Errorf("slotstore: inspect slot: %w", err)
	}
	if interview.SlotStatus(status) == interview.SlotCanceled {
		return interview.ErrSlotCanceled
	}
	return interview.ErrSlotFull
}

// Release implements Store. The booking flip carries the status guard, so a
// repeated release matches zero rows and decrements nothing.
func (s *PostgresStore) Release(ctx context.Context, bookingID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("slotstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var slotID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE bookings SET status = 'canceled'
		WHERE id = $1 AND status <> 'canceled'
		RETURNING slot_id`, bookingID,
	).Scan(&slotID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown id or already canceled; distinguish for the caller.
		var exists bool
		if qerr := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, bookingID,
		).Scan(&exists); qerr != nil {
			return fmt.Errorf("slotstore: inspect booking: %w", qerr)
		}
		if !exists {
			return interview.ErrBookingNotFound
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("slotstore: release booking: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE slots
		SET booked_count = booked_count - 1,
		    status = CASE WHEN status = 'full' THEN 'available' ELSE status END
		WHERE id = $1 AND booked_count > 0`, slotID)
	if err != nil {
		return fmt.Errorf("slotstore: release capacity: %w", err)
	}
	return tx.Commit(ctx)
}

// GetBooking implements Store.
func (s *PostgresStore) GetBooking(ctx context.Context, id uuid.UUID) (interview.Booking, error) {
	var b interview.Booking
	err := s.db.QueryRow(ctx, `
		SELECT id, slot_id, interview_id, created_at, notes, status
		FROM bookings WHERE id = $1`, id,
	).Scan(&b.ID, &b.SlotID, &b.InterviewID, &b.CreatedAt, &b.Notes, &b.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Booking{}, interview.ErrBookingNotFound
	}
	if err != nil {
		return interview.Booking{}, fmt.Errorf("slotstore: get booking: %w", err)
	}
	return b, nil
}

// ActiveBooking implements Store. The partial unique index guarantees at
// most one matching row.
func (s *PostgresStore) ActiveBooking(ctx context.Context, interviewID uuid.UUID) (interview.Booking, error) {
	var b interview.Booking
	err := s.db.QueryRow(ctx, `
		SELECT id, slot_id, interview_id, created_at, notes, status
		FROM bookings WHERE interview_id = $1 AND status <> 'canceled'`, interviewID,
	).Scan(&b.ID, &b.SlotID, &b.InterviewID, &b.CreatedAt, &b.Notes, &b.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Booking{}, interview.ErrBookingNotFound
	}
	if err != nil {
		return interview.Booking{}, fmt.Errorf("slotstore: active booking: %w", err)
	}
	return b, nil
}

// SearchAvailable implements Store.
func (s *PostgresStore) SearchAvailable(ctx context.Context, company string, aiType interview.AIType, from, to time.Time) ([]interview.Slot, error) {
	query := `
		SELECT id, company, job, start_utc, end_utc, capacity, booked_count, status, ai_type, difficulty, language
		FROM slots
		WHERE company = $1
		  AND status <> 'canceled'
		  AND booked_count < capacity
		  AND start_utc >= $2 AND start_utc < $3`
	args := []any{company, from, to}
	if aiType != "" {
		query += ` AND ai_type = $4`
		args = append(args, string(aiType))
	}
	query += ` ORDER BY start_utc ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("slotstore: search: %w", err)
	}
	defer rows.Close()

	var slots []interview.Slot
	for rows.Next() {
		var slot interview.Slot
		if err := rows.Scan(&slot.ID, &slot.Company, &slot.Job, &slot.StartUTC, &slot.EndUTC,
			&slot.Capacity, &slot.BookedCount, &slot.Status, &slot.AIType,
			&slot.Difficulty, &slot.Language); err != nil {
			return nil, fmt.Errorf("slotstore: scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slotstore: iterate slots: %w", err)
	}
	return slots, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
