// Package ivstore persists interviews and bridges them, together with the
// slot store, into the view the session layer needs: status transitions,
// the durable session attach that arbitrates racing redemptions, and the
// seed a fresh session is built from.
package ivstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/interview/slotstore"
	"github.com/hireloop-ai/hireloop/internal/session"
)

// Record is an interview row plus the prepared prompt contexts the
// recruiter uploaded with it.
type Record struct {
	interview.Interview

	// JobContext is the job description text injected into the
	// interviewer's system prompt.
	JobContext string

	// CandidateContext is the parsed resume summary.
	CandidateContext string
}

// Store is the interview persistence contract.
type Store interface {
	// Create inserts rec, assigning rec.ID when zero.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record by id, or interview.ErrInterviewNotFound.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// SetStatus updates the interview's lifecycle status.
	SetStatus(ctx context.Context, id uuid.UUID, status interview.InterviewStatus) error

	// AttachSession binds sessionID to the interview unless one is already
	// attached, returning the winning session id either way.
	AttachSession(ctx context.Context, interviewID, sessionID uuid.UUID) (uuid.UUID, error)
}

// Bridge combines the interview and slot stores into the
// [session.InterviewStore] the redeemer consumes.
type Bridge struct {
	Interviews   Store
	Slots        slotstore.Store
	MaxQuestions int
}

var _ session.InterviewStore = (*Bridge)(nil)

// GetInterview implements session.InterviewStore.
func (b *Bridge) GetInterview(ctx context.Context, id uuid.UUID) (interview.Interview, error) {
	rec, err := b.Interviews.Get(ctx, id)
	if err != nil {
		return interview.Interview{}, err
	}
	return rec.Interview, nil
}

// HasActiveBooking implements session.InterviewStore.
func (b *Bridge) HasActiveBooking(ctx context.Context, interviewID uuid.UUID) (bool, error) {
	_, err := b.Slots.ActiveBooking(ctx, interviewID)
	if errors.Is(err, interview.ErrBookingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AttachSession implements session.InterviewStore.
func (b *Bridge) AttachSession(ctx context.Context, interviewID, sessionID uuid.UUID) (uuid.UUID, error) {
	return b.Interviews.AttachSession(ctx, interviewID, sessionID)
}

// SessionSeed implements session.InterviewStore: slot fields carry the
// interview style, the record carries the prepared contexts.
func (b *Bridge) SessionSeed(ctx context.Context, interviewID uuid.UUID) (session.Seed, error) {
	rec, err := b.Interviews.Get(ctx, interviewID)
	if err != nil {
		return session.Seed{}, err
	}
	booking, err := b.Slots.ActiveBooking(ctx, interviewID)
	if err != nil {
		return session.Seed{}, fmt.Errorf("ivstore: seed booking: %w", err)
	}
	slot, err := b.Slots.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return session.Seed{}, fmt.Errorf("ivstore: seed slot: %w", err)
	}
	return session.Seed{
		Language:         slot.Language,
		AIType:           slot.AIType,
		Difficulty:       slot.Difficulty,
		JobContext:       rec.JobContext,
		CandidateContext: rec.CandidateContext,
		MaxQuestions:     b.MaxQuestions,
	}, nil
}
