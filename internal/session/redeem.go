package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/token"
)

// Seed is everything the interview's booking contributes to a fresh
// session: the slot's style and language plus the prepared job and
// candidate contexts for the prompt.
type Seed struct {
	Language         string
	AIType           interview.AIType
	Difficulty       string
	JobContext       string
	CandidateContext string
	MaxQuestions     int
}

// InterviewStore is the slice of the persistence layer redemption needs.
type InterviewStore interface {
	GetInterview(ctx context.Context, id uuid.UUID) (interview.Interview, error)

	// HasActiveBooking reports whether the interview still has a
	// non-canceled booking.
	HasActiveBooking(ctx context.Context, interviewID uuid.UUID) (bool, error)

	// AttachSession binds sessionID to the interview unless a session is
	// already attached, and returns the winning session id either way.
	AttachSession(ctx context.Context, interviewID, sessionID uuid.UUID) (uuid.UUID, error)

	// SessionSeed assembles the session parameters from the interview's
	// booking, slot, and prepared contexts.
	SessionSeed(ctx context.Context, interviewID uuid.UUID) (Seed, error)
}

// RedeemerConfig wires a [Redeemer].
type RedeemerConfig struct {
	Signer     *token.Signer
	Clock      clock.Clock
	Interviews InterviewStore
	Registry   *Registry

	// OnTerminal is installed on every handle the redeemer creates.
	OnTerminal func(Session)
}

// Redeemer turns a valid access token into a session handle: the first
// redemption creates the session, later ones within the window resume it.
type Redeemer struct {
	signer     *token.Signer
	clk        clock.Clock
	interviews InterviewStore
	registry   *Registry
	onTerminal func(Session)
}

// NewRedeemer builds a Redeemer.
func NewRedeemer(cfg RedeemerConfig) *Redeemer {
	return &Redeemer{
		signer:     cfg.Signer,
		clk:        cfg.Clock,
		interviews: cfg.Interviews,
		registry:   cfg.Registry,
		onTerminal: cfg.OnTerminal,
	}
}

// Redeem validates raw and returns the session handle it admits to.
//
// Error kinds: token.ErrMalformed, token.ErrInvalidSignature,
// token.ErrUnknownKey, token.ErrExpired, *token.TooEarlyError, ErrCanceled,
// ErrAlreadyTerminal, interview.ErrInterviewNotFound.
func (r *Redeemer) Redeem(ctx context.Context, raw string) (*Handle, error) {
	payload, err := r.signer.Verify(raw)
	if err != nil {
		return nil, err
	}
	if err := token.CheckWindow(payload, r.clk.Now()); err != nil {
		return nil, err
	}

	interviewID, err := uuid.Parse(payload.InterviewID)
	if err != nil {
		return nil, token.ErrMalformed
	}

	iv, err := r.interviews.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if iv.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	active, err := r.interviews.HasActiveBooking(ctx, interviewID)
	if err != nil {
		return nil, fmt.Errorf("session: check booking: %w", err)
	}
	if !active {
		return nil, ErrCanceled
	}

	// Resume path: the interview already has a session.
	if iv.SessionID.Valid {
		if h, ok := r.registry.Get(iv.SessionID.UUID); ok {
			return h, nil
		}
		// The process restarted since the first redemption; rebuild the
		// handle under the same id.
		return r.startHandle(ctx, iv, iv.SessionID.UUID, payload)
	}

	// First redemption. The durable attach is the arbiter when two
	// candidates (or two tabs) race: whoever attaches first wins and the
	// loser adopts the winner's session.
	sessionID := uuid.New()
	winner, err := r.interviews.AttachSession(ctx, interviewID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: attach: %w", err)
	}
	if winner != sessionID {
		if h, ok := r.registry.Get(winner); ok {
			return h, nil
		}
		sessionID = winner
	}
	return r.startHandle(ctx, iv, sessionID, payload)
}

// startHandle builds and registers a handle for sessionID, deduplicating
// against a concurrent insert.
func (r *Redeemer) startHandle(ctx context.Context, iv interview.Interview, sessionID uuid.UUID, payload token.Payload) (*Handle, error) {
	seed, err := r.interviews.SessionSeed(ctx, iv.ID)
	if err != nil {
		return nil, fmt.Errorf("session: seed: %w", err)
	}

	_, until := payload.Window()
	h := NewHandle(HandleConfig{
		ID:               sessionID,
		InterviewID:      iv.ID,
		Language:         seed.Language,
		AIType:           seed.AIType,
		Difficulty:       seed.Difficulty,
		JobContext:       seed.JobContext,
		CandidateContext: seed.CandidateContext,
		MaxQuestions:     seed.MaxQuestions,
		ValidUntil:       until,
		Clock:            r.clk,
		OnTerminal:       r.onTerminal,
	})
	h, loaded := r.registry.LoadOrStore(h)
	if !loaded {
		slog.Info("session created",
			"session_id", sessionID,
			"interview_id", iv.ID,
			"valid_until", until.Format(time.RFC3339))
	}
	return h, nil
}
