package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

// defaultMailboxSize bounds how many pending events a session queues before
// senders block. Events are small closures; 64 rides out bursts from the
// relay and the proctoring loop.
const defaultMailboxSize = 64

// HandleConfig carries everything needed to start a session handle.
type HandleConfig struct {
	ID          uuid.UUID
	InterviewID uuid.UUID

	Language         string
	AIType           interview.AIType
	Difficulty       string
	JobContext       string
	CandidateContext string
	MaxQuestions     int

	// ValidUntil is the hard deadline. A non-terminal session is abandoned
	// when it passes.
	ValidUntil time.Time

	Clock clock.Clock

	// OnTerminal runs once, from the mailbox goroutine, right after the
	// session reaches a terminal status. The evaluation assembler hangs off
	// this hook.
	OnTerminal func(Session)

	MailboxSize int
}

type task struct {
	fn   func(*Session)
	done chan struct{}
}

// Handle owns one session. All reads and writes of the Session record go
// through the mailbox goroutine, so concurrent events from the relay, the
// browser, and the proctoring loop are applied in arrival order.
type Handle struct {
	id          uuid.UUID
	interviewID uuid.UUID
	validUntil  time.Time
	clk         clock.Clock

	mailbox chan task
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// ctx is canceled at terminal; the relay and proctoring loop derive
	// their lifetimes from it.
	ctx    context.Context
	cancel context.CancelFunc

	onTerminal func(Session)
}

// NewHandle creates the session record and starts its mailbox goroutine.
func NewHandle(cfg HandleConfig) *Handle {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	size := cfg.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:          cfg.ID,
		interviewID: cfg.InterviewID,
		validUntil:  cfg.ValidUntil,
		clk:         cfg.Clock,
		mailbox:     make(chan task, size),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		onTerminal:  cfg.OnTerminal,
	}

	s := &Session{
		ID:               cfg.ID,
		InterviewID:      cfg.InterviewID,
		StartedAt:        cfg.Clock.Now(),
		Language:         cfg.Language,
		AIType:           cfg.AIType,
		Difficulty:       cfg.Difficulty,
		JobContext:       cfg.JobContext,
		CandidateContext: cfg.CandidateContext,
		MaxQuestions:     cfg.MaxQuestions,
		Status:           interview.InterviewScheduled,
		DialogueState:    DialogueBooting,
	}
	go h.run(s)
	return h
}

// ID returns the session id.
func (h *Handle) ID() uuid.UUID { return h.id }

// InterviewID returns the interview this session belongs to.
func (h *Handle) InterviewID() uuid.UUID { return h.interviewID }

// ValidUntil returns the hard deadline of the access window.
func (h *Handle) ValidUntil() time.Time { return h.validUntil }

// Context is canceled when the session reaches a terminal status or the
// handle closes. Streaming loops tie their lifetime to it.
func (h *Handle) Context() context.Context { return h.ctx }

// run is the mailbox goroutine. It applies tasks in arrival order and fires
// the hard abandon timer at validUntil.
func (h *Handle) run(s *Session) {
	defer close(h.stopped)
	defer h.cancel()

	var hardC <-chan time.Time
	if !h.validUntil.IsZero() {
		t := time.NewTimer(h.validUntil.Sub(h.clk.Now()))
		defer t.Stop()
		hardC = t.C
	}

	for {
		select {
		case t := <-h.mailbox:
			wasTerminal := s.Terminal()
			t.fn(s)
			close(t.done)
			if !wasTerminal && s.Terminal() {
				h.finish(s)
			}
		case <-hardC:
			hardC = nil
			if !s.Terminal() {
				s.Status = interview.InterviewAbandoned
				s.TerminalReason = "access window elapsed"
				slog.Info("session abandoned at window end",
					"session_id", h.id, "interview_id", h.interviewID)
				h.finish(s)
			}
		case <-h.stop:
			return
		}
	}
}

// finish runs terminal bookkeeping once. The handle stays readable so the
// finalize path can still snapshot the record.
func (h *Handle) finish(s *Session) {
	h.cancel()
	if h.onTerminal != nil {
		h.onTerminal(s.Clone())
	}
}

// Do runs fn inside the mailbox and waits for it. fn must not retain the
// *Session past its return.
func (h *Handle) Do(ctx context.Context, fn func(*Session)) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case h.mailbox <- t:
	case <-h.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-h.stopped:
		// The task may have been applied in the same instant the handle
		// shut down; completed work wins.
		select {
		case <-t.done:
			return nil
		default:
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the session record.
func (h *Handle) Snapshot(ctx context.Context) (Session, error) {
	var out Session
	err := h.Do(ctx, func(s *Session) { out = s.Clone() })
	return out, err
}

// Transition moves the session to a new lifecycle status. Moving out of a
// terminal status fails with ErrAlreadyTerminal; an edge outside the
// lifecycle graph is rejected.
func (h *Handle) Transition(ctx context.Context, to interview.InterviewStatus, reason string) error {
	var terr error
	err := h.Do(ctx, func(s *Session) {
		if s.Terminal() {
			terr = ErrAlreadyTerminal
			return
		}
		if !canTransition(s.Status, to) {
			terr = fmt.Errorf("session: illegal transition %s -> %s", s.Status, to)
			return
		}
		s.Status = to
		s.TerminalReason = reason
	})
	if err != nil {
		return err
	}
	return terr
}

// Fail moves the session to the failed terminal status with a diagnostic.
// Already-terminal sessions are left as they are.
func (h *Handle) Fail(ctx context.Context, reason string) error {
	return h.Do(ctx, func(s *Session) {
		if s.Terminal() {
			return
		}
		s.Status = interview.InterviewFailed
		s.TerminalReason = reason
		slog.Error("session failed", "session_id", h.id, "reason", reason)
	})
}

// AppendInterviewerTurn logs a question turn and returns its sequence.
func (h *Handle) AppendInterviewerTurn(ctx context.Context, text, audioURL string) (int, error) {
	var seq int
	err := h.Do(ctx, func(s *Session) {
		r := s.AppendTurn(RoleInterviewer, text, h.clk.Now())
		r.AudioURL = audioURL
		s.LastQuestionText = text
		seq = r.Sequence
	})
	return seq, err
}

// AppendCandidateTurn logs an answer turn with its response time.
func (h *Handle) AppendCandidateTurn(ctx context.Context, text string, responseTime time.Duration) (int, error) {
	var seq int
	err := h.Do(ctx, func(s *Session) {
		r := s.AppendTurn(RoleCandidate, text, h.clk.Now())
		r.ResponseTimeMs = responseTime.Milliseconds()
		seq = r.Sequence
	})
	return seq, err
}

// AppendSystemTurn logs a system message ("transcription unavailable", a
// proctoring notice) at the next sequence.
func (h *Handle) AppendSystemTurn(ctx context.Context, text string) (int, error) {
	var seq int
	err := h.Do(ctx, func(s *Session) {
		seq = s.AppendTurn(RoleSystem, text, h.clk.Now()).Sequence
	})
	return seq, err
}

// Close stops the mailbox goroutine. Pending Do callers get ErrClosed.
func (h *Handle) Close() {
	h.once.Do(func() { close(h.stop) })
}

// Done is closed when the mailbox goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.stopped }
