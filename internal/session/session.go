// Package session is the runtime home of one interview: the in-memory
// record mutated by the dialogue controller, the relay, and the proctoring
// loop, all serialized through a per-session mailbox; the registry indexing
// active sessions; and token redemption, which is the only way a session
// comes into existence.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

var (
	// ErrCanceled indicates the interview's booking was canceled, so the
	// token no longer admits anyone.
	ErrCanceled = errors.New("session: booking canceled")

	// ErrAlreadyTerminal indicates the session already finished and the
	// token cannot resume it.
	ErrAlreadyTerminal = errors.New("session: already terminal")

	// ErrClosed indicates the handle's mailbox has shut down.
	ErrClosed = errors.New("session: handle closed")
)

// Role identifies who produced a turn.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
	RoleSystem      Role = "system"
)

// TurnRecord is one entry of a session's dialogue log. Sequence values are
// dense and strictly increasing from 0, interviewer first.
type TurnRecord struct {
	SessionID      uuid.UUID
	Role           Role
	Sequence       int
	Text           string
	CreatedAt      time.Time
	AudioURL       string // interviewer turns only
	ResponseTimeMs int64  // candidate turns only
}

// DialogueState names where the dialogue controller currently is. Owned by
// the controller; stored here so the portal and the report can show it.
type DialogueState string

const (
	DialogueBooting        DialogueState = "booting"
	DialoguePreamble       DialogueState = "preamble"
	DialogueAsking         DialogueState = "asking"
	DialogueAwaitingAnswer DialogueState = "awaiting_answer"
	DialogueEvaluating     DialogueState = "evaluating"
	DialogueClosing        DialogueState = "closing"
	DialogueDone           DialogueState = "done"
)

// Session is the mutable runtime record of one interview. It is owned by
// the handle's mailbox goroutine; outside code only ever sees copies or
// mutates it inside Handle.Do.
type Session struct {
	ID          uuid.UUID
	InterviewID uuid.UUID
	StartedAt   time.Time

	Language         string
	AIType           interview.AIType
	Difficulty       string
	JobContext       string
	CandidateContext string

	Status        interview.InterviewStatus
	DialogueState DialogueState

	MaxQuestions     int
	QuestionIndex    int
	AwaitingAnswer   bool
	LastQuestionText string
	CodingActive     bool

	Turns []TurnRecord

	// WarningCount feeds the proctoring penalty of the final evaluation.
	WarningCount int

	// TerminalReason is a short diagnostic set alongside a terminal status.
	TerminalReason string
}

// Terminal reports whether the session reached a terminal status.
func (s *Session) Terminal() bool { return s.Status.Terminal() }

// AppendTurn adds a record with the next dense sequence number and returns
// it. Callers must hold the mailbox (see Handle.Do).
func (s *Session) AppendTurn(role Role, text string, at time.Time) *TurnRecord {
	s.Turns = append(s.Turns, TurnRecord{
		SessionID: s.ID,
		Role:      role,
		Sequence:  len(s.Turns),
		Text:      text,
		CreatedAt: at,
	})
	return &s.Turns[len(s.Turns)-1]
}

// Clone returns a deep copy safe to use outside the mailbox.
func (s *Session) Clone() Session {
	cp := *s
	cp.Turns = make([]TurnRecord, len(s.Turns))
	copy(cp.Turns, s.Turns)
	return cp
}

// transitions is the legal lifecycle edge set.
var transitions = map[interview.InterviewStatus][]interview.InterviewStatus{
	interview.InterviewScheduled: {
		interview.InterviewLive,
		interview.InterviewExpired,
		interview.InterviewAbandoned,
		interview.InterviewFailed,
	},
	interview.InterviewLive: {
		interview.InterviewCompleted,
		interview.InterviewExpired,
		interview.InterviewAbandoned,
		interview.InterviewFailed,
	},
}

// canTransition reports whether from -> to is a legal lifecycle edge.
func canTransition(from, to interview.InterviewStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
