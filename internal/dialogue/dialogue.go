// Package dialogue drives the interviewer side of a session: it generates
// questions through the LLM, synthesizes their audio, waits for the
// candidate's answer, classifies it, and decides between follow-up, repeat
// and moving on. One Controller exists per live session and its public
// methods are serialized, matching the per-session mailbox model.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/transcript"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

const (
	defaultLLMTimeout    = 20 * time.Second
	defaultTTSTimeout    = 15 * time.Second
	defaultAnswerTimeout = 60 * time.Second
	defaultNoVoiceGrace  = 15 * time.Second

	// finalWait is how long the controller waits for a trailing final
	// transcript when the snapshot at submit time is empty.
	finalWait = time.Second

	// pollInterval paces the answer-wait loop.
	defaultPollInterval = 100 * time.Millisecond

	// historyTurns is how many prior turns each prompt carries.
	historyTurns = 6

	// maxFollowUps per MAIN question.
	maxFollowUps = 1

	// maxConsecutiveEmpties before the controller forces Next.
	maxConsecutiveEmpties = 2

	// coverageThreshold under which an answer to a MAIN question earns a
	// follow-up.
	coverageThreshold = 0.6

	// emptyReprompt is what the interviewer says when the candidate's
	// answer came back empty and the controller decided to ask again.
	emptyReprompt = "I didn't catch that, please try again."
)

// Level marks a question as a main question or a follow-up to one.
type Level string

const (
	LevelMain     Level = "MAIN"
	LevelFollowUp Level = "FOLLOW_UP"
)

// PromptKind tells the transport what the controller just produced.
type PromptKind string

const (
	PromptPreamble PromptKind = "preamble"
	PromptQuestion PromptKind = "question"
	PromptReprompt PromptKind = "reprompt"
	PromptClosing  PromptKind = "closing"
)

// Prompt is one interviewer utterance pushed to the candidate.
type Prompt struct {
	Kind     PromptKind
	Text     string
	AudioRef string
	Seq      int
	Level    Level
	Topic    string

	// QuestionIndex is the zero-based index of the current MAIN question.
	QuestionIndex int
}

// Synthesizer turns text into a stored audio ref. *ttscache.Cache
// satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (string, error)
}

// Config wires a Controller.
type Config struct {
	LLM   llm.Provider
	TTS   Synthesizer // nil = text-only from the start
	Voice types.VoiceProfile
	Bank  *questionbank.Bank

	Transcript *transcript.Accumulator
	Session    *session.Handle
	Clock      clock.Clock

	// Interview shape, used in every prompt.
	Company         string
	Role            string
	JobDescription  string
	CandidateResume string
	Language        string
	Difficulty      string
	AIType          interview.AIType
	MaxQuestions    int

	LLMTimeout    time.Duration
	TTSTimeout    time.Duration
	AnswerTimeout time.Duration
	NoVoiceGrace  time.Duration
	PollInterval  time.Duration
}

// ErrDialogueOver is returned by Advance once the closing statement has
// been delivered.
var ErrDialogueOver = errors.New("dialogue: interview is over")

// Controller is the per-session dialogue state machine.
type Controller struct {
	cfg Config

	mu sync.Mutex

	level         Level
	topic         string
	askedAt       time.Time
	followUpsUsed int
	emptyStreak   int
	textOnly      bool
	closed        bool

	// resumed is replaced on suspend; Advance waits on the current one.
	resumed chan struct{}

	turnScores []float64
	fallbacks  int
}

// NewController builds a Controller. Defaults are applied for zero timeout
// fields.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.TTSTimeout == 0 {
		cfg.TTSTimeout = defaultTTSTimeout
	}
	if cfg.AnswerTimeout == 0 {
		cfg.AnswerTimeout = defaultAnswerTimeout
	}
	if cfg.NoVoiceGrace == 0 {
		cfg.NoVoiceGrace = defaultNoVoiceGrace
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxQuestions == 0 {
		cfg.MaxQuestions = 5
	}
	c := &Controller{cfg: cfg, resumed: make(chan struct{})}
	close(c.resumed)
	return c
}

// Begin moves the session from Booting through Preamble into the first
// question. It returns the preamble and the first question prompt, in
// push order.
func (c *Controller) Begin(ctx context.Context) ([]Prompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Status == interview.InterviewScheduled {
		if err := c.cfg.Session.Transition(ctx, interview.InterviewLive, "candidate joined"); err != nil {
			return nil, err
		}
	}

	if err := c.setDialogueState(ctx, session.DialoguePreamble); err != nil {
		return nil, err
	}

	preamble, err := c.deliver(ctx, PromptPreamble, c.preambleText())
	if err != nil {
		return nil, err
	}

	q := c.generateQuestion(ctx, kindFirst, "")
	first, err := c.ask(ctx, q)
	if err != nil {
		return nil, err
	}
	return []Prompt{preamble, first}, nil
}

// Advance runs one full answer turn: wait for submit (or the inactivity
// timers), snapshot the transcript, classify, and produce the next
// interviewer prompt. submit may be nil when only the timers apply.
func (c *Controller) Advance(ctx context.Context, submit <-chan struct{}) (Prompt, error) {
	if err := c.waitResumed(ctx); err != nil {
		return Prompt{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Prompt{}, ErrDialogueOver
	}

	if err := c.waitForSubmit(ctx, submit); err != nil {
		return Prompt{}, err
	}

	answer := c.snapshotAnswer(ctx)
	if answer != "" {
		responseTime := c.cfg.Clock.Since(c.askedAt)
		if _, err := c.cfg.Session.AppendCandidateTurn(ctx, answer, responseTime); err != nil {
			return Prompt{}, err
		}
	}

	if err := c.setDialogueState(ctx, session.DialogueEvaluating); err != nil {
		return Prompt{}, err
	}

	verdict := c.classify(ctx, answer)
	slog.Debug("answer classified",
		"session_id", c.cfg.Session.ID(), "verdict", verdict, "chars", len(answer))

	switch verdict {
	case VerdictAnswer:
		c.emptyStreak = 0
		return c.afterAnswer(ctx, answer)

	case VerdictRepeat:
		c.emptyStreak = 0
		// Rephrase without advancing the question index.
		text := c.rephraseQuestion(ctx)
		return c.deliverAwaiting(ctx, PromptReprompt, text)

	case VerdictSkip:
		c.emptyStreak = 0
		return c.next(ctx)

	case VerdictEmpty:
		c.emptyStreak++
		if c.emptyStreak >= maxConsecutiveEmpties {
			slog.Info("empty streak exhausted, forcing next question",
				"session_id", c.cfg.Session.ID(), "streak", c.emptyStreak)
			return c.next(ctx)
		}
		if c.emptyDecision(ctx) == emptyMoveOn {
			return c.next(ctx)
		}
		return c.deliverAwaiting(ctx, PromptReprompt, emptyReprompt)

	default:
		return c.next(ctx)
	}
}

// afterAnswer scores the answer and decides between follow-up and next.
func (c *Controller) afterAnswer(ctx context.Context, answer string) (Prompt, error) {
	ev := c.evaluateAnswer(ctx, answer)
	c.turnScores = append(c.turnScores, ev.Score)

	if c.level == LevelMain && ev.Coverage < coverageThreshold && c.followUpsUsed < maxFollowUps {
		c.followUpsUsed++
		q := c.generateQuestion(ctx, kindFollowUp, answer)
		q.Level = LevelFollowUp
		return c.askLocked(ctx, q)
	}
	return c.next(ctx)
}

// next advances the MAIN question index or closes the interview.
func (c *Controller) next(ctx context.Context) (Prompt, error) {
	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return Prompt{}, err
	}
	if snap.QuestionIndex+1 >= c.cfg.MaxQuestions {
		return c.close(ctx)
	}

	if err := c.cfg.Session.Do(ctx, func(s *session.Session) { s.QuestionIndex++ }); err != nil {
		return Prompt{}, err
	}
	c.followUpsUsed = 0
	c.emptyStreak = 0

	q := c.generateQuestion(ctx, kindNext, "")
	return c.askLocked(ctx, q)
}

// close delivers the closing statement and marks the dialogue done.
func (c *Controller) close(ctx context.Context) (Prompt, error) {
	if err := c.setDialogueState(ctx, session.DialogueClosing); err != nil {
		return Prompt{}, err
	}
	p, err := c.deliver(ctx, PromptClosing, c.closingText())
	if err != nil {
		return Prompt{}, err
	}
	c.closed = true
	return p, nil
}

// Finish marks the dialogue done and completes the session. Call after the
// closing prompt has been delivered and any coding round finalized.
func (c *Controller) Finish(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if err := c.setDialogueState(ctx, session.DialogueDone); err != nil {
		return err
	}
	return c.cfg.Session.Transition(ctx, interview.InterviewCompleted, "interview finished")
}

// StreamEnded switches the dialogue to text-only mode after the STT relay
// gave up, and tells the candidate.
func (c *Controller) StreamEnded(ctx context.Context, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.textOnly {
		return
	}
	c.textOnly = true
	slog.Warn("speech stream ended, continuing text-only",
		"session_id", c.cfg.Session.ID(), "err", cause)
	if _, err := c.cfg.Session.AppendSystemTurn(ctx,
		"Transcription unavailable. Please type your answers for the rest of the interview."); err != nil {
		slog.Error("record stream-ended notice", "session_id", c.cfg.Session.ID(), "err", err)
	}
}

// SuspendForCoding pauses Advance until ResumeFromCoding. A coding
// submission arriving mid-turn holds the dialogue, not the other way
// around.
func (c *Controller) SuspendForCoding(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.resumed:
		c.resumed = make(chan struct{})
	default:
		// Already suspended.
	}
	return c.cfg.Session.Do(ctx, func(s *session.Session) { s.CodingActive = true })
}

// ResumeFromCoding releases a suspended dialogue.
func (c *Controller) ResumeFromCoding(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.resumed:
	default:
		close(c.resumed)
	}
	return c.cfg.Session.Do(ctx, func(s *session.Session) { s.CodingActive = false })
}

// TurnScores returns the per-answer quality scores collected so far.
func (c *Controller) TurnScores() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.turnScores...)
}

// FallbackCount reports how many times the controller fell back to a
// canned question.
func (c *Controller) FallbackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbacks
}

// ─── waiting ─────────────────────────────────────────────────────────────

func (c *Controller) waitResumed(ctx context.Context) error {
	c.mu.Lock()
	resumed := c.resumed
	c.mu.Unlock()
	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForSubmit blocks until the candidate submits or the inactivity
// timers fire: 60 s from first voice, or a 15 s grace when no voice was
// ever heard this turn.
func (c *Controller) waitForSubmit(ctx context.Context, submit <-chan struct{}) error {
	start := c.cfg.Clock.Now()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-submit:
			return nil
		case <-ticker.C:
			acc := c.cfg.Transcript
			if acc.HasVoiceEver() {
				if c.cfg.Clock.Since(acc.FirstVoiceAt()) >= c.cfg.AnswerTimeout {
					return nil
				}
			} else if c.cfg.Clock.Since(start) >= c.cfg.NoVoiceGrace {
				return nil
			}
		}
	}
}

// snapshotAnswer reads the accumulated transcript, waiting briefly for a
// trailing final when the first snapshot is empty.
func (c *Controller) snapshotAnswer(ctx context.Context) string {
	if s := c.cfg.Transcript.Snapshot(); s != "" {
		return s
	}
	deadline := time.NewTimer(finalWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s := c.cfg.Transcript.Snapshot(); s != "" {
				return s
			}
		case <-deadline.C:
			return c.cfg.Transcript.Snapshot()
		case <-ctx.Done():
			return c.cfg.Transcript.Snapshot()
		}
	}
}

// ─── delivery ────────────────────────────────────────────────────────────

// ask delivers a question while already holding the lock indirectly
// through Begin. askLocked is the same for callers inside Advance.
func (c *Controller) ask(ctx context.Context, q generated) (Prompt, error) {
	return c.askLocked(ctx, q)
}

func (c *Controller) askLocked(ctx context.Context, q generated) (Prompt, error) {
	c.level = q.Level
	c.topic = q.Topic
	if q.Level == LevelMain {
		c.followUpsUsed = 0
	}
	if err := c.setDialogueState(ctx, session.DialogueAsking); err != nil {
		return Prompt{}, err
	}
	p, err := c.deliverAwaiting(ctx, PromptQuestion, q.Text)
	if err != nil {
		return Prompt{}, err
	}
	p.Level = q.Level
	p.Topic = q.Topic
	return p, nil
}

// deliverAwaiting delivers text and re-arms the answer turn.
func (c *Controller) deliverAwaiting(ctx context.Context, kind PromptKind, text string) (Prompt, error) {
	p, err := c.deliver(ctx, kind, text)
	if err != nil {
		return Prompt{}, err
	}
	if err := c.setDialogueState(ctx, session.DialogueAwaitingAnswer); err != nil {
		return Prompt{}, err
	}
	c.cfg.Transcript.BeginNewTurn()
	c.askedAt = c.cfg.Clock.Now()
	return p, nil
}

// deliver synthesizes audio for text (unless text-only), appends the
// interviewer turn, and builds the outgoing Prompt.
func (c *Controller) deliver(ctx context.Context, kind PromptKind, text string) (Prompt, error) {
	var audioRef string
	if c.cfg.TTS != nil && !c.textOnly {
		ttsCtx, cancel := context.WithTimeout(ctx, c.cfg.TTSTimeout)
		ref, err := c.cfg.TTS.Synthesize(ttsCtx, text, c.cfg.Voice)
		cancel()
		if err != nil {
			// Audio is best-effort; the candidate still gets the text.
			slog.Warn("tts failed, continuing without audio",
				"session_id", c.cfg.Session.ID(), "err", err)
		} else {
			audioRef = ref
		}
	}

	seq, err := c.cfg.Session.AppendInterviewerTurn(ctx, text, audioRef)
	if err != nil {
		return Prompt{}, fmt.Errorf("dialogue: record interviewer turn: %w", err)
	}

	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Kind:          kind,
		Text:          text,
		AudioRef:      audioRef,
		Seq:           seq,
		QuestionIndex: snap.QuestionIndex,
	}, nil
}

func (c *Controller) setDialogueState(ctx context.Context, st session.DialogueState) error {
	return c.cfg.Session.Do(ctx, func(s *session.Session) {
		s.DialogueState = st
		s.AwaitingAnswer = st == session.DialogueAwaitingAnswer
	})
}

func (c *Controller) preambleText() string {
	return fmt.Sprintf(
		"Welcome, and thank you for joining this %s interview with %s. "+
			"I will ask you %d questions about the %s role. "+
			"Take your time with each answer, and press submit when you are done. Let's begin.",
		c.cfg.AIType, c.cfg.Company, c.cfg.MaxQuestions, c.cfg.Role)
}

func (c *Controller) closingText() string {
	return "That was the last question. Thank you for your time today; " +
		"your interview is complete and the team will review your results shortly."
}
