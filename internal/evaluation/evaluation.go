// Package evaluation assembles the final interview report: averaged
// per-turn quality, the coding-round score, the proctoring penalty, an LLM
// summary, and an HTML report artifact. Assembly runs when a session
// reaches a terminal state and is idempotent; re-assembly replaces the
// stored row and report.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/coding"
	"github.com/hireloop-ai/hireloop/internal/proctor"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
)

const (
	// penaltyPerWarning and penaltyCap bound the proctoring deduction.
	penaltyPerWarning = 0.3
	penaltyCap        = 3.0

	defaultLLMTimeout = 20 * time.Second
)

// Dimensions are the per-axis scores on 0..10.
type Dimensions struct {
	Technical      float64
	Communication  float64
	ProblemSolving float64
}

// Evaluation is the persisted final result of one interview.
type Evaluation struct {
	InterviewID uuid.UUID
	SessionID   uuid.UUID

	OverallScore float64 // 0..10 after penalty
	Dimensions   Dimensions

	AvgTurnScore float64 // 0..10 over answered questions
	CodingScore  int     // 0..100 combined; -1 when no coding round ran
	Penalty      float64
	WarningCount int

	Summary   string
	ReportRef string
	CreatedAt time.Time
}

// Store persists evaluations. Upsert must replace an existing row for the
// same interview.
type Store interface {
	Upsert(ctx context.Context, ev *Evaluation) error
	Get(ctx context.Context, interviewID uuid.UUID) (Evaluation, error)
}

// Input carries everything the assembler needs from the other pipelines.
type Input struct {
	Session    session.Session
	TurnScores []float64
	Coding     *coding.Result // nil when no coding round ran
	Warnings   []proctor.WarningEvent
}

// Assembler computes and persists evaluations.
type Assembler struct {
	store      Store
	artifacts  *storage.Store
	llm        llm.Provider
	clk        clock.Clock
	llmTimeout time.Duration
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLLMTimeout overrides the summary deadline.
func WithLLMTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.llmTimeout = d }
}

// WithClock overrides the clock.
func WithClock(clk clock.Clock) Option {
	return func(a *Assembler) { a.clk = clk }
}

// NewAssembler builds an Assembler. summarizer may be nil; the report then
// carries a mechanical summary.
func NewAssembler(store Store, artifacts *storage.Store, summarizer llm.Provider, opts ...Option) *Assembler {
	a := &Assembler{
		store:      store,
		artifacts:  artifacts,
		llm:        summarizer,
		clk:        clock.System{},
		llmTimeout: defaultLLMTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble computes the evaluation, writes the HTML report, and upserts
// the row. Safe to call again for the same interview.
func (a *Assembler) Assemble(ctx context.Context, in Input) (Evaluation, error) {
	ev := a.compute(in)
	ev.Summary = a.summarize(ctx, in, ev)

	ref, err := a.writeReport(in, ev)
	if err != nil {
		// The numbers still stand without the artifact.
		slog.Warn("report generation failed",
			"interview_id", ev.InterviewID, "err", err)
	} else {
		ev.ReportRef = ref
	}

	if err := a.store.Upsert(ctx, &ev); err != nil {
		return Evaluation{}, fmt.Errorf("evaluation: persist: %w", err)
	}
	slog.Info("evaluation assembled",
		"interview_id", ev.InterviewID, "session_id", ev.SessionID,
		"overall", ev.OverallScore, "penalty", ev.Penalty)
	return ev, nil
}

// compute derives all numeric scores.
func (a *Assembler) compute(in Input) Evaluation {
	avgTurn := mean(in.TurnScores)

	codingScore := -1
	codingScaled := avgTurn // without a coding round, dialogue carries the axis
	if in.Coding != nil {
		codingScore = in.Coding.Combined
		codingScaled = float64(in.Coding.Combined) / 10
	}

	warnings := len(in.Warnings)
	if in.Session.WarningCount > warnings {
		warnings = in.Session.WarningCount
	}
	penalty := math.Min(penaltyCap, penaltyPerWarning*float64(warnings))

	dims := Dimensions{
		Technical:      clamp10(0.7*avgTurn + 0.3*codingScaled),
		Communication:  clamp10(avgTurn),
		ProblemSolving: clamp10(codingScaled),
	}
	base := (dims.Technical + dims.Communication + dims.ProblemSolving) / 3
	overall := clamp10(base - penalty)

	return Evaluation{
		InterviewID:  in.Session.InterviewID,
		SessionID:    in.Session.ID,
		OverallScore: round1(overall),
		Dimensions: Dimensions{
			Technical:      round1(dims.Technical),
			Communication:  round1(dims.Communication),
			ProblemSolving: round1(dims.ProblemSolving),
		},
		AvgTurnScore: round1(avgTurn),
		CodingScore:  codingScore,
		Penalty:      round1(penalty),
		WarningCount: warnings,
		CreatedAt:    a.clk.Now(),
	}
}

// summarize asks the model for a short hiring-signal summary, degrading to
// a mechanical one on any failure.
func (a *Assembler) summarize(ctx context.Context, in Input, ev Evaluation) string {
	mechanical := fmt.Sprintf(
		"Overall %.1f/10 across %d answered questions; %d proctoring warnings (penalty %.1f).",
		ev.OverallScore, len(in.TurnScores), ev.WarningCount, ev.Penalty)
	if a.llm == nil {
		return mechanical
	}

	var transcript string
	for _, t := range in.Session.Turns {
		transcript += fmt.Sprintf("[%s] %s\n", t.Role, t.Text)
	}

	llmCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()
	resp, err := a.llm.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: "You write terse, factual hiring summaries for interview reports.",
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"Summarize this interview in 3-4 sentences for the hiring team. "+
					"Overall score %.1f/10, coding score %d, %d warnings.\n\nTranscript:\n%s",
				ev.OverallScore, ev.CodingScore, ev.WarningCount, transcript),
		}},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil || resp == nil || resp.Content == "" {
		slog.Warn("summary generation failed", "interview_id", ev.InterviewID, "err", err)
		return mechanical
	}
	return resp.Content
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
