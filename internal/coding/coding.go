// Package coding runs the coding-round: candidate source executed against
// the question's test cases inside a sandbox, followed by an LLM review of
// the code itself. The combined score weighs test outcomes at 60 and the
// review at 40.
package coding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
)

// Language selects the runtime for a submission.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangJava       Language = "java"
)

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	switch l {
	case LangPython, LangJavaScript, LangJava:
		return true
	}
	return false
}

// ErrUnsupportedLanguage is returned for submissions in a language the
// runner cannot execute.
var ErrUnsupportedLanguage = errors.New("coding: unsupported language")

// Submission is one candidate code upload.
type Submission struct {
	QuestionID uuid.UUID
	Language   Language
	Source     string
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	CaseID    uuid.UUID
	Stdout    string
	Stderr    string
	ExitCode  int
	RuntimeMs int64
	Passed    bool
}

// Review is the LLM's reading of the source.
type Review struct {
	Score        float64
	Strengths    []string
	Improvements []string
	Feedback     string
}

// Result is the full coding-round outcome.
type Result struct {
	QuestionID uuid.UUID
	Language   Language
	Cases      []CaseResult
	PassRatio  float64
	Review     Review

	// Combined is round(pass_ratio*60 + review_score*0.4) on 0..100.
	Combined int
}

// Executor runs a prepared submission against one test case. The default
// implementation sandboxes an external interpreter; tests script it.
type Executor interface {
	Execute(ctx context.Context, lang Language, source, stdin string) (ExecOutcome, error)
}

// ExecOutcome is the raw result of one sandboxed run.
type ExecOutcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Runtime  time.Duration
}

// Evaluator ties the question bank, the sandbox, and the review model
// together.
type Evaluator struct {
	questions  questionbank.Store
	exec       Executor
	llm        llm.Provider
	llmTimeout time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithExecutor replaces the sandbox executor.
func WithExecutor(e Executor) Option {
	return func(ev *Evaluator) { ev.exec = e }
}

// WithLLMTimeout overrides the review deadline.
func WithLLMTimeout(d time.Duration) Option {
	return func(ev *Evaluator) { ev.llmTimeout = d }
}

// NewEvaluator builds an Evaluator with the sandboxed default executor.
func NewEvaluator(questions questionbank.Store, reviewer llm.Provider, opts ...Option) *Evaluator {
	ev := &Evaluator{
		questions:  questions,
		exec:       &Sandbox{},
		llm:        reviewer,
		llmTimeout: 20 * time.Second,
	}
	for _, o := range opts {
		o(ev)
	}
	return ev
}

// Evaluate runs the submission against every test case bound to its
// question and requests the LLM review. Execution errors on a single case
// mark that case failed; only a missing question or unsupported language
// fail the whole evaluation.
func (ev *Evaluator) Evaluate(ctx context.Context, sub Submission) (Result, error) {
	if !sub.Language.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, sub.Language)
	}
	q, err := ev.questions.Get(ctx, sub.QuestionID)
	if err != nil {
		return Result{}, fmt.Errorf("coding: look up question: %w", err)
	}
	if len(q.TestCases) == 0 {
		return Result{}, fmt.Errorf("coding: question %s has no test cases", sub.QuestionID)
	}

	res := Result{QuestionID: sub.QuestionID, Language: sub.Language}
	passed := 0
	for _, tc := range q.TestCases {
		cr := ev.runCase(ctx, sub, tc)
		if cr.Passed {
			passed++
		}
		res.Cases = append(res.Cases, cr)
	}
	res.PassRatio = float64(passed) / float64(len(q.TestCases))

	res.Review = ev.review(ctx, q.Text, sub)
	res.Combined = int(math.Round(res.PassRatio*60 + res.Review.Score*0.4))
	return res, nil
}

// runCase executes one test case and scores it by normalized stdout
// comparison.
func (ev *Evaluator) runCase(ctx context.Context, sub Submission, tc questionbank.TestCase) CaseResult {
	out, err := ev.exec.Execute(ctx, sub.Language, sub.Source, tc.Stdin)
	if err != nil {
		slog.Warn("test case execution failed", "case_id", tc.ID, "err", err)
		return CaseResult{CaseID: tc.ID, Stderr: err.Error(), ExitCode: -1}
	}
	return CaseResult{
		CaseID:    tc.ID,
		Stdout:    out.Stdout,
		Stderr:    out.Stderr,
		ExitCode:  out.ExitCode,
		RuntimeMs: out.Runtime.Milliseconds(),
		Passed:    out.ExitCode == 0 && Normalize(out.Stdout) == Normalize(tc.Expected),
	}
}

// reviewReply is the JSON contract of the review call.
type reviewReply struct {
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Feedback     string   `json:"feedback"`
}

// review asks the model to judge the source. Failures degrade to a zero
// review so the tests still carry their 60 points.
func (ev *Evaluator) review(ctx context.Context, question string, sub Submission) Review {
	llmCtx, cancel := context.WithTimeout(ctx, ev.llmTimeout)
	defer cancel()

	resp, err := ev.llm.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: "You are a senior engineer reviewing interview code. Be fair and specific.",
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"Review this %s solution. Reply with JSON only: "+
					`{"score": <0..100>, "strengths": [...], "improvements": [...], "feedback": "..."}`+
					"\n\nQuestion: %s\n\nCode:\n%s",
				sub.Language, question, sub.Source),
		}},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil {
		slog.Warn("code review failed", "question", question, "err", err)
		return Review{Feedback: "Automated review unavailable."}
	}

	var reply reviewReply
	if err := decodeJSON(resp.Content, &reply); err != nil {
		slog.Warn("code review reply malformed", "err", err)
		return Review{Feedback: "Automated review unavailable."}
	}
	if reply.Score < 0 {
		reply.Score = 0
	}
	if reply.Score > 100 {
		reply.Score = 100
	}
	return Review{
		Score:        reply.Score,
		Strengths:    reply.Strengths,
		Improvements: reply.Improvements,
		Feedback:     reply.Feedback,
	}
}

// Normalize prepares output for comparison: leading/trailing space is
// trimmed and internal whitespace runs collapse to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func decodeJSON(content string, v any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("coding: no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return fmt.Errorf("coding: decode reply: %w", err)
	}
	return nil
}
