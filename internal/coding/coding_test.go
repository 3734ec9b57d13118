package coding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm/mock"
)

// fakeExec maps stdin to a scripted outcome.
type fakeExec struct {
	outcomes map[string]ExecOutcome
	err      error
	calls    int
}

func (f *fakeExec) Execute(_ context.Context, _ Language, _ string, stdin string) (ExecOutcome, error) {
	f.calls++
	if f.err != nil {
		return ExecOutcome{}, f.err
	}
	out, ok := f.outcomes[stdin]
	if !ok {
		return ExecOutcome{ExitCode: 1, Stderr: "no scripted outcome"}, nil
	}
	return out, nil
}

func seedCodingQuestion(t *testing.T) (questionbank.Store, uuid.UUID) {
	t.Helper()
	store := questionbank.NewMemStore()
	q := questionbank.Question{
		AIType: interview.TypeCoding,
		Topic:  "strings",
		Text:   "Reverse each input line.",
		TestCases: []questionbank.TestCase{
			{Stdin: "abc\n", Expected: "cba"},
			{Stdin: "hello\n", Expected: "olleh"},
		},
	}
	if err := store.Add(context.Background(), &q); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store, q.ID
}

func reviewJSON(score float64) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: fmt.Sprintf(`{
		"score": %g,
		"strengths": ["clear logic"],
		"improvements": ["handle empty input"],
		"feedback": "Solid solution."
	}`, score)}
}

func TestEvaluateCombinesTestsAndReview(t *testing.T) {
	store, qid := seedCodingQuestion(t)
	exec := &fakeExec{outcomes: map[string]ExecOutcome{
		"abc\n":   {Stdout: "cba\n", Runtime: 40 * time.Millisecond},
		"hello\n": {Stdout: "olleh", Runtime: 35 * time.Millisecond},
	}}
	p := &mock.Provider{CompleteResponse: reviewJSON(80)}
	ev := NewEvaluator(store, p, WithExecutor(exec))

	res, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: qid, Language: LangPython, Source: "print(input()[::-1])",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.PassRatio != 1 {
		t.Errorf("pass ratio = %v, want 1", res.PassRatio)
	}
	// round(1.0*60 + 80*0.4) = 92
	if res.Combined != 92 {
		t.Errorf("combined = %d, want 92", res.Combined)
	}
	if len(res.Cases) != 2 || !res.Cases[0].Passed || !res.Cases[1].Passed {
		t.Errorf("cases: %+v", res.Cases)
	}
	if exec.calls != 2 {
		t.Errorf("executor ran %d times, want 2", exec.calls)
	}
}

func TestNormalizedComparisonToleratesWhitespace(t *testing.T) {
	store, qid := seedCodingQuestion(t)
	exec := &fakeExec{outcomes: map[string]ExecOutcome{
		"abc\n":   {Stdout: "  cba  \n"},      // trailing whitespace
		"hello\n": {Stdout: "o l l e h"},      // different internal spacing than "olleh"
	}}
	p := &mock.Provider{CompleteResponse: reviewJSON(50)}
	ev := NewEvaluator(store, p, WithExecutor(exec))

	res, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: qid, Language: LangPython, Source: "...",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Cases[0].Passed {
		t.Error("padded output should pass after normalization")
	}
	if res.Cases[1].Passed {
		t.Error("differently spaced tokens must not pass")
	}
	if res.PassRatio != 0.5 {
		t.Errorf("pass ratio = %v, want 0.5", res.PassRatio)
	}
}

func TestNonZeroExitFailsCase(t *testing.T) {
	store, qid := seedCodingQuestion(t)
	exec := &fakeExec{outcomes: map[string]ExecOutcome{
		"abc\n":   {Stdout: "cba", ExitCode: 1, Stderr: "Traceback ..."},
		"hello\n": {Stdout: "olleh"},
	}}
	p := &mock.Provider{CompleteResponse: reviewJSON(50)}
	ev := NewEvaluator(store, p, WithExecutor(exec))

	res, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: qid, Language: LangJavaScript, Source: "...",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Cases[0].Passed {
		t.Error("crashing run passed despite matching stdout")
	}
	if !res.Cases[1].Passed {
		t.Error("clean run should pass")
	}
}

func TestReviewFailureStillScoresTests(t *testing.T) {
	store, qid := seedCodingQuestion(t)
	exec := &fakeExec{outcomes: map[string]ExecOutcome{
		"abc\n":   {Stdout: "cba"},
		"hello\n": {Stdout: "olleh"},
	}}
	p := &mock.Provider{CompleteErr: errors.New("review model down")}
	ev := NewEvaluator(store, p, WithExecutor(exec))

	res, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: qid, Language: LangPython, Source: "...",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// round(1.0*60 + 0*0.4) = 60: the test points survive a dead reviewer.
	if res.Combined != 60 {
		t.Errorf("combined = %d, want 60", res.Combined)
	}
	if res.Review.Feedback == "" {
		t.Error("degraded review should still carry feedback text")
	}
}

func TestExecutionErrorMarksCaseFailed(t *testing.T) {
	store, qid := seedCodingQuestion(t)
	exec := &fakeExec{err: errors.New("sandbox unavailable")}
	p := &mock.Provider{CompleteResponse: reviewJSON(90)}
	ev := NewEvaluator(store, p, WithExecutor(exec))

	res, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: qid, Language: LangPython, Source: "...",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.PassRatio != 0 {
		t.Errorf("pass ratio = %v, want 0", res.PassRatio)
	}
	// round(0*60 + 90*0.4) = 36
	if res.Combined != 36 {
		t.Errorf("combined = %d, want 36", res.Combined)
	}
}

func TestUnsupportedLanguageRejected(t *testing.T) {
	store, qid := seedCodingQuestion(t)
	ev := NewEvaluator(store, &mock.Provider{}, WithExecutor(&fakeExec{}))

	_, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: qid, Language: Language("cobol"), Source: "...",
	})
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("got %v, want ErrUnsupportedLanguage", err)
	}
}

func TestUnknownQuestionRejected(t *testing.T) {
	store := questionbank.NewMemStore()
	ev := NewEvaluator(store, &mock.Provider{}, WithExecutor(&fakeExec{}))

	_, err := ev.Evaluate(context.Background(), Submission{
		QuestionID: uuid.New(), Language: LangPython, Source: "...",
	})
	if !errors.Is(err, questionbank.ErrQuestionNotFound) {
		t.Errorf("got %v, want ErrQuestionNotFound", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  a  b \n c ", "a b c"},
		{"abc", "abc"},
		{"", ""},
		{"a\t\tb", "a b"},
		{"line1\nline2", "line1 line2"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
