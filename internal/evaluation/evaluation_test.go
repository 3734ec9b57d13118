package evaluation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/coding"
	"github.com/hireloop-ai/hireloop/internal/proctor"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm/mock"
)

func newTestAssembler(t *testing.T, p llm.Provider) (*Assembler, *MemStore, *storage.Store) {
	t.Helper()
	store := NewMemStore()
	artifacts, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	return NewAssembler(store, artifacts, p, WithClock(clk)), store, artifacts
}

func testInput(warnings int) Input {
	sess := session.Session{
		ID:           uuid.New(),
		InterviewID:  uuid.New(),
		WarningCount: warnings,
		Turns: []session.TurnRecord{
			{Role: session.RoleInterviewer, Sequence: 0, Text: "Tell me about goroutine leaks."},
			{Role: session.RoleCandidate, Sequence: 1, Text: "They happen when a goroutine blocks forever."},
		},
	}
	in := Input{Session: sess, TurnScores: []float64{8, 6}}
	for i := 0; i < warnings; i++ {
		in.Warnings = append(in.Warnings, proctor.WarningEvent{
			ID:          uuid.New(),
			SessionID:   sess.ID,
			Kind:        proctor.KindPhoneDetected,
			At:          time.Date(2026, 3, 2, 13, 30, i, 0, time.UTC),
			SnapshotRef: "snapshots/" + sess.ID.String() + "/warn.jpg",
		})
	}
	return in
}

func TestAssembleScoresWithoutCoding(t *testing.T) {
	a, store, _ := newTestAssembler(t, nil)
	in := testInput(2)

	ev, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ev.AvgTurnScore != 7 {
		t.Errorf("avg turn = %v, want 7", ev.AvgTurnScore)
	}
	if ev.CodingScore != -1 {
		t.Errorf("coding score = %d, want -1 when no coding round ran", ev.CodingScore)
	}
	// Dialogue carries every axis: base 7.0, minus 2*0.3 penalty.
	if ev.Penalty != 0.6 {
		t.Errorf("penalty = %v, want 0.6", ev.Penalty)
	}
	if ev.OverallScore != 6.4 {
		t.Errorf("overall = %v, want 6.4", ev.OverallScore)
	}

	got, err := store.Get(context.Background(), in.Session.InterviewID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OverallScore != ev.OverallScore {
		t.Errorf("stored overall = %v, want %v", got.OverallScore, ev.OverallScore)
	}
}

func TestAssembleBlendsCodingScore(t *testing.T) {
	a, _, _ := newTestAssembler(t, nil)
	in := testInput(0)
	in.TurnScores = []float64{6, 6}
	in.Coding = &coding.Result{
		Language: coding.LangPython,
		Cases: []coding.CaseResult{
			{CaseID: uuid.New(), Passed: true},
			{CaseID: uuid.New(), Passed: false},
		},
		PassRatio: 0.5,
		Review:    coding.Review{Score: 100, Feedback: "Clean."},
		Combined:  80,
	}

	ev, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ev.CodingScore != 80 {
		t.Errorf("coding score = %d, want 80", ev.CodingScore)
	}
	// Technical 0.7*6 + 0.3*8 = 6.6, communication 6, problem solving 8.
	if ev.Dimensions.Technical != 6.6 {
		t.Errorf("technical = %v, want 6.6", ev.Dimensions.Technical)
	}
	if ev.Dimensions.ProblemSolving != 8 {
		t.Errorf("problem solving = %v, want 8", ev.Dimensions.ProblemSolving)
	}
	if ev.OverallScore != 6.9 {
		t.Errorf("overall = %v, want 6.9", ev.OverallScore)
	}
}

func TestPenaltyCapsAtThree(t *testing.T) {
	a, _, _ := newTestAssembler(t, nil)
	in := testInput(12) // 12*0.3 = 3.6, capped

	ev, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ev.Penalty != 3 {
		t.Errorf("penalty = %v, want capped 3", ev.Penalty)
	}
	if ev.WarningCount != 12 {
		t.Errorf("warning count = %d, want 12", ev.WarningCount)
	}
	if ev.OverallScore != 4 {
		t.Errorf("overall = %v, want 4", ev.OverallScore)
	}
}

func TestSessionWarningCountWinsWhenHigher(t *testing.T) {
	a, _, _ := newTestAssembler(t, nil)
	in := testInput(0)
	// Warnings recorded before the sink came up still count.
	in.Session.WarningCount = 4

	ev, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ev.WarningCount != 4 {
		t.Errorf("warning count = %d, want 4", ev.WarningCount)
	}
	if ev.Penalty != 1.2 {
		t.Errorf("penalty = %v, want 1.2", ev.Penalty)
	}
}

func TestReportContainsTranscriptAndSnapshots(t *testing.T) {
	a, _, artifacts := newTestAssembler(t, nil)
	in := testInput(1)

	ev, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ev.ReportRef == "" {
		t.Fatal("no report ref")
	}
	f, err := artifacts.Open(ev.ReportRef)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()
	var sb bytes.Buffer
	if _, err := sb.ReadFrom(f); err != nil {
		t.Fatalf("read report: %v", err)
	}
	html := sb.String()
	if !strings.Contains(html, "goroutine blocks forever") {
		t.Error("report missing candidate transcript text")
	}
	if !strings.Contains(html, in.Warnings[0].SnapshotRef) {
		t.Error("report missing warning snapshot ref")
	}
	if !strings.Contains(html, ev.Summary) {
		t.Error("report missing summary")
	}
}

func TestAssembleIsIdempotent(t *testing.T) {
	a, store, _ := newTestAssembler(t, nil)
	in := testInput(1)

	first, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	in.TurnScores = []float64{9, 9}
	second, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if second.ReportRef != first.ReportRef {
		t.Errorf("report ref changed: %q vs %q", first.ReportRef, second.ReportRef)
	}
	got, err := store.Get(context.Background(), in.Session.InterviewID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OverallScore != second.OverallScore {
		t.Errorf("stored overall = %v, want replaced value %v", got.OverallScore, second.OverallScore)
	}
	if got.OverallScore == first.OverallScore {
		t.Error("re-assembly did not replace the stored row")
	}
}

func TestSummaryUsesLLMWhenAvailable(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Strong candidate with solid concurrency answers.",
	}}
	a, _, _ := newTestAssembler(t, p)

	ev, err := a.Assemble(context.Background(), testInput(0))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ev.Summary != "Strong candidate with solid concurrency answers." {
		t.Errorf("summary = %q", ev.Summary)
	}
}

func TestSummaryDegradesToMechanical(t *testing.T) {
	p := &mock.Provider{CompleteErr: errors.New("model down")}
	a, _, _ := newTestAssembler(t, p)

	ev, err := a.Assemble(context.Background(), testInput(2))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(ev.Summary, "2 proctoring warnings") {
		t.Errorf("mechanical summary missing warning count: %q", ev.Summary)
	}
	if !strings.Contains(ev.Summary, "6.4/10") {
		t.Errorf("mechanical summary missing overall score: %q", ev.Summary)
	}
}

func TestGetUnknownInterview(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
