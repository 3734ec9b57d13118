package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

func newTestHandle(t *testing.T, cfg HandleConfig) *Handle {
	t.Helper()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if cfg.InterviewID == uuid.Nil {
		cfg.InterviewID = uuid.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewFake(time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))
	}
	h := NewHandle(cfg)
	t.Cleanup(h.Close)
	return h
}

func TestTurnSequencesAreDense(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, HandleConfig{})

	if seq, err := h.AppendInterviewerTurn(ctx, "first question", "audio/q0"); err != nil || seq != 0 {
		t.Fatalf("interviewer turn: seq=%d err=%v", seq, err)
	}
	if seq, err := h.AppendCandidateTurn(ctx, "first answer", 4*time.Second); err != nil || seq != 1 {
		t.Fatalf("candidate turn: seq=%d err=%v", seq, err)
	}
	if seq, err := h.AppendSystemTurn(ctx, "transcription unavailable"); err != nil || seq != 2 {
		t.Fatalf("system turn: seq=%d err=%v", seq, err)
	}
	if seq, err := h.AppendInterviewerTurn(ctx, "second question", ""); err != nil || seq != 3 {
		t.Fatalf("interviewer turn: seq=%d err=%v", seq, err)
	}

	snap, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for i, r := range snap.Turns {
		if r.Sequence != i {
			t.Errorf("turn %d has sequence %d", i, r.Sequence)
		}
		if r.SessionID != h.ID() {
			t.Errorf("turn %d carries wrong session id", i)
		}
	}
	if snap.Turns[0].AudioURL != "audio/q0" {
		t.Errorf("interviewer audio url lost: %q", snap.Turns[0].AudioURL)
	}
	if snap.Turns[1].ResponseTimeMs != 4000 {
		t.Errorf("candidate response time: got %d", snap.Turns[1].ResponseTimeMs)
	}
	if snap.LastQuestionText != "second question" {
		t.Errorf("LastQuestionText: got %q", snap.LastQuestionText)
	}
}

func TestConcurrentTurnsStayDense(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, HandleConfig{})

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := h.AppendSystemTurn(ctx, fmt.Sprintf("w%d-%d", i, j)); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	snap, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Turns) != writers*10 {
		t.Fatalf("got %d turns, want %d", len(snap.Turns), writers*10)
	}
	for i, r := range snap.Turns {
		if r.Sequence != i {
			t.Fatalf("sequence gap at %d: got %d", i, r.Sequence)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, HandleConfig{})

	if err := h.Transition(ctx, interview.InterviewCompleted, ""); err == nil {
		t.Error("scheduled -> completed should be rejected")
	}
	if err := h.Transition(ctx, interview.InterviewLive, ""); err != nil {
		t.Fatalf("scheduled -> live: %v", err)
	}
	if err := h.Transition(ctx, interview.InterviewCompleted, "all questions asked"); err != nil {
		t.Fatalf("live -> completed: %v", err)
	}
	if err := h.Transition(ctx, interview.InterviewLive, ""); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("transition out of terminal: got %v, want ErrAlreadyTerminal", err)
	}

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Error("session context not canceled at terminal")
	}
}

func TestOnTerminalFiresOnce(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var fired []Session

	h := newTestHandle(t, HandleConfig{
		OnTerminal: func(s Session) {
			mu.Lock()
			fired = append(fired, s)
			mu.Unlock()
		},
	})

	if _, err := h.AppendSystemTurn(ctx, "note"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Transition(ctx, interview.InterviewLive, ""); err != nil {
		t.Fatalf("to live: %v", err)
	}
	if err := h.Transition(ctx, interview.InterviewAbandoned, "candidate left"); err != nil {
		t.Fatalf("to abandoned: %v", err)
	}
	if err := h.Fail(ctx, "should not override"); err != nil {
		t.Fatalf("fail after terminal: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("OnTerminal fired %d times, want 1", len(fired))
	}
	if fired[0].Status != interview.InterviewAbandoned {
		t.Errorf("terminal status: got %s", fired[0].Status)
	}
	if len(fired[0].Turns) != 1 {
		t.Errorf("terminal snapshot has %d turns, want 1", len(fired[0].Turns))
	}
}

func TestHardTimerAbandonsSession(t *testing.T) {
	done := make(chan Session, 1)
	h := newTestHandle(t, HandleConfig{
		ValidUntil: time.Now().Add(30 * time.Millisecond),
		Clock:      clock.System{},
		OnTerminal: func(s Session) { done <- s },
	})
	_ = h

	select {
	case s := <-done:
		if s.Status != interview.InterviewAbandoned {
			t.Errorf("status: got %s, want abandoned", s.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hard timer never fired")
	}
}

func TestDoAfterClose(t *testing.T) {
	h := newTestHandle(t, HandleConfig{})
	h.Close()
	<-h.Done()

	err := h.Do(context.Background(), func(*Session) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}
