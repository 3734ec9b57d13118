package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

func TestRegistryLoadOrStore(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))
	r := NewRegistry(clk)

	id := uuid.New()
	first := NewHandle(HandleConfig{ID: id, InterviewID: uuid.New(), Clock: clk})
	t.Cleanup(first.Close)

	got, loaded := r.LoadOrStore(first)
	if loaded || got != first {
		t.Fatalf("first insert: loaded=%v", loaded)
	}

	dup := NewHandle(HandleConfig{ID: id, InterviewID: uuid.New(), Clock: clk})
	got, loaded = r.LoadOrStore(dup)
	if !loaded || got != first {
		t.Fatalf("duplicate insert returned loaded=%v handle=%p", loaded, got)
	}
	// The loser was closed by the registry.
	select {
	case <-dup.Done():
	case <-time.After(time.Second):
		t.Error("losing handle was not closed")
	}

	if h, ok := r.Get(id); !ok || h != first {
		t.Errorf("Get: ok=%v", ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len: got %d, want 1", r.Len())
	}
}

func TestRegistryByInterview(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))
	r := NewRegistry(clk)

	ivID := uuid.New()
	h := NewHandle(HandleConfig{ID: uuid.New(), InterviewID: ivID, Clock: clk})
	t.Cleanup(h.Close)
	r.LoadOrStore(h)

	if got, ok := r.ByInterview(ivID); !ok || got != h {
		t.Errorf("ByInterview: ok=%v", ok)
	}
	if _, ok := r.ByInterview(uuid.New()); ok {
		t.Error("ByInterview found a handle for an unknown interview")
	}
}

func TestReapCollectsTerminalAndExpired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))
	r := NewRegistry(clk)

	terminal := NewHandle(HandleConfig{ID: uuid.New(), InterviewID: uuid.New(), Clock: clk})
	r.LoadOrStore(terminal)
	if err := terminal.Transition(ctx, interview.InterviewLive, ""); err != nil {
		t.Fatalf("to live: %v", err)
	}
	if err := terminal.Transition(ctx, interview.InterviewCompleted, ""); err != nil {
		t.Fatalf("to completed: %v", err)
	}

	// Window ended an hour ago but the session never went terminal.
	stale := NewHandle(HandleConfig{
		ID:          uuid.New(),
		InterviewID: uuid.New(),
		Clock:       clk,
		ValidUntil:  clk.Now().Add(-time.Hour),
	})
	r.LoadOrStore(stale)

	alive := NewHandle(HandleConfig{
		ID:          uuid.New(),
		InterviewID: uuid.New(),
		Clock:       clk,
		ValidUntil:  clk.Now().Add(time.Hour),
	})
	t.Cleanup(alive.Close)
	r.LoadOrStore(alive)

	r.Reap(ctx)

	if r.Len() != 1 {
		t.Fatalf("after reap: %d handles, want 1", r.Len())
	}
	if _, ok := r.Get(alive.ID()); !ok {
		t.Error("live handle was reaped")
	}
}
