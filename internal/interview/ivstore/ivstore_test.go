package ivstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/interview/slotstore"
)

func TestCreateAssignsIDAndStatus(t *testing.T) {
	store := NewMemStore()
	rec := &Record{JobContext: "Senior Go engineer"}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Error("Create left ID zero")
	}
	if rec.Status != interview.InterviewScheduled {
		t.Errorf("status = %q, want scheduled", rec.Status)
	}

	got, err := store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobContext != "Senior Go engineer" {
		t.Errorf("job context = %q", got.JobContext)
	}
}

func TestGetUnknownInterview(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), uuid.New())
	if !errors.Is(err, interview.ErrInterviewNotFound) {
		t.Errorf("got %v, want ErrInterviewNotFound", err)
	}
}

func TestSetStatus(t *testing.T) {
	store := NewMemStore()
	rec := &Record{}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetStatus(context.Background(), rec.ID, interview.InterviewLive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ := store.Get(context.Background(), rec.ID)
	if got.Status != interview.InterviewLive {
		t.Errorf("status = %q, want live", got.Status)
	}

	if err := store.SetStatus(context.Background(), uuid.New(), interview.InterviewLive); !errors.Is(err, interview.ErrInterviewNotFound) {
		t.Errorf("unknown id: got %v, want ErrInterviewNotFound", err)
	}
}

func TestAttachSessionFirstWriterWins(t *testing.T) {
	store := NewMemStore()
	rec := &Record{}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := uuid.New()
	winner, err := store.AttachSession(context.Background(), rec.ID, first)
	if err != nil {
		t.Fatalf("AttachSession: %v", err)
	}
	if winner != first {
		t.Errorf("winner = %s, want %s", winner, first)
	}

	second := uuid.New()
	winner, err = store.AttachSession(context.Background(), rec.ID, second)
	if err != nil {
		t.Fatalf("AttachSession (second): %v", err)
	}
	if winner != first {
		t.Errorf("second attach won: %s, want %s", winner, first)
	}
}

func TestAttachSessionConcurrent(t *testing.T) {
	store := NewMemStore()
	rec := &Record{}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const racers = 16
	winners := make([]uuid.UUID, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := store.AttachSession(context.Background(), rec.ID, uuid.New())
			if err != nil {
				t.Errorf("AttachSession: %v", err)
				return
			}
			winners[i] = w
		}()
	}
	wg.Wait()

	for i := 1; i < racers; i++ {
		if winners[i] != winners[0] {
			t.Fatalf("racer %d saw winner %s, racer 0 saw %s", i, winners[i], winners[0])
		}
	}
}

// bridgeFixture stands up an interview with a confirmed booking on a slot.
func bridgeFixture(t *testing.T) (*Bridge, *Record, interview.Booking) {
	t.Helper()
	ctx := context.Background()
	slots := slotstore.NewMemStore(clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))

	slot := &interview.Slot{
		Company:    "Acme",
		Job:        "Backend Engineer",
		StartUTC:   time.Date(2026, 3, 3, 4, 30, 0, 0, time.UTC),
		EndUTC:     time.Date(2026, 3, 3, 4, 40, 0, 0, time.UTC),
		Capacity:   1,
		AIType:     interview.TypeTechnical,
		Difficulty: "senior",
		Language:   "en",
	}
	if err := slots.CreateSlot(ctx, slot); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	interviews := NewMemStore()
	rec := &Record{
		JobContext:       "Build payment APIs in Go",
		CandidateContext: "8 years backend, Go and Postgres",
	}
	rec.CandidateID = uuid.New()
	rec.JobID = uuid.New()
	if err := interviews.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	booking, err := slots.Book(ctx, slot.ID, rec.ID, "")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	return &Bridge{Interviews: interviews, Slots: slots, MaxQuestions: 5}, rec, booking
}

func TestBridgeGetInterview(t *testing.T) {
	bridge, rec, _ := bridgeFixture(t)
	iv, err := bridge.GetInterview(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if iv.ID != rec.ID || iv.Status != interview.InterviewScheduled {
		t.Errorf("interview = %+v", iv)
	}
}

func TestBridgeHasActiveBooking(t *testing.T) {
	bridge, rec, booking := bridgeFixture(t)
	ctx := context.Background()

	active, err := bridge.HasActiveBooking(ctx, rec.ID)
	if err != nil {
		t.Fatalf("HasActiveBooking: %v", err)
	}
	if !active {
		t.Error("confirmed booking reported inactive")
	}

	if err := bridge.Slots.Release(ctx, booking.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	active, err = bridge.HasActiveBooking(ctx, rec.ID)
	if err != nil {
		t.Fatalf("HasActiveBooking after release: %v", err)
	}
	if active {
		t.Error("canceled booking reported active")
	}
}

func TestBridgeSessionSeed(t *testing.T) {
	bridge, rec, _ := bridgeFixture(t)
	seed, err := bridge.SessionSeed(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("SessionSeed: %v", err)
	}
	if seed.AIType != interview.TypeTechnical {
		t.Errorf("ai type = %q", seed.AIType)
	}
	if seed.Difficulty != "senior" || seed.Language != "en" {
		t.Errorf("slot fields = %q/%q", seed.Difficulty, seed.Language)
	}
	if seed.JobContext != "Build payment APIs in Go" {
		t.Errorf("job context = %q", seed.JobContext)
	}
	if seed.CandidateContext != "8 years backend, Go and Postgres" {
		t.Errorf("candidate context = %q", seed.CandidateContext)
	}
	if seed.MaxQuestions != 5 {
		t.Errorf("max questions = %d", seed.MaxQuestions)
	}
}

func TestBridgeSeedWithoutBooking(t *testing.T) {
	bridge, rec, booking := bridgeFixture(t)
	ctx := context.Background()
	if err := bridge.Slots.Release(ctx, booking.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := bridge.SessionSeed(ctx, rec.ID); !errors.Is(err, interview.ErrBookingNotFound) {
		t.Errorf("got %v, want ErrBookingNotFound", err)
	}
}
