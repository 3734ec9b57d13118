package slotstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

func newTestStore() *MemStore {
	return NewMemStore(clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
}

func makeSlot(t *testing.T, s Store, capacity int) interview.Slot {
	t.Helper()
	slot := &interview.Slot{
		Company:  "acme",
		Job:      "backend engineer",
		StartUTC: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
		EndUTC:   time.Date(2026, 3, 2, 8, 40, 0, 0, time.UTC),
		Capacity: capacity,
		AIType:   interview.TypeTechnical,
		Language: "en",
	}
	if err := s.CreateSlot(context.Background(), slot); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	return *slot
}

func TestBookUntilFull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 2)

	if _, err := s.Book(ctx, slot.ID, uuid.New(), ""); err != nil {
		t.Fatalf("first book: %v", err)
	}
	if _, err := s.Book(ctx, slot.ID, uuid.New(), ""); err != nil {
		t.Fatalf("second book: %v", err)
	}

	got, _ := s.GetSlot(ctx, slot.ID)
	if got.BookedCount != 2 || got.Status != interview.SlotFull {
		t.Errorf("after filling: count=%d status=%s", got.BookedCount, got.Status)
	}

	if _, err := s.Book(ctx, slot.ID, uuid.New(), ""); !errors.Is(err, interview.ErrSlotFull) {
		t.Errorf("overbook: got %v, want ErrSlotFull", err)
	}
}

func TestConcurrentBookingRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 2)

	const callers = 3
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Book(ctx, slot.ID, uuid.New(), "")
		}(i)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, interview.ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 2 || full != 1 {
		t.Errorf("got %d successes and %d SlotFull, want 2 and 1", ok, full)
	}

	got, _ := s.GetSlot(ctx, slot.ID)
	if got.BookedCount != 2 || got.Status != interview.SlotFull {
		t.Errorf("final slot: count=%d status=%s", got.BookedCount, got.Status)
	}
}

func TestCapacityInvariantUnderChurn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 3)

	var bookings []uuid.UUID
	for i := 0; i < 50; i++ {
		b, err := s.Book(ctx, slot.ID, uuid.New(), "")
		if err == nil {
			bookings = append(bookings, b.ID)
		}
		if len(bookings) > 0 && i%3 == 0 {
			if err := s.Release(ctx, bookings[0]); err != nil {
				t.Fatalf("release: %v", err)
			}
			bookings = bookings[1:]
		}

		got, _ := s.GetSlot(ctx, slot.ID)
		if got.BookedCount < 0 || got.BookedCount > got.Capacity {
			t.Fatalf("capacity invariant violated: count=%d capacity=%d", got.BookedCount, got.Capacity)
		}
		wantFull := got.BookedCount == got.Capacity
		if (got.Status == interview.SlotFull) != wantFull {
			t.Fatalf("status invariant violated: count=%d status=%s", got.BookedCount, got.Status)
		}
	}
}

func TestReleaseDecrementsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 1)

	b, err := s.Book(ctx, slot.ID, uuid.New(), "")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if err := s.Release(ctx, b.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Second release is a no-op, not a second decrement.
	if err := s.Release(ctx, b.ID); err != nil {
		t.Fatalf("repeat release: %v", err)
	}

	got, _ := s.GetSlot(ctx, slot.ID)
	if got.BookedCount != 0 || got.Status != interview.SlotAvailable {
		t.Errorf("after releases: count=%d status=%s", got.BookedCount, got.Status)
	}

	if err := s.Release(ctx, uuid.New()); !errors.Is(err, interview.ErrBookingNotFound) {
		t.Errorf("unknown booking: got %v, want ErrBookingNotFound", err)
	}
}

func TestReleaseUnblocksParallelBooker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 1)

	b, err := s.Book(ctx, slot.ID, uuid.New(), "")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := s.Book(ctx, slot.ID, uuid.New(), ""); !errors.Is(err, interview.ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull while full, got %v", err)
	}

	if err := s.Release(ctx, b.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Book(ctx, slot.ID, uuid.New(), ""); err != nil {
		t.Errorf("book after release: %v", err)
	}
}

func TestBookCanceledSlot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 2)

	if err := s.CancelSlot(ctx, slot.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.Book(ctx, slot.ID, uuid.New(), ""); !errors.Is(err, interview.ErrSlotCanceled) {
		t.Errorf("got %v, want ErrSlotCanceled", err)
	}
}

func TestDuplicateActiveBookingRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	slot := makeSlot(t, s, 3)
	iv := uuid.New()

	if _, err := s.Book(ctx, slot.ID, iv, ""); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := s.Book(ctx, slot.ID, iv, ""); !errors.Is(err, interview.ErrAlreadyBooked) {
		t.Errorf("got %v, want ErrAlreadyBooked", err)
	}
}

func TestCreateSlotOverlapPolicy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	makeSlot(t, s, 2) // technical, 08:30-08:40 UTC

	overlapping := &interview.Slot{
		Company:  "acme",
		StartUTC: time.Date(2026, 3, 2, 8, 35, 0, 0, time.UTC),
		EndUTC:   time.Date(2026, 3, 2, 8, 45, 0, 0, time.UTC),
		Capacity: 1,
		AIType:   interview.TypeTechnical,
	}
	if err := s.CreateSlot(ctx, overlapping); !errors.Is(err, interview.ErrSlotOverlap) {
		t.Errorf("same ai_type overlap: got %v, want ErrSlotOverlap", err)
	}

	// Overlap is scoped per (company, ai_type): a behavioral slot in the
	// same window is allowed.
	behavioral := &interview.Slot{
		Company:  "acme",
		StartUTC: time.Date(2026, 3, 2, 8, 35, 0, 0, time.UTC),
		EndUTC:   time.Date(2026, 3, 2, 8, 45, 0, 0, time.UTC),
		Capacity: 1,
		AIType:   interview.TypeBehavioral,
	}
	if err := s.CreateSlot(ctx, behavioral); err != nil {
		t.Errorf("different ai_type: %v", err)
	}

	// A different company in the same window is also allowed.
	other := &interview.Slot{
		Company:  "globex",
		StartUTC: time.Date(2026, 3, 2, 8, 35, 0, 0, time.UTC),
		EndUTC:   time.Date(2026, 3, 2, 8, 45, 0, 0, time.UTC),
		Capacity: 1,
		AIType:   interview.TypeTechnical,
	}
	if err := s.CreateSlot(ctx, other); err != nil {
		t.Errorf("different company: %v", err)
	}

	// Back-to-back windows do not overlap.
	adjacent := &interview.Slot{
		Company:  "acme",
		StartUTC: time.Date(2026, 3, 2, 8, 40, 0, 0, time.UTC),
		EndUTC:   time.Date(2026, 3, 2, 8, 50, 0, 0, time.UTC),
		Capacity: 1,
		AIType:   interview.TypeTechnical,
	}
	if err := s.CreateSlot(ctx, adjacent); err != nil {
		t.Errorf("adjacent window: %v", err)
	}
}

func TestCreateRecurringSkipsOverlaps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	pattern := RecurringPattern{
		Company:  "acme",
		Job:      "backend engineer",
		Start:    "14:00",
		End:      "14:10",
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
		From:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),  // a Monday
		Horizon:  time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), // two weeks
		Capacity: 2,
		AIType:   interview.TypeTechnical,
		Language: "en",
	}

	ids, err := CreateRecurring(ctx, s, pattern)
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}
	// Mon 2nd, Wed 4th, Mon 9th, Wed 11th.
	if len(ids) != 4 {
		t.Fatalf("got %d slots, want 4", len(ids))
	}

	// Re-running the same pattern creates nothing new.
	again, err := CreateRecurring(ctx, s, pattern)
	if err != nil {
		t.Fatalf("CreateRecurring again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("rerun created %d slots, want 0", len(again))
	}
}

func TestSearchAvailableOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	mk := func(hour int) {
		slot := &interview.Slot{
			Company:  "acme",
			StartUTC: time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC),
			EndUTC:   time.Date(2026, 3, 2, hour, 10, 0, 0, time.UTC),
			Capacity: 1,
			AIType:   interview.TypeTechnical,
		}
		if err := s.CreateSlot(ctx, slot); err != nil {
			t.Fatalf("CreateSlot: %v", err)
		}
	}
	mk(12)
	mk(6)
	mk(9)

	slots, err := s.SearchAvailable(ctx, "acme", interview.TypeTechnical,
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SearchAvailable: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].StartUTC.Before(slots[i-1].StartUTC) {
			t.Errorf("slots out of order at %d", i)
		}
	}
}
