// Package slotstore persists slots and bookings with strict capacity
// accounting. The Postgres implementation serialises capacity updates with a
// single conditional UPDATE; MemStore mirrors the same semantics for tests
// and for running the service without a database.
package slotstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
)

// Store is the slot and booking persistence contract.
//
// Implementations must make Book atomic under concurrent callers: when N
// callers race for the last free place, exactly one succeeds and the rest
// receive interview.ErrSlotFull.
type Store interface {
	// CreateSlot inserts slot, assigning slot.ID when zero. Fails with
	// interview.ErrSlotOverlap when an existing slot of the same
	// (company, ai_type) with remaining capacity overlaps the window.
	CreateSlot(ctx context.Context, slot *interview.Slot) error

	// GetSlot returns the slot by id, or interview.ErrSlotNotFound.
	GetSlot(ctx context.Context, id uuid.UUID) (interview.Slot, error)

	// CancelSlot marks the slot canceled. Existing bookings are not touched.
	CancelSlot(ctx context.Context, id uuid.UUID) error

	// Book reserves one place on the slot for the interview. Capacity check
	// and increment commit as one unit. Errors: interview.ErrSlotNotFound,
	// ErrSlotFull, ErrSlotCanceled, ErrAlreadyBooked.
	Book(ctx context.Context, slotID, interviewID uuid.UUID, notes string) (interview.Booking, error)

	// Release cancels the booking and returns its place to the slot exactly
	// once; releasing an already canceled booking is a no-op. Returns
	// interview.ErrBookingNotFound for an unknown id.
	Release(ctx context.Context, bookingID uuid.UUID) error

	// GetBooking returns the booking by id, or interview.ErrBookingNotFound.
	GetBooking(ctx context.Context, id uuid.UUID) (interview.Booking, error)

	// ActiveBooking returns the interview's non-canceled booking, or
	// interview.ErrBookingNotFound when none exists.
	ActiveBooking(ctx context.Context, interviewID uuid.UUID) (interview.Booking, error)

	// SearchAvailable lists non-canceled slots with remaining capacity for
	// the company (and aiType, unless empty) whose start falls in [from, to),
	// ordered by start ascending.
	SearchAvailable(ctx context.Context, company string, aiType interview.AIType, from, to time.Time) ([]interview.Slot, error)
}

// RecurringPattern describes a weekly repeating slot template. Times are IST
// times of day exactly as for a single slot.
type RecurringPattern struct {
	Company    string
	Job        string
	Start      string // "15:04", IST
	End        string // "15:04", IST
	Weekdays   []time.Weekday
	From       time.Time // first date considered, UTC
	Horizon    time.Time // last date considered (exclusive), UTC
	Capacity   int
	AIType     interview.AIType
	Difficulty string
	Language   string
}

// CreateRecurring expands pattern into concrete slots and inserts them,
// skipping any day whose slot would overlap an existing one. It returns the
// ids of the slots actually created.
func CreateRecurring(ctx context.Context, s Store, pattern RecurringPattern) ([]uuid.UUID, error) {
	loc := interview.ISTLocation()
	wanted := map[time.Weekday]bool{}
	for _, wd := range pattern.Weekdays {
		wanted[wd] = true
	}

	var created []uuid.UUID
	for day := pattern.From.In(loc); day.Before(pattern.Horizon.In(loc)); day = day.AddDate(0, 0, 1) {
		if !wanted[day.Weekday()] {
			continue
		}
		startUTC, endUTC, err := interview.SlotTimesUTC(day.Format("2006-01-02"), pattern.Start, pattern.End)
		if err != nil {
			return created, err
		}
		slot := &interview.Slot{
			Company:    pattern.Company,
			Job:        pattern.Job,
			StartUTC:   startUTC,
			EndUTC:     endUTC,
			Capacity:   pattern.Capacity,
			Status:     interview.SlotAvailable,
			AIType:     pattern.AIType,
			Difficulty: pattern.Difficulty,
			Language:   pattern.Language,
		}
		err = s.CreateSlot(ctx, slot)
		switch {
		case err == nil:
			created = append(created, slot.ID)
		case errors.Is(err, interview.ErrSlotOverlap):
			continue
		default:
			return created, err
		}
	}
	return created, nil
}
