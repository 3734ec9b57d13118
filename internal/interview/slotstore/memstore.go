package slotstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

// MemStore is an in-memory [Store] with the same semantics as the Postgres
// implementation. It backs tests and the database-less dev mode.
type MemStore struct {
	clk clock.Clock

	mu       sync.Mutex
	slots    map[uuid.UUID]*interview.Slot
	bookings map[uuid.UUID]*interview.Booking
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore using clk for booking timestamps.
func NewMemStore(clk clock.Clock) *MemStore {
	return &MemStore{
		clk:      clk,
		slots:    map[uuid.UUID]*interview.Slot{},
		bookings: map[uuid.UUID]*interview.Booking{},
	}
}

// CreateSlot implements Store.
func (m *MemStore) CreateSlot(_ context.Context, slot *interview.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.Status == "" {
		slot.Status = interview.SlotAvailable
	}

	for _, existing := range m.slots {
		if existing.Company != slot.Company || existing.AIType != slot.AIType {
			continue
		}
		if existing.Status == interview.SlotCanceled || existing.BookedCount >= existing.Capacity {
			continue
		}
		if existing.Overlaps(*slot) {
			return interview.ErrSlotOverlap
		}
	}

	cp := *slot
	m.slots[slot.ID] = &cp
	return nil
}

// GetSlot implements Store.
func (m *MemStore) GetSlot(_ context.Context, id uuid.UUID) (interview.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return interview.Slot{}, interview.ErrSlotNotFound
	}
	return *slot, nil
}

// CancelSlot implements Store.
func (m *MemStore) CancelSlot(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return interview.ErrSlotNotFound
	}
	slot.Status = interview.SlotCanceled
	return nil
}

// Book implements Store.
func (m *MemStore) Book(_ context.Context, slotID, interviewID uuid.UUID, notes string) (interview.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok {
		return interview.Booking{}, interview.ErrSlotNotFound
	}
	if slot.Status == interview.SlotCanceled {
		return interview.Booking{}, interview.ErrSlotCanceled
	}
	if slot.BookedCount >= slot.Capacity {
		return interview.Booking{}, interview.ErrSlotFull
	}
	for _, b := range m.bookings {
		if b.InterviewID == interviewID && b.Status != interview.BookingCanceled {
			return interview.Booking{}, interview.ErrAlreadyBooked
		}
	}

	slot.BookedCount++
	if slot.BookedCount == slot.Capacity {
		slot.Status = interview.SlotFull
	}

	booking := interview.Booking{
		ID:          uuid.New(),
		SlotID:      slotID,
		InterviewID: interviewID,
		CreatedAt:   m.clk.Now(),
		Notes:       notes,
		Status:      interview.BookingConfirmed,
	}
	cp := booking
	m.bookings[booking.ID] = &cp
	return booking, nil
}

// Release implements Store.
func (m *MemStore) Release(_ context.Context, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	booking, ok := m.bookings[bookingID]
	if !ok {
		return interview.ErrBookingNotFound
	}
	if booking.Status == interview.BookingCanceled {
		return nil
	}
	booking.Status = interview.BookingCanceled

	if slot, ok := m.slots[booking.SlotID]; ok && slot.BookedCount > 0 {
		slot.BookedCount--
		if slot.Status == interview.SlotFull {
			slot.Status = interview.SlotAvailable
		}
	}
	return nil
}

// GetBooking implements Store.
func (m *MemStore) GetBooking(_ context.Context, id uuid.UUID) (interview.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking, ok := m.bookings[id]
	if !ok {
		return interview.Booking{}, interview.ErrBookingNotFound
	}
	return *booking, nil
}

// ActiveBooking implements Store.
func (m *MemStore) ActiveBooking(_ context.Context, interviewID uuid.UUID) (interview.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.InterviewID == interviewID && b.Status != interview.BookingCanceled {
			return *b, nil
		}
	}
	return interview.Booking{}, interview.ErrBookingNotFound
}

// SearchAvailable implements Store.
func (m *MemStore) SearchAvailable(_ context.Context, company string, aiType interview.AIType, from, to time.Time) ([]interview.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []interview.Slot
	for _, slot := range m.slots {
		if slot.Company != company || slot.Status == interview.SlotCanceled {
			continue
		}
		if aiType != "" && slot.AIType != aiType {
			continue
		}
		if slot.BookedCount >= slot.Capacity {
			continue
		}
		if slot.StartUTC.Before(from) || !slot.StartUTC.Before(to) {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartUTC.Before(out[j].StartUTC) })
	return out, nil
}
