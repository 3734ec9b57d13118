// Package interview holds the persistent domain types of the scheduling
// layer: slots, bookings, and interviews, together with the sentinel errors
// shared by the stores and the HTTP surface.
//
// All timestamps are stored and compared in UTC. Slot times are entered in
// IST (Asia/Kolkata) and converted exactly once at the boundary; see
// SlotTimesUTC.
package interview

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AIType is the interview style a slot is created for.
type AIType string

const (
	TypeTechnical    AIType = "technical"
	TypeBehavioral   AIType = "behavioral"
	TypeCoding       AIType = "coding"
	TypeSystemDesign AIType = "system_design"
	TypeGeneral      AIType = "general"
)

// Valid reports whether t is a known AIType.
func (t AIType) Valid() bool {
	switch t {
	case TypeTechnical, TypeBehavioral, TypeCoding, TypeSystemDesign, TypeGeneral:
		return true
	}
	return false
}

// SlotStatus is the lifecycle state of a Slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotFull      SlotStatus = "full"
	SlotCanceled  SlotStatus = "canceled"
)

// BookingStatus is the lifecycle state of a Booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCanceled  BookingStatus = "canceled"
)

// InterviewStatus is the lifecycle state of an Interview.
type InterviewStatus string

const (
	InterviewScheduled InterviewStatus = "scheduled"
	InterviewLive      InterviewStatus = "live"
	InterviewCompleted InterviewStatus = "completed"
	InterviewExpired   InterviewStatus = "expired"
	InterviewAbandoned InterviewStatus = "abandoned"
	InterviewFailed    InterviewStatus = "failed"
)

// Terminal reports whether s is a terminal interview state.
func (s InterviewStatus) Terminal() bool {
	switch s {
	case InterviewCompleted, InterviewExpired, InterviewAbandoned, InterviewFailed:
		return true
	}
	return false
}

// Slot is a bookable interview window with bounded capacity.
type Slot struct {
	ID          uuid.UUID
	Company     string
	Job         string
	StartUTC    time.Time
	EndUTC      time.Time
	Capacity    int
	BookedCount int
	Status      SlotStatus
	AIType      AIType
	Difficulty  string
	Language    string
}

// StartIST returns the slot start in the presentation zone.
func (s Slot) StartIST() time.Time { return s.StartUTC.In(ISTLocation()) }

// EndIST returns the slot end in the presentation zone.
func (s Slot) EndIST() time.Time { return s.EndUTC.In(ISTLocation()) }

// Overlaps reports whether the half-open windows [s.Start, s.End) and
// [o.Start, o.End) intersect.
func (s Slot) Overlaps(o Slot) bool {
	return s.StartUTC.Before(o.EndUTC) && o.StartUTC.Before(s.EndUTC)
}

// Booking is the durable link between a Slot and an Interview.
type Booking struct {
	ID          uuid.UUID
	SlotID      uuid.UUID
	InterviewID uuid.UUID
	CreatedAt   time.Time
	Notes       string
	Status      BookingStatus
}

// Interview is the scheduled engagement a candidate redeems a token against.
type Interview struct {
	ID                uuid.UUID
	CandidateID       uuid.UUID
	JobID             uuid.UUID
	ScheduledStartUTC time.Time
	ScheduledEndUTC   time.Time
	Status            InterviewStatus
	// SessionID is set on first token redemption and never changes after.
	SessionID uuid.NullUUID
}

// Sentinel errors shared by the stores and the HTTP layer.
var (
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotFull          = errors.New("slot is fully booked")
	ErrSlotCanceled      = errors.New("slot is canceled")
	ErrSlotOverlap       = errors.New("slot overlaps an existing slot")
	ErrAlreadyBooked     = errors.New("interview already has an active booking")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrInterviewNotFound = errors.New("interview not found")
	ErrNoScheduledStart  = errors.New("interview has no scheduled start")
)

var (
	istOnce sync.Once
	istLoc  *time.Location
)

// ISTLocation returns the presentation timezone for slot times. The zone
// name is taken from IST_ZONE, defaulting to Asia/Kolkata; if the zone
// database lookup fails the fixed +05:30 offset is used.
func ISTLocation() *time.Location {
	istOnce.Do(func() {
		name := os.Getenv("IST_ZONE")
		if name == "" {
			name = "Asia/Kolkata"
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			loc = time.FixedZone("IST", 5*3600+30*60)
		}
		istLoc = loc
	})
	return istLoc
}

// SlotTimesUTC converts a slot's (date, start, end) entered in IST into the
// UTC instants used for all temporal comparisons. date is "2006-01-02";
// start and end are "15:04" times of day. This is the single place the IST
// offset is applied on the way in.
func SlotTimesUTC(date, start, end string) (startUTC, endUTC time.Time, err error) {
	loc := ISTLocation()

	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("interview: parse date %q: %w", date, err)
	}
	st, err := time.Parse("15:04", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("interview: parse start %q: %w", start, err)
	}
	en, err := time.Parse("15:04", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("interview: parse end %q: %w", end, err)
	}

	startLocal := time.Date(day.Year(), day.Month(), day.Day(), st.Hour(), st.Minute(), 0, 0, loc)
	endLocal := time.Date(day.Year(), day.Month(), day.Day(), en.Hour(), en.Minute(), 0, 0, loc)
	if !startLocal.Before(endLocal) {
		return time.Time{}, time.Time{}, fmt.Errorf("interview: start %s is not before end %s", start, end)
	}
	return startLocal.UTC(), endLocal.UTC(), nil
}
