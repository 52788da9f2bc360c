package scheduling

import (
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	ModeOnline   Mode = "online"
	ModeInPerson Mode = "inperson"
)

func (m Mode) Valid() bool { return m == ModeOnline || m == ModeInPerson }

// Appointment occupies [StartTime, StartTime+slot) on its doctor's calendar.
type Appointment struct {
	ID             int64     `json:"id"`
	PatientID      int64     `json:"patient_id"`
	DoctorID       *int64    `json:"doctor_id,omitempty"`
	ConsultationID *int64    `json:"consultation_id,omitempty"`
	StartTime      time.Time `json:"start_time"`
	Mode           Mode      `json:"mode"`
	ExternalLink   *string   `json:"external_link,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Slot is a bookable start time.
type Slot struct {
	Start     time.Time `json:"datetime"`
	Time      string    `json:"time"`
	Formatted string    `json:"formatted"`
}

func newSlot(t time.Time) Slot {
	return Slot{Start: t, Time: t.Format("15:04"), Formatted: t.Format("03:04 PM")}
}

var (
	ErrNotFound      = errors.New("appointment not found")
	ErrConflict      = errors.New("scheduling conflict")
	ErrPastStart     = errors.New("start time is in the past")
	ErrOutsideHours  = errors.New("start time is outside business hours")
	ErrMisaligned    = errors.New("start time is not aligned to the slot grid")
	ErrNoParticipant = errors.New("doctor_id or patient_id is required")
	// ErrDuplicateSlot is returned by repositories when the (doctor, start)
	// uniqueness guard fires.
	ErrDuplicateSlot = errors.New("doctor already has an appointment at this start time")
)

// ConflictError rejects a booking without writing anything.
type ConflictError struct {
	Count     int
	Conflicts []*Appointment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict: %d overlapping appointment(s)", e.Count)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Calendar describes the bookable grid: business hours in Location, a
// uniform slot length and the maximum number of slots offered at once.
type Calendar struct {
	Location  *time.Location
	StartHour int
	EndHour   int
	Slot      time.Duration
	MaxSlots  int
}

func DefaultCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc, StartHour: 9, EndHour: 17, Slot: 30 * time.Minute, MaxSlots: 10}
}

// Day returns the business window [open, close) for the calendar day of d.
func (c Calendar) Day(d time.Time) (time.Time, time.Time) {
	d = d.In(c.Location)
	y, m, day := d.Date()
	open := time.Date(y, m, day, c.StartHour, 0, 0, 0, c.Location)
	closing := time.Date(y, m, day, c.EndHour, 0, 0, 0, c.Location)
	return open, closing
}

// CheckStart validates that t is a grid-aligned start inside business hours.
func (c Calendar) CheckStart(t time.Time) error {
	open, closing := c.Day(t)
	if t.Before(open) || t.Add(c.Slot).After(closing) {
		return ErrOutsideHours
	}
	if t.Sub(open)%c.Slot != 0 {
		return ErrMisaligned
	}
	return nil
}

// Overlaps is the single conflict predicate: the existing interval
// [existingStart, existingStart+existingDur) intersects
// [requestedStart, requestedStart+requestedDur).
func Overlaps(existingStart time.Time, existingDur time.Duration, requestedStart time.Time, requestedDur time.Duration) bool {
	return existingStart.Before(requestedStart.Add(requestedDur)) &&
		existingStart.Add(existingDur).After(requestedStart)
}
