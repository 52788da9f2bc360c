package scheduling

import (
	"context"
	"time"
)

// Filter selects appointments involving DoctorID or PatientID (either side
// matching counts).
type Filter struct {
	DoctorID  *int64
	PatientID *int64
}

func (f Filter) empty() bool { return f.DoctorID == nil && f.PatientID == nil }

type Repository interface {
	// ListStartingBetween returns appointments matching f whose start lies in
	// [from, to), ordered by start.
	ListStartingBetween(ctx context.Context, f Filter, from, to time.Time) ([]*Appointment, error)
	// LockParticipants serialises bookings touching the same doctor or
	// patient until the surrounding transaction ends.
	LockParticipants(ctx context.Context, f Filter) error
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}
