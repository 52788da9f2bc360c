package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/platform/db"
	"github.com/aura/aura/internal/platform/events"
)

// Engine owns conflict detection, slot enumeration and booking. Availability
// checks and booking both go through Overlaps with the calendar's slot length.
type Engine struct {
	repo      Repository
	tx        db.TxRunner
	cal       Calendar
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewEngine(repo Repository, tx db.TxRunner, cal Calendar, publisher events.Publisher, logger zerolog.Logger) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Engine{repo: repo, tx: tx, cal: cal, publisher: publisher, logger: logger, now: time.Now}
}

// WithClock replaces the engine's notion of now. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Calendar() Calendar { return e.cal }

// FindConflicts returns appointments of the doctor or the patient that
// overlap [start, start+duration). Every stored appointment lasts one slot.
func (e *Engine) FindConflicts(ctx context.Context, doctorID, patientID *int64, start time.Time, duration time.Duration) ([]*Appointment, error) {
	f := Filter{DoctorID: doctorID, PatientID: patientID}
	if f.empty() {
		return nil, ErrNoParticipant
	}
	candidates, err := e.repo.ListStartingBetween(ctx, f, start.Add(-e.cal.Slot), start.Add(duration))
	if err != nil {
		return nil, err
	}
	var out []*Appointment
	for _, a := range candidates {
		if Overlaps(a.StartTime, e.cal.Slot, start, duration) {
			out = append(out, a)
		}
	}
	return out, nil
}

// EnumerateSlots lists free grid-aligned starts for the doctor on day's
// calendar date, in chronological order, capped at MaxSlots. Starts already
// in the past are not offered. total counts every free slot before the cap.
func (e *Engine) EnumerateSlots(ctx context.Context, doctorID int64, day time.Time) (slots []Slot, total int, err error) {
	open, closing := e.cal.Day(day)
	existing, err := e.repo.ListStartingBetween(ctx, Filter{DoctorID: &doctorID}, open.Add(-e.cal.Slot), closing)
	if err != nil {
		return nil, 0, err
	}

	now := e.now()
	slots = []Slot{}
	for t := open; !t.Add(e.cal.Slot).After(closing); t = t.Add(e.cal.Slot) {
		if t.Before(now) || overlapsAny(existing, e.cal.Slot, t) {
			continue
		}
		total++
		if len(slots) < e.cal.MaxSlots {
			slots = append(slots, newSlot(t))
		}
	}
	return slots, total, nil
}

func overlapsAny(existing []*Appointment, slot time.Duration, t time.Time) bool {
	for _, a := range existing {
		if Overlaps(a.StartTime, slot, t, slot) {
			return true
		}
	}
	return false
}

type BookRequest struct {
	PatientID      int64
	DoctorID       *int64
	ConsultationID *int64
	Start          time.Time
	Mode           Mode
	ExternalLink   *string
}

func (r BookRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Start, validation.Required),
		validation.Field(&r.Mode, validation.Required, validation.In(ModeOnline, ModeInPerson)),
	)
}

// Book re-checks conflicts for the doctor and the patient inside one
// transaction and inserts only when none exist. A conflict yields
// *ConflictError and no write.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := req.Start.In(e.cal.Location)
	if start.Before(e.now()) {
		return nil, ErrPastStart
	}
	if err := e.cal.CheckStart(start); err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		ConsultationID: req.ConsultationID,
		StartTime:      start,
		Mode:           req.Mode,
		ExternalLink:   req.ExternalLink,
	}
	f := Filter{DoctorID: req.DoctorID, PatientID: &req.PatientID}

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		if err := e.repo.LockParticipants(ctx, f); err != nil {
			return err
		}
		conflicts, err := e.FindConflicts(ctx, f.DoctorID, f.PatientID, start, e.cal.Slot)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Count: len(conflicts), Conflicts: conflicts}
		}
		return e.repo.Create(ctx, appt)
	})
	if errors.Is(err, ErrDuplicateSlot) {
		return nil, &ConflictError{Count: 1}
	}
	if err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	e.logger.Info().
		Int64("appointment_id", appt.ID).
		Int64("patient_id", appt.PatientID).
		Time("start_time", appt.StartTime).
		Msg("appointment booked")
	events.PublishBestEffort(ctx, e.publisher, e.logger, events.New(events.TypeAppointmentBooked, appt.ID, appt))
	return appt, nil
}

func (e *Engine) Get(ctx context.Context, id int64) (*Appointment, error) {
	return e.repo.GetByID(ctx, id)
}

func (e *Engine) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	return e.repo.List(ctx, f, limit, offset)
}
