package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/domain/documents"
	"github.com/aura/aura/internal/domain/identity"
	"github.com/aura/aura/internal/domain/scheduling"
	"github.com/aura/aura/internal/platform/events"
	"github.com/aura/aura/internal/platform/llm"
)

// Directory is the identity lookup the tools need.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*identity.User, error)
	ListDoctors(ctx context.Context, hospitalID *int64) ([]*identity.User, error)
	FirstDoctorInHospital(ctx context.Context, hospitalID int64) (*identity.User, error)
}

// Scheduler is satisfied by *scheduling.Engine.
type Scheduler interface {
	EnumerateSlots(ctx context.Context, doctorID int64, day time.Time) ([]scheduling.Slot, int, error)
	Book(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error)
}

// History is satisfied by documents.Repository.
type History interface {
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*documents.Document, int, error)
}

type ToolDeps struct {
	Consultations consultation.Repository
	Directory     Directory
	Scheduler     Scheduler
	History       History
	Publisher     events.Publisher
	Logger        zerolog.Logger
}

type toolFunc func(ctx context.Context, s *Scope, args Args) (interface{}, error)

type toolEntry struct {
	spec llm.ToolSpec
	run  toolFunc
}

// Registry is the fixed tool catalog. It is built once and never mutated.
type Registry struct {
	entries map[ToolName]toolEntry
	specs   []llm.ToolSpec
}

func NewRegistry(deps ToolDeps) *Registry {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	tb := &toolbox{ToolDeps: deps}
	funcs := map[ToolName]toolFunc{
		ToolEscalate:          func(ctx context.Context, s *Scope, a Args) (interface{}, error) { return tb.escalate(ctx, s) },
		ToolListDoctors:       func(ctx context.Context, s *Scope, a Args) (interface{}, error) { return tb.listDoctors(ctx, a.(ListDoctorsArgs)) },
		ToolCheckAvailability: func(ctx context.Context, s *Scope, a Args) (interface{}, error) { return tb.checkAvailability(ctx, s, a.(CheckAvailabilityArgs)) },
		ToolBookAppointment:   func(ctx context.Context, s *Scope, a Args) (interface{}, error) { return tb.book(ctx, s, a.(BookAppointmentArgs)) },
		ToolFetchHistory:      func(ctx context.Context, s *Scope, a Args) (interface{}, error) { return tb.history(ctx, s) },
	}

	r := &Registry{entries: make(map[ToolName]toolEntry, len(catalogOrder))}
	for _, name := range catalogOrder {
		spec := llm.ToolSpec{
			Name:        string(name),
			Description: toolSchemas[name].description,
			Parameters:  json.RawMessage(toolSchemas[name].parameters),
		}
		r.entries[name] = toolEntry{spec: spec, run: funcs[name]}
		r.specs = append(r.specs, spec)
	}
	return r
}

// Specs returns the catalog in advertisement order.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Execute runs a corrected invocation. Failures the policy can act on come
// back as *ToolError.
func (r *Registry) Execute(ctx context.Context, s *Scope, inv *Invocation) (interface{}, error) {
	e, ok := r.entries[inv.Tool]
	if !ok {
		return nil, toolErr(CodeUnknownTool, "unknown tool %q", inv.Tool)
	}
	return e.run(ctx, s, inv.Args)
}

var toolSchemas = map[ToolName]struct {
	description string
	parameters  string
}{
	ToolEscalate: {
		description: "Bring a human doctor into this consultation. Use for emergencies, red-flag symptoms, or when the patient asks for a doctor.",
		parameters:  `{"type":"object","properties":{"consultation_id":{"type":"integer","description":"Current consultation id"}},"required":["consultation_id"]}`,
	},
	ToolListDoctors: {
		description: "List available doctors. Returns the only doctor ids that may be used with check_availability and book_appointment.",
		parameters:  `{"type":"object","properties":{"hospital_id":{"type":"integer","description":"Optional hospital filter"}}}`,
	},
	ToolCheckAvailability: {
		description: "List free appointment slots for a doctor on a date. Must be called before book_appointment for the same doctor and date.",
		parameters:  `{"type":"object","properties":{"doctor_id":{"type":"integer","description":"An id from list_doctors"},"date":{"type":"string","description":"Date such as 2025-11-30 or 30 Nov"}},"required":["doctor_id","date"]}`,
	},
	ToolBookAppointment: {
		description: "Book an appointment slot returned by check_availability.",
		parameters:  `{"type":"object","properties":{"doctor_id":{"type":"integer","description":"An id from list_doctors"},"start_time":{"type":"string","description":"ISO 8601 datetime of the chosen slot"},"mode":{"type":"string","enum":["online","inperson"]}},"required":["doctor_id","start_time","mode"]}`,
	},
	ToolFetchHistory: {
		description: "Fetch the patient's uploaded medical documents and their summaries.",
		parameters:  `{"type":"object","properties":{"patient_id":{"type":"integer","description":"Current patient id"}},"required":["patient_id"]}`,
	},
}

type doctorRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type listDoctorsResult struct {
	Doctors     []doctorRef `json:"doctors"`
	Count       int         `json:"count"`
	ValidIDs    []int64     `json:"valid_ids"`
	Instruction string      `json:"instruction"`
}

type availabilityResult struct {
	DoctorID       int64             `json:"doctor_id"`
	DoctorName     string            `json:"doctor_name"`
	Date           string            `json:"date"`
	AvailableSlots []scheduling.Slot `json:"available_slots"`
	TotalSlots     int               `json:"total_slots"`
}

type bookingResult struct {
	Success       bool      `json:"success"`
	AppointmentID int64     `json:"appointment_id"`
	Datetime      time.Time `json:"datetime"`
	Mode          string    `json:"mode"`
	DoctorName    string    `json:"doctor_name"`
}

type escalationResult struct {
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	DoctorID        *int64 `json:"doctor_id,omitempty"`
	DoctorName      string `json:"doctor_name,omitempty"`
	AlreadyAssigned bool   `json:"already_assigned,omitempty"`
	Message         string `json:"message"`
}

type historyDocument struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Summary   *string   `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResult struct {
	PatientID int64             `json:"patient_id"`
	Documents []historyDocument `json:"documents"`
	Count     int               `json:"count"`
}

const historyLimit = 20

type toolbox struct {
	ToolDeps
}

func doctorTitle(name string) string {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "dr.") || strings.HasPrefix(lower, "dr ") {
		return name
	}
	return "Dr. " + name
}

func (t *toolbox) escalate(ctx context.Context, s *Scope) (*escalationResult, error) {
	c, err := t.Consultations.Get(ctx, s.ConsultationID)
	if errors.Is(err, consultation.ErrNotFound) {
		return nil, toolErr(CodeNotFound, "consultation %d not found", s.ConsultationID)
	}
	if err != nil {
		return nil, err
	}
	if c.DoctorID != nil {
		return &escalationResult{
			Success:         true,
			Status:          c.Status,
			DoctorID:        c.DoctorID,
			AlreadyAssigned: true,
			Message:         "A doctor is already assigned to this consultation and has been notified.",
		}, nil
	}

	res, err := t.assignFirstDoctor(ctx, s)
	if err != nil {
		return nil, err
	}
	t.Logger.Info().
		Int64("consultation_id", s.ConsultationID).
		Str("status", res.Status).
		Msg("consultation escalated")
	events.PublishBestEffort(ctx, t.Publisher, t.Logger,
		events.New(events.TypeConsultationEscalated, s.ConsultationID, map[string]interface{}{
			"consultation_id": s.ConsultationID,
			"patient_id":      s.PatientID,
			"doctor_id":       res.DoctorID,
			"status":          res.Status,
		}))
	return res, nil
}

// assignFirstDoctor hands the consultation to the first doctor of the
// patient's hospital, or marks it escalated when there is none.
func (t *toolbox) assignFirstDoctor(ctx context.Context, s *Scope) (*escalationResult, error) {
	patient, err := t.Directory.GetUser(ctx, s.PatientID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}
	if patient != nil && patient.HospitalID != nil {
		doc, err := t.Directory.FirstDoctorInHospital(ctx, *patient.HospitalID)
		switch {
		case err == nil:
			assigned, err := t.Consultations.AssignDoctorIfUnset(ctx, s.ConsultationID, doc.ID, consultation.StatusInProgress)
			if err != nil {
				return nil, err
			}
			if assigned {
				return &escalationResult{
					Success:    true,
					Status:     consultation.StatusInProgress,
					DoctorID:   &doc.ID,
					DoctorName: doc.FullName,
					Message:    fmt.Sprintf("I've requested %s to join the chat. They will be with you shortly.", doctorTitle(doc.FullName)),
				}, nil
			}
			return &escalationResult{
				Success:         true,
				Status:          consultation.StatusInProgress,
				AlreadyAssigned: true,
				Message:         "A doctor is already assigned to this consultation and has been notified.",
			}, nil
		case !errors.Is(err, identity.ErrNotFound):
			return nil, err
		}
	}

	if err := t.Consultations.SetStatus(ctx, s.ConsultationID, consultation.StatusEscalated); err != nil {
		return nil, err
	}
	return &escalationResult{
		Success: true,
		Status:  consultation.StatusEscalated,
		Message: "Your case has been escalated. The next available doctor will join this chat as soon as possible.",
	}, nil
}

func (t *toolbox) listDoctors(ctx context.Context, a ListDoctorsArgs) (*listDoctorsResult, error) {
	var hospitalID *int64
	if a.HospitalID != nil {
		id := int64(*a.HospitalID)
		hospitalID = &id
	}
	doctors, err := t.Directory.ListDoctors(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	res := &listDoctorsResult{Doctors: []doctorRef{}, ValidIDs: []int64{}}
	for _, d := range doctors {
		res.Doctors = append(res.Doctors, doctorRef{ID: d.ID, Name: d.FullName, Email: d.Email})
		res.ValidIDs = append(res.ValidIDs, d.ID)
	}
	res.Count = len(res.Doctors)
	res.Instruction = "Use only these doctor ids for check_availability and book_appointment. Never invent an id."
	return res, nil
}

func (t *toolbox) checkAvailability(ctx context.Context, s *Scope, a CheckAvailabilityArgs) (*availabilityResult, error) {
	slots, total, err := t.Scheduler.EnumerateSlots(ctx, int64(a.DoctorID), a.day)
	if err != nil {
		return nil, err
	}
	return &availabilityResult{
		DoctorID:       int64(a.DoctorID),
		DoctorName:     s.DoctorName(int64(a.DoctorID)),
		Date:           a.Date,
		AvailableSlots: slots,
		TotalSlots:     total,
	}, nil
}

func (t *toolbox) book(ctx context.Context, s *Scope, a BookAppointmentArgs) (*bookingResult, error) {
	doctorID := int64(a.DoctorID)
	consultationID := s.ConsultationID
	appt, err := t.Scheduler.Book(ctx, scheduling.BookRequest{
		PatientID:      s.PatientID,
		DoctorID:       &doctorID,
		ConsultationID: &consultationID,
		Start:          a.start,
		Mode:           scheduling.Mode(a.Mode),
	})
	var ce *scheduling.ConflictError
	switch {
	case errors.As(err, &ce):
		return nil, toolErr(CodeSchedulingConflict,
			"the requested slot conflicts with %d existing appointment(s); ask the patient to choose another slot", ce.Count).
			with("conflict_count", ce.Count)
	case errors.Is(err, scheduling.ErrPastStart):
		return nil, toolErr(CodePastStart, "%v", err)
	case errors.Is(err, scheduling.ErrOutsideHours), errors.Is(err, scheduling.ErrMisaligned):
		return nil, toolErr(CodeInvalidArguments, "%v; pick a datetime from available_slots", err)
	case err != nil:
		return nil, err
	}

	if _, err := t.Consultations.AssignDoctorIfUnset(ctx, s.ConsultationID, doctorID, consultation.StatusInProgress); err != nil {
		t.Logger.Warn().Err(err).Int64("consultation_id", s.ConsultationID).Msg("assign doctor after booking")
	}
	return &bookingResult{
		Success:       true,
		AppointmentID: appt.ID,
		Datetime:      appt.StartTime,
		Mode:          string(appt.Mode),
		DoctorName:    s.DoctorName(doctorID),
	}, nil
}

func (t *toolbox) history(ctx context.Context, s *Scope) (*historyResult, error) {
	docs, total, err := t.History.ListByPatient(ctx, s.PatientID, historyLimit, 0)
	if err != nil {
		return nil, err
	}
	res := &historyResult{PatientID: s.PatientID, Documents: []historyDocument{}, Count: total}
	for _, d := range docs {
		res.Documents = append(res.Documents, historyDocument{ID: d.ID, Name: d.Name, Summary: d.Summary, CreatedAt: d.CreatedAt})
	}
	return res, nil
}
