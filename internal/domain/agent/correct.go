package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/aura/aura/internal/domain/scheduling"
)

// Scope is what the caller knows for certain about the current turn: who
// the conversation belongs to and which identifiers earlier tool results
// produced. Correct checks model arguments against it.
type Scope struct {
	ConsultationID int64
	PatientID      int64
	Now            time.Time
	Location       *time.Location

	doctors map[int64]string
	checked map[availabilityKey]struct{}
}

type availabilityKey struct {
	doctorID int64
	date     string
}

func NewScope(consultationID, patientID int64, now time.Time, loc *time.Location) *Scope {
	if loc == nil {
		loc = time.UTC
	}
	return &Scope{
		ConsultationID: consultationID,
		PatientID:      patientID,
		Now:            now.In(loc),
		Location:       loc,
		doctors:        make(map[int64]string),
		checked:        make(map[availabilityKey]struct{}),
	}
}

// Observe records identifiers from a successful tool result so later calls
// in the conversation may use them.
func (s *Scope) Observe(tool ToolName, result json.RawMessage) {
	switch tool {
	case ToolListDoctors:
		var r listDoctorsResult
		if json.Unmarshal(result, &r) != nil {
			return
		}
		for _, d := range r.Doctors {
			s.doctors[d.ID] = d.Name
		}
	case ToolCheckAvailability:
		var r availabilityResult
		if json.Unmarshal(result, &r) != nil || r.DoctorID == 0 || r.Date == "" {
			return
		}
		s.checked[availabilityKey{r.DoctorID, r.Date}] = struct{}{}
	}
}

// KnownDoctors returns the valid doctor ids in ascending order.
func (s *Scope) KnownDoctors() []int64 {
	ids := make([]int64, 0, len(s.doctors))
	for id := range s.doctors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Scope) DoctorName(id int64) string { return s.doctors[id] }

func (s *Scope) availabilityChecked(doctorID int64, day time.Time) bool {
	_, ok := s.checked[availabilityKey{doctorID, formatDay(day)}]
	return ok
}

func (s *Scope) checkDoctor(id ID) *ToolError {
	if _, ok := s.doctors[int64(id)]; ok {
		return nil
	}
	known := s.KnownDoctors()
	if len(known) == 0 {
		return toolErr(CodeInvalidIdentifier,
			"invalid identifier: doctor_id %d was not returned by list_doctors in this conversation; valid set is {}. Call list_doctors first.", id).
			with("valid_ids", known)
	}
	parts := make([]string, len(known))
	for i, k := range known {
		parts[i] = fmt.Sprint(k)
	}
	return toolErr(CodeInvalidIdentifier,
		"invalid identifier: doctor_id %d is not one of the listed doctors; valid set is {%s}", id, strings.Join(parts, ", ")).
		with("valid_ids", known)
}

// Invocation is a corrected tool call ready for the registry.
type Invocation struct {
	Tool      ToolName
	Args      Args
	Corrected json.RawMessage
}

// Correct decodes, validates and rewrites the arguments of one tool call.
// It has no side effects. Caller-known identifiers are always replaced with
// the scope's values; identifiers the model chose must come from earlier
// tool results.
func Correct(s *Scope, name string, raw json.RawMessage) (*Invocation, *ToolError) {
	tool := ToolName(name)
	args, ok := newArgs(tool)
	if !ok {
		return nil, toolErr(CodeUnknownTool, "unknown tool %q", name)
	}
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "" {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, args); err != nil {
		return nil, toolErr(CodeInvalidArguments, "arguments for %s are not valid JSON: %v", name, err)
	}

	var corrected Args
	var terr *ToolError
	switch a := args.(type) {
	case *EscalateArgs:
		a.ConsultationID = ID(s.ConsultationID)
		corrected = *a
	case *FetchHistoryArgs:
		a.PatientID = ID(s.PatientID)
		corrected = *a
	case *ListDoctorsArgs:
		terr = validationErr(validation.ValidateStruct(a,
			validation.Field(&a.HospitalID, validation.NilOrNotEmpty, validation.Min(ID(1))),
		))
		corrected = *a
	case *CheckAvailabilityArgs:
		corrected, terr = s.correctAvailability(*a)
	case *BookAppointmentArgs:
		corrected, terr = s.correctBooking(*a)
	}
	if terr != nil {
		return nil, terr
	}

	out, err := json.Marshal(corrected)
	if err != nil {
		return nil, toolErr(CodeInvalidArguments, "encode arguments: %v", err)
	}
	return &Invocation{Tool: tool, Args: corrected, Corrected: out}, nil
}

func validationErr(err error) *ToolError {
	if err == nil {
		return nil
	}
	return toolErr(CodeInvalidArguments, "invalid arguments: %v", err)
}

func (s *Scope) correctAvailability(a CheckAvailabilityArgs) (Args, *ToolError) {
	if terr := validationErr(validation.ValidateStruct(&a,
		validation.Field(&a.DoctorID, validation.Required, validation.Min(ID(1))),
		validation.Field(&a.Date, validation.Required),
	)); terr != nil {
		return nil, terr
	}
	if terr := s.checkDoctor(a.DoctorID); terr != nil {
		return nil, terr
	}
	day, err := ParseDate(a.Date, s.Now, s.Location)
	if err != nil {
		return nil, err.(*ToolError)
	}
	if day.Before(startOfDay(s.Now)) {
		return nil, toolErr(CodePastStart, "%s is in the past; today is %s", formatDay(day), formatDay(s.Now))
	}
	a.day = day
	a.Date = formatDay(day)
	return a, nil
}

func (s *Scope) correctBooking(a BookAppointmentArgs) (Args, *ToolError) {
	if a.Mode == "" {
		a.Mode = string(scheduling.ModeOnline)
	}
	a.Mode = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(a.Mode), "-", ""))
	if terr := validationErr(validation.ValidateStruct(&a,
		validation.Field(&a.DoctorID, validation.Required, validation.Min(ID(1))),
		validation.Field(&a.StartTime, validation.Required),
		validation.Field(&a.Mode, validation.In(string(scheduling.ModeOnline), string(scheduling.ModeInPerson))),
	)); terr != nil {
		return nil, terr
	}
	if terr := s.checkDoctor(a.DoctorID); terr != nil {
		return nil, terr
	}
	start, err := ParseStart(a.StartTime, s.Location)
	if err != nil {
		return nil, err.(*ToolError)
	}
	if start.Before(s.Now) {
		return nil, toolErr(CodePastStart, "start time %s is in the past", start.Format(time.RFC3339))
	}
	if !s.availabilityChecked(int64(a.DoctorID), start) {
		return nil, toolErr(CodePrecondition,
			"call check_availability for doctor_id %d on %s before booking", a.DoctorID, formatDay(start))
	}
	a.start = start
	a.StartTime = start.Format(time.RFC3339)
	return a, nil
}
