// Package agent runs patient conversations: it alternates between the
// language-model policy and a closed catalog of tools until it has a reply
// for the patient. Every model-supplied argument passes through Correct
// before a tool sees it.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type ToolName string

const (
	ToolEscalate          ToolName = "escalate_to_human"
	ToolListDoctors       ToolName = "list_doctors"
	ToolCheckAvailability ToolName = "check_availability"
	ToolBookAppointment   ToolName = "book_appointment"
	ToolFetchHistory      ToolName = "fetch_patient_history"
)

// catalogOrder is the order tools are advertised to the policy.
var catalogOrder = []ToolName{
	ToolEscalate,
	ToolListDoctors,
	ToolCheckAvailability,
	ToolBookAppointment,
	ToolFetchHistory,
}

// ID accepts a JSON number or a numeric string. Models emit both.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("%q is not an integer id", string(b))
	}
	*id = ID(v)
	return nil
}

// Args is implemented by each tool's argument struct. The unexported method
// keeps the set closed to this package.
type Args interface {
	tool() ToolName
}

type EscalateArgs struct {
	ConsultationID ID `json:"consultation_id"`
}

type ListDoctorsArgs struct {
	HospitalID *ID `json:"hospital_id,omitempty"`
}

type CheckAvailabilityArgs struct {
	DoctorID ID     `json:"doctor_id"`
	Date     string `json:"date"`

	day time.Time
}

type BookAppointmentArgs struct {
	DoctorID  ID     `json:"doctor_id"`
	StartTime string `json:"start_time"`
	Mode      string `json:"mode"`

	start time.Time
}

type FetchHistoryArgs struct {
	PatientID ID `json:"patient_id"`
}

func (EscalateArgs) tool() ToolName          { return ToolEscalate }
func (ListDoctorsArgs) tool() ToolName       { return ToolListDoctors }
func (CheckAvailabilityArgs) tool() ToolName { return ToolCheckAvailability }
func (BookAppointmentArgs) tool() ToolName   { return ToolBookAppointment }
func (FetchHistoryArgs) tool() ToolName      { return ToolFetchHistory }

// newArgs returns a pointer to an empty argument struct for tool, or false
// when the name is not in the catalog.
func newArgs(tool ToolName) (Args, bool) {
	switch tool {
	case ToolEscalate:
		return &EscalateArgs{}, true
	case ToolListDoctors:
		return &ListDoctorsArgs{}, true
	case ToolCheckAvailability:
		return &CheckAvailabilityArgs{}, true
	case ToolBookAppointment:
		return &BookAppointmentArgs{}, true
	case ToolFetchHistory:
		return &FetchHistoryArgs{}, true
	}
	return nil, false
}
