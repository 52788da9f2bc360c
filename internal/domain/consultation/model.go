package consultation

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusEscalated  = "escalated"
)

const (
	RolePatient        = "patient"
	RoleDoctor         = "doctor"
	RoleAgent          = "aura_agent"
	RoleRiskAssessment = "risk_assessment"
)

var (
	ErrNotFound     = errors.New("consultation not found")
	ErrInvalidRole  = errors.New("invalid message role")
	ErrEmptyMessage = errors.New("message content is required")
)

// RiskAssessment is the triage record produced by the agent. Keys absent
// from the model output stay nil.
type RiskAssessment struct {
	RiskLevel    *string `json:"risk_level"`
	PhysicalExam *string `json:"physical_exam"`
	Department   *string `json:"department"`
	DoctorLevel  *string `json:"doctor_level"`
	Reasoning    *string `json:"reasoning"`
}

type Consultation struct {
	ID             int64           `json:"id"`
	PatientID      int64           `json:"patient_id"`
	DoctorID       *int64          `json:"doctor_id,omitempty"`
	Status         string          `json:"status"`
	RiskAssessment *RiskAssessment `json:"risk_assessment,omitempty"`
	AISummary      *string         `json:"ai_summary,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Message is an append-only transcript entry. Metadata is opaque to this
// package; agent replies store a MessageMetadata document in it.
type Message struct {
	ID             int64           `json:"id"`
	ConsultationID int64           `json:"consultation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolCallRecord is the audit entry for one tool invocation in a turn.
type ToolCallRecord struct {
	Tool               string          `json:"tool"`
	Arguments          json.RawMessage `json:"arguments,omitempty"`
	CorrectedArguments json.RawMessage `json:"corrected_arguments,omitempty"`
	Result             json.RawMessage `json:"result"`
}

type MessageMetadata struct {
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
	RiskAssessment *RiskAssessment  `json:"risk_assessment"`
}

// DecodeMetadata reads agent metadata from m. Messages without it decode to
// an empty value.
func (m *Message) DecodeMetadata() (MessageMetadata, error) {
	var md MessageMetadata
	if len(m.Metadata) == 0 {
		return md, nil
	}
	err := json.Unmarshal(m.Metadata, &md)
	return md, err
}

func validMessageRole(r string) bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAgent, RoleRiskAssessment:
		return true
	}
	return false
}
