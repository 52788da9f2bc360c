package consultation

import "context"

// Filter selects consultations by patient or assigned doctor. Both set means
// both must match.
type Filter struct {
	PatientID *int64
	DoctorID  *int64
}

type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	Get(ctx context.Context, id int64) (*Consultation, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Consultation, int, error)
	// Update writes status, doctor_id and ai_summary.
	Update(ctx context.Context, c *Consultation) error
	SetStatus(ctx context.Context, id int64, status string) error
	SetRiskAssessment(ctx context.Context, id int64, ra *RiskAssessment) error
	// AssignDoctorIfUnset sets doctor_id and status only when no doctor is
	// assigned yet. It reports whether the row changed.
	AssignDoctorIfUnset(ctx context.Context, id, doctorID int64, status string) (bool, error)
	// Delete removes the consultation and, by cascade, its messages.
	Delete(ctx context.Context, id int64) error

	AppendMessage(ctx context.Context, m *Message) error
	// ListMessages returns the transcript in creation order.
	ListMessages(ctx context.Context, consultationID int64) ([]*Message, error)
}
