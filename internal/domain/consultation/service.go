package consultation

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var statuses = []interface{}{StatusPending, StatusInProgress, StatusCompleted, StatusEscalated}

func (s *Service) Create(ctx context.Context, c *Consultation) error {
	if c.Status == "" {
		c.Status = StatusPending
	}
	err := validation.ValidateStruct(c,
		validation.Field(&c.PatientID, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Status, validation.In(statuses...)),
	)
	if err != nil {
		return err
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) Get(ctx context.Context, id int64) (*Consultation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Consultation, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Patch carries the fields a doctor may change. Nil fields are left alone.
type Patch struct {
	Status    *string `json:"status"`
	DoctorID  *int64  `json:"doctor_id"`
	AISummary *string `json:"ai_summary"`
}

func (p Patch) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Status, validation.NilOrNotEmpty, validation.In(statuses...)),
		validation.Field(&p.DoctorID, validation.NilOrNotEmpty, validation.Min(int64(1))),
	)
}

func (s *Service) Update(ctx context.Context, id int64, p Patch) (*Consultation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.DoctorID != nil {
		c.DoctorID = p.DoctorID
	}
	if p.AISummary != nil {
		c.AISummary = p.AISummary
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Messages(ctx context.Context, consultationID int64) ([]*Message, error) {
	if _, err := s.repo.Get(ctx, consultationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, consultationID)
}

// PostDoctorMessage appends a doctor's message and, when the consultation
// has no doctor yet, assigns the author and moves it to in_progress.
func (s *Service) PostDoctorMessage(ctx context.Context, consultationID, doctorID int64, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.repo.AssignDoctorIfUnset(ctx, consultationID, doctorID, StatusInProgress); err != nil {
		return nil, err
	}
	m := &Message{ConsultationID: consultationID, Role: RoleDoctor, Content: content}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
