package documents

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, d *Document) error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.PatientID, validation.Required, validation.Min(int64(1))),
		validation.Field(&d.Name, validation.Required, validation.Length(1, 255)),
	)
	if err != nil {
		return err
	}
	return s.repo.Create(ctx, d)
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Document, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
