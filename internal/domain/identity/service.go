package identity

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	err := validation.ValidateStruct(u,
		validation.Field(&u.Email, validation.Required, is.EmailFormat),
		validation.Field(&u.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&u.Role, validation.Required, validation.In(RolePatient, RoleDoctor, RoleAdmin)),
	)
	if err != nil {
		return err
	}
	if u.HospitalID != nil {
		if _, err := s.repo.GetHospital(ctx, *u.HospitalID); err != nil {
			return fmt.Errorf("hospital %d: %w", *u.HospitalID, err)
		}
	}
	return s.repo.CreateUser(ctx, u)
}

func (s *Service) ListDoctors(ctx context.Context, hospitalID *int64) ([]*User, error) {
	return s.repo.ListDoctors(ctx, hospitalID)
}

// FirstDoctorInHospital picks the doctor a consultation is escalated to.
func (s *Service) FirstDoctorInHospital(ctx context.Context, hospitalID int64) (*User, error) {
	return s.repo.FirstDoctorInHospital(ctx, hospitalID)
}

func (s *Service) CreateHospital(ctx context.Context, h *Hospital) error {
	err := validation.ValidateStruct(h,
		validation.Field(&h.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&h.City, validation.Required, validation.Length(1, 100)),
	)
	if err != nil {
		return err
	}
	return s.repo.CreateHospital(ctx, h)
}

func (s *Service) GetHospital(ctx context.Context, id int64) (*Hospital, error) {
	return s.repo.GetHospital(ctx, id)
}

func (s *Service) ListHospitals(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	return s.repo.ListHospitals(ctx, limit, offset)
}

// CityOf returns the city of the user's hospital, or ErrNotFound when the
// user has no hospital.
func (s *Service) CityOf(ctx context.Context, userID int64) (string, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.HospitalID == nil {
		return "", ErrNotFound
	}
	h, err := s.repo.GetHospital(ctx, *u.HospitalID)
	if err != nil {
		return "", err
	}
	return h.City, nil
}
