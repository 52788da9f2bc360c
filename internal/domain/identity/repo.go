package identity

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	// ListDoctors returns doctors ordered by id, optionally restricted to one hospital.
	ListDoctors(ctx context.Context, hospitalID *int64) ([]*User, error)
	// FirstDoctorInHospital returns the lowest-id doctor or ErrNotFound.
	FirstDoctorInHospital(ctx context.Context, hospitalID int64) (*User, error)

	CreateHospital(ctx context.Context, h *Hospital) error
	GetHospital(ctx context.Context, id int64) (*Hospital, error)
	ListHospitals(ctx context.Context, limit, offset int) ([]*Hospital, int, error)
}
