package recommendation

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("recommendation not found")

type Repository interface {
	Create(ctx context.Context, r *Recommendation) error
	Get(ctx context.Context, id int64) (*Recommendation, error)
	// List orders by priority (critical first), deadline (earliest first,
	// none last), then newest.
	List(ctx context.Context, hospitalID int64, f Filter) ([]*Recommendation, error)
	Count(ctx context.Context, hospitalID int64) (int, error)
	Stats(ctx context.Context, hospitalID int64) (*Stats, error)
	Update(ctx context.Context, r *Recommendation) error
	Delete(ctx context.Context, id int64) error
}
