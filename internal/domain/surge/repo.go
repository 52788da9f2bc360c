package surge

import (
	"context"
	"time"
)

type Repository interface {
	// Upsert inserts or replaces the prediction for (p.City, p.Date).
	Upsert(ctx context.Context, p *Prediction) error
	Get(ctx context.Context, city string, date time.Time) (*Prediction, error)
	// ListRange returns predictions for city with from <= date <= to,
	// ordered by date.
	ListRange(ctx context.Context, city string, from, to time.Time) ([]*Prediction, error)
	// CountConsultationsSince counts consultations created at or after since.
	CountConsultationsSince(ctx context.Context, since time.Time) (int, error)
}
