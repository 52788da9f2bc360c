package documents

import "context"

type Repository interface {
	Create(ctx context.Context, d *Document) error
	// ListByPatient returns newest first.
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Document, int, error)
}
