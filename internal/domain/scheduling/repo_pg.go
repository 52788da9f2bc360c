package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura/aura/internal/platform/db"
)

const uniqueSlotConstraint = "appointments_doctor_start_key"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const apptCols = `id, patient_id, doctor_id, consultation_id, start_time, mode, external_link, created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ConsultationID, &a.StartTime, &a.Mode, &a.ExternalLink, &a.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return &a, err
}

// where builds "(doctor_id = $n OR patient_id = $m)" for the set fields.
func (f Filter) where(args []interface{}) (string, []interface{}) {
	var clauses []string
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		clauses = append(clauses, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		clauses = append(clauses, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	switch len(clauses) {
	case 0:
		return "TRUE", args
	case 1:
		return clauses[0], args
	default:
		return "(" + clauses[0] + " OR " + clauses[1] + ")", args
	}
}

func (r *repoPG) ListStartingBetween(ctx context.Context, f Filter, from, to time.Time) ([]*Appointment, error) {
	cond, args := f.where([]interface{}{from, to})
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE start_time >= $1 AND start_time < $2 AND `+cond+` ORDER BY start_time, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// Advisory lock keys: even for doctors, odd for patients. Taken in ascending
// order so concurrent bookings cannot deadlock.
func (r *repoPG) LockParticipants(ctx context.Context, f Filter) error {
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("lock participants: no transaction in context")
	}
	var keys []int64
	if f.DoctorID != nil {
		keys = append(keys, *f.DoctorID*2)
	}
	if f.PatientID != nil {
		keys = append(keys, *f.PatientID*2+1)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, k); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
	}
	return nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, consultation_id, start_time, mode, external_link)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		a.PatientID, a.DoctorID, a.ConsultationID, a.StartTime, a.Mode, a.ExternalLink).Scan(&a.ID, &a.CreatedAt)
	if db.IsUniqueViolation(err, uniqueSlotConstraint) {
		return ErrDuplicateSlot
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	cond, args := f.where(nil)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+apptCols+` FROM appointments WHERE `+cond+
		` ORDER BY start_time DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
