package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura/aura/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const userCols = `id, email, full_name, role, hospital_id, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.HospitalID, &u.CreatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repoPG) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *repoPG) CreateUser(ctx context.Context, u *User) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (email, full_name, role, hospital_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		u.Email, u.FullName, u.Role, u.HospitalID).Scan(&u.ID, &u.CreatedAt)
}

func (r *repoPG) ListDoctors(ctx context.Context, hospitalID *int64) ([]*User, error) {
	query := `SELECT ` + userCols + ` FROM users WHERE role = 'doctor'`
	var args []interface{}
	if hospitalID != nil {
		query += ` AND hospital_id = $1`
		args = append(args, *hospitalID)
	}
	query += ` ORDER BY id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

func (r *repoPG) FirstDoctorInHospital(ctx context.Context, hospitalID int64) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE role = 'doctor' AND hospital_id = $1 ORDER BY id LIMIT 1`, hospitalID))
}

func (r *repoPG) CreateHospital(ctx context.Context, h *Hospital) error {
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO hospitals (name, city) VALUES ($1, $2) RETURNING id, created_at`,
		h.Name, h.City).Scan(&h.ID, &h.CreatedAt)
}

func (r *repoPG) GetHospital(ctx context.Context, id int64) (*Hospital, error) {
	var h Hospital
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, city, created_at FROM hospitals WHERE id = $1`, id).
		Scan(&h.ID, &h.Name, &h.City, &h.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return &h, err
}

func (r *repoPG) ListHospitals(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, city, created_at FROM hospitals ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Hospital
	for rows.Next() {
		var h Hospital
		if err := rows.Scan(&h.ID, &h.Name, &h.City, &h.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &h)
	}
	return items, total, rows.Err()
}
