package recommendation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura/aura/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const recCols = `id, hospital_id, title, description, priority, category, department, deadline,
	estimated_cost, progress_completed, progress_total, extra_data, created_at, updated_at`

func scanRec(row pgx.Row) (*Recommendation, error) {
	var rec Recommendation
	var deadline *time.Time
	var extra []byte
	err := row.Scan(&rec.ID, &rec.HospitalID, &rec.Title, &rec.Description, &rec.Priority, &rec.Category,
		&rec.Department, &deadline, &rec.EstimatedCost, &rec.ProgressCompleted, &rec.ProgressTotal,
		&extra, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if deadline != nil {
		d := deadline.Format(dateLayout)
		rec.Deadline = &d
	}
	if len(extra) > 0 {
		rec.ExtraData = extra
	}
	return &rec, nil
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *repoPG) Create(ctx context.Context, rec *Recommendation) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO recommendations (hospital_id, title, description, priority, category, department,
			deadline, estimated_cost, progress_completed, progress_total, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		rec.HospitalID, rec.Title, rec.Description, rec.Priority, rec.Category, rec.Department,
		rec.Deadline, rec.EstimatedCost, rec.ProgressCompleted, rec.ProgressTotal, nullJSON(rec.ExtraData),
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) Get(ctx context.Context, id int64) (*Recommendation, error) {
	rec, err := scanRec(r.conn(ctx).QueryRow(ctx, `SELECT `+recCols+` FROM recommendations WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *repoPG) List(ctx context.Context, hospitalID int64, f Filter) ([]*Recommendation, error) {
	where := []string{"hospital_id = $1"}
	args := []interface{}{hospitalID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Department != "" {
		add("department ILIKE $%d", "%"+f.Department+"%")
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recCols+` FROM recommendations
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
			deadline ASC NULLS LAST, created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Recommendation
	for rows.Next() {
		rec, err := scanRec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repoPG) Count(ctx context.Context, hospitalID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM recommendations WHERE hospital_id = $1`, hospitalID).Scan(&n)
	return n, err
}

func (r *repoPG) Stats(ctx context.Context, hospitalID int64) (*Stats, error) {
	var s Stats
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE priority = 'critical'),
			COUNT(*) FILTER (WHERE priority = 'high'),
			COUNT(*) FILTER (WHERE priority = 'medium'),
			COUNT(*) FILTER (WHERE priority = 'low'),
			COUNT(*) FILTER (WHERE progress_completed >= progress_total)
		FROM recommendations WHERE hospital_id = $1`, hospitalID,
	).Scan(&s.Total, &s.Critical, &s.High, &s.Medium, &s.Low, &s.Completed)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Update(ctx context.Context, rec *Recommendation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE recommendations SET title = $2, description = $3, priority = $4, category = $5,
			department = $6, deadline = $7::date, estimated_cost = $8, progress_completed = $9,
			progress_total = $10, extra_data = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.Title, rec.Description, rec.Priority, rec.Category, rec.Department, rec.Deadline,
		rec.EstimatedCost, rec.ProgressCompleted, rec.ProgressTotal, nullJSON(rec.ExtraData),
	).Scan(&rec.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM recommendations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
