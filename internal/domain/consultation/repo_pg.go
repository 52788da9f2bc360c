package consultation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura/aura/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const consultCols = `id, patient_id, doctor_id, status, risk_assessment, ai_summary, created_at, updated_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var ra []byte
	err := row.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.Status, &ra, &c.AISummary, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(ra) > 0 {
		c.RiskAssessment = &RiskAssessment{}
		if err := json.Unmarshal(ra, c.RiskAssessment); err != nil {
			return nil, fmt.Errorf("decode risk_assessment: %w", err)
		}
	}
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultations (patient_id, doctor_id, status, ai_summary)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		c.PatientID, c.DoctorID, c.Status, c.AISummary).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) Get(ctx context.Context, id int64) (*Consultation, error) {
	return scanConsultation(r.conn(ctx).QueryRow(ctx, `SELECT `+consultCols+` FROM consultations WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Consultation, int, error) {
	where := `TRUE`
	var args []interface{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(` AND patient_id = $%d`, len(args))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where += fmt.Sprintf(` AND doctor_id = $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+consultCols+` FROM consultations WHERE `+where+`
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, c *Consultation) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE consultations SET status = $2, doctor_id = $3, ai_summary = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Status, c.DoctorID, c.AISummary).Scan(&c.UpdatedAt)
}

func (r *repoPG) SetStatus(ctx context.Context, id int64, status string) error {
	return r.exec(ctx, `UPDATE consultations SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *repoPG) SetRiskAssessment(ctx context.Context, id int64, ra *RiskAssessment) error {
	b, err := json.Marshal(ra)
	if err != nil {
		return fmt.Errorf("encode risk_assessment: %w", err)
	}
	return r.exec(ctx, `UPDATE consultations SET risk_assessment = $2, updated_at = NOW() WHERE id = $1`, id, b)
}

func (r *repoPG) AssignDoctorIfUnset(ctx context.Context, id, doctorID int64, status string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultations SET doctor_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND doctor_id IS NULL`, id, doctorID, status)
	if err != nil {
		return false, fmt.Errorf("assign doctor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM consultations WHERE id = $1`, id)
}

func (r *repoPG) AppendMessage(ctx context.Context, m *Message) error {
	if !validMessageRole(m.Role) {
		return ErrInvalidRole
	}
	if len(m.Metadata) == 0 {
		m.Metadata = json.RawMessage(`{}`)
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (consultation_id, role, content, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		m.ConsultationID, m.Role, m.Content, []byte(m.Metadata)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *repoPG) ListMessages(ctx context.Context, consultationID int64) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, consultation_id, role, content, metadata, created_at
		FROM messages WHERE consultation_id = $1
		ORDER BY created_at, id`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		var m Message
		var md []byte
		if err := rows.Scan(&m.ID, &m.ConsultationID, &m.Role, &m.Content, &md, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Metadata = md
		out = append(out, &m)
	}
	return out, rows.Err()
}
