package surge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura/aura/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const predCols = `id, city, date, baseline_total, predicted_total, departments, aqi_data, weather_data,
	festival_events, staffing_needs, supply_needs, created_at, updated_at`

func scanPrediction(row pgx.Row) (*Prediction, error) {
	var p Prediction
	var depts, aqi, weather, fests, staffing, supplies []byte
	err := row.Scan(&p.ID, &p.City, &p.Date, &p.BaselineTotal, &p.PredictedTotal,
		&depts, &aqi, &weather, &fests, &staffing, &supplies, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst interface{}
	}{
		{depts, &p.Departments}, {aqi, &p.AQI}, {weather, &p.Weather},
		{fests, &p.Festivals}, {staffing, &p.Staffing}, {supplies, &p.Supplies},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode surge prediction %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (r *repoPG) Upsert(ctx context.Context, p *Prediction) error {
	var args []interface{}
	args = append(args, p.City, p.DateString(), p.BaselineTotal, p.PredictedTotal)
	for _, v := range []interface{}{p.Departments, p.AQI, p.Weather, p.Festivals, p.Staffing, p.Supplies} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode surge prediction: %w", err)
		}
		args = append(args, b)
	}
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO surge_predictions
		(city, date, baseline_total, predicted_total, departments, aqi_data, weather_data,
		 festival_events, staffing_needs, supply_needs)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (city, date) DO UPDATE SET
			baseline_total = EXCLUDED.baseline_total,
			predicted_total = EXCLUDED.predicted_total,
			departments = EXCLUDED.departments,
			aqi_data = EXCLUDED.aqi_data,
			weather_data = EXCLUDED.weather_data,
			festival_events = EXCLUDED.festival_events,
			staffing_needs = EXCLUDED.staffing_needs,
			supply_needs = EXCLUDED.supply_needs,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`, args...).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert surge prediction %s %s: %w", p.City, p.DateString(), err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, city string, date time.Time) (*Prediction, error) {
	return scanPrediction(r.conn(ctx).QueryRow(ctx, `SELECT `+predCols+` FROM surge_predictions
		WHERE city = $1 AND date = $2::date`, city, date.Format(dateLayout)))
}

func (r *repoPG) ListRange(ctx context.Context, city string, from, to time.Time) ([]*Prediction, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+predCols+` FROM surge_predictions
		WHERE city = $1 AND date >= $2::date AND date <= $3::date ORDER BY date`,
		city, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list surge predictions: %w", err)
	}
	defer rows.Close()

	var out []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) CountConsultationsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultations WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count consultations: %w", err)
	}
	return n, nil
}
