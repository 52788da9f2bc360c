package surge

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/platform/events"
)

const (
	RiskHigh   = "high"
	RiskMedium = "medium"

	MaxForecastDays = 30
)

// Alert is the patient-facing summary of today's prediction.
type Alert struct {
	HasAlert        bool     `json:"has_alert"`
	RiskLevel       *string  `json:"risk_level"`
	Message         *string  `json:"message"`
	Recommendations []string `json:"recommendations"`
	ForecastDate    *string  `json:"forecast_date"`
}

// RunSummary describes one Compute run.
type RunSummary struct {
	City          string        `json:"city"`
	Days          int           `json:"days"`
	Consultations int           `json:"consultations"`
	Predictions   []*Prediction `json:"predictions"`
}

type Service struct {
	repo      Repository
	air       AirQualitySource
	weather   WeatherSource
	calendar  FestivalCalendar
	publisher events.Publisher
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService builds the forecaster. A nil air source uses MockSignals and a
// nil publisher discards events.
func NewService(repo Repository, air AirQualitySource, publisher events.Publisher, loc *time.Location, logger zerolog.Logger) *Service {
	if air == nil {
		air = MockSignals{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:      repo,
		air:       air,
		weather:   MockSignals{},
		calendar:  StaticCalendar,
		publisher: publisher,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithCalendar(cal FestivalCalendar) *Service {
	s.calendar = cal
	return s
}

func (s *Service) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

func validateCity(city string) error {
	return validation.Validate(city, validation.Required, validation.Length(1, 100))
}

// Compute predicts the next HorizonDays dates for city and upserts them.
// Running it twice for the same day replaces the earlier rows.
func (s *Service) Compute(ctx context.Context, city string) (*RunSummary, error) {
	if err := validateCity(city); err != nil {
		return nil, fmt.Errorf("city: %w", err)
	}
	today := s.today()

	air, err := s.air.AirQuality(ctx, city)
	if err != nil {
		s.logger.Warn().Err(err).Str("city", city).Msg("air quality unavailable, using default reading")
		air, _ = MockSignals{}.AirQuality(ctx, city)
	}
	weather, err := s.weather.Weather(ctx, city)
	if err != nil {
		s.logger.Warn().Err(err).Str("city", city).Msg("weather unavailable, using default reading")
		weather, _ = MockSignals{}.Weather(ctx, city)
	}

	count, err := s.repo.CountConsultationsSince(ctx, today.AddDate(0, 0, -HistoryDays))
	if err != nil {
		return nil, err
	}

	preds := Forecast(Inputs{
		City:          city,
		Today:         today,
		Consultations: count,
		AQI:           air,
		Weather:       weather,
		Festivals:     s.calendar(today),
	})
	for _, p := range preds {
		if err := s.repo.Upsert(ctx, p); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("city", city).
		Int("consultations_30d", count).
		Int("aqi", air.AQI).
		Int("days", len(preds)).
		Msg("surge forecast computed")

	summary := &RunSummary{City: city, Days: len(preds), Consultations: count, Predictions: preds}
	events.PublishBestEffort(ctx, s.publisher, s.logger, events.New(events.TypeSurgeComputed, today.Unix(), map[string]interface{}{
		"city":            city,
		"from":            today.Format(dateLayout),
		"days":            len(preds),
		"aqi":             air.AQI,
		"predicted_today": preds[0].PredictedTotal,
	}))
	return summary, nil
}

// Forecast returns stored predictions for city from today through
// today+days inclusive.
func (s *Service) Forecast(ctx context.Context, city string, days int) ([]*Prediction, error) {
	err := validation.Errors{
		"city": validateCity(city),
		"days": validation.Validate(days, validation.Required, validation.Min(1), validation.Max(MaxForecastDays)),
	}.Filter()
	if err != nil {
		return nil, err
	}
	today := s.today()
	preds, err := s.repo.ListRange(ctx, city, today, today.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	if preds == nil {
		preds = []*Prediction{}
	}
	return preds, nil
}

// Today returns the stored prediction for city and today's date, or
// ErrNotFound when the job has not run yet.
func (s *Service) Today(ctx context.Context, city string) (*Prediction, error) {
	if err := validateCity(city); err != nil {
		return nil, fmt.Errorf("city: %w", err)
	}
	return s.repo.Get(ctx, city, s.today())
}

// TodayAlert grades today's stored prediction for city. A missing
// prediction is not an error.
func (s *Service) TodayAlert(ctx context.Context, city string) (*Alert, error) {
	p, err := s.Today(ctx, city)
	if errors.Is(err, ErrNotFound) {
		return &Alert{}, nil
	}
	if err != nil {
		return nil, err
	}
	return buildAlert(city, p.MaxIncrease(), p.DateString()), nil
}

func buildAlert(city string, increase float64, date string) *Alert {
	a := &Alert{ForecastDate: &date}
	var level, msg string
	switch {
	case increase > 40:
		level = RiskHigh
		msg = fmt.Sprintf("High patient surge expected in %s today. %.0f%% increase predicted.", city, increase)
		a.Recommendations = []string{
			"Avoid outdoor activities if you have respiratory conditions",
			"Wear masks when going outside",
			"Stay hydrated",
			"Monitor symptoms closely",
		}
	case increase > 25:
		level = RiskMedium
		msg = fmt.Sprintf("Moderate patient surge expected in %s today.", city)
		a.Recommendations = []string{
			"Take precautions if you have chronic conditions",
			"Consider rescheduling non-urgent visits",
		}
	default:
		return a
	}
	a.HasAlert = true
	a.RiskLevel = &level
	a.Message = &msg
	return a
}
