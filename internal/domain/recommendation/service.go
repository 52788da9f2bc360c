package recommendation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/domain/identity"
	"github.com/aura/aura/internal/domain/surge"
	"github.com/aura/aura/internal/platform/lock"
)

// Hospitals is satisfied by *identity.Service.
type Hospitals interface {
	GetHospital(ctx context.Context, id int64) (*identity.Hospital, error)
}

// SurgeSource is satisfied by *surge.Service.
type SurgeSource interface {
	Today(ctx context.Context, city string) (*surge.Prediction, error)
}

type Service struct {
	repo      Repository
	hospitals Hospitals
	surge     SurgeSource
	locker    lock.Locker
	logger    zerolog.Logger
}

// NewService builds the service. With hospitals and surge set, an empty
// hospital list is seeded from today's surge prediction on first read.
func NewService(repo Repository, hospitals Hospitals, surge SurgeSource, locker lock.Locker, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Service{repo: repo, hospitals: hospitals, surge: surge, locker: locker, logger: logger}
}

func (r *Recommendation) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.HospitalID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Description, validation.Required),
		validation.Field(&r.Priority, validation.Required, validation.In(priorities...)),
		validation.Field(&r.Category, validation.Required, validation.In(categories...)),
		validation.Field(&r.Deadline, validation.NilOrNotEmpty, validation.Date(dateLayout)),
		validation.Field(&r.EstimatedCost, validation.Min(int64(0))),
		validation.Field(&r.ProgressTotal, validation.Required, validation.Min(1)),
		validation.Field(&r.ProgressCompleted, validation.Min(0), validation.Max(r.ProgressTotal)),
	)
}

func applyDefaults(r *Recommendation) {
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Category == "" {
		r.Category = CategoryOperations
	}
	if r.ProgressTotal == 0 {
		r.ProgressTotal = 1
	}
	r.Priority = strings.ToLower(r.Priority)
	r.Category = strings.ToLower(r.Category)
}

func (s *Service) Create(ctx context.Context, r *Recommendation) error {
	applyDefaults(r)
	if err := r.Validate(); err != nil {
		return err
	}
	return s.repo.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id int64) (*Recommendation, error) {
	return s.repo.Get(ctx, id)
}

// List returns the hospital's recommendations, seeding them first when the
// hospital has none.
func (s *Service) List(ctx context.Context, hospitalID int64, f Filter) ([]*Recommendation, error) {
	if err := s.seedIfEmpty(ctx, hospitalID); err != nil {
		s.logger.Warn().Err(err).Int64("hospital_id", hospitalID).Msg("recommendation seeding failed")
	}
	f.Priority = known(f.Priority, priorities)
	f.Category = known(f.Category, categories)
	items, err := s.repo.List(ctx, hospitalID, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Recommendation{}
	}
	return items, nil
}

func known(v string, set []interface{}) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, s := range set {
		if s == v {
			return v
		}
	}
	return ""
}

func (s *Service) Stats(ctx context.Context, hospitalID int64) (*Stats, error) {
	return s.repo.Stats(ctx, hospitalID)
}

// Patch holds the fields an update may change. Nil fields are left alone.
type Patch struct {
	Title             *string         `json:"title"`
	Description       *string         `json:"description"`
	Priority          *string         `json:"priority"`
	Category          *string         `json:"category"`
	Department        *string         `json:"department"`
	Deadline          *string         `json:"deadline"`
	EstimatedCost     *int64          `json:"estimated_cost"`
	ProgressCompleted *int            `json:"progress_completed"`
	ProgressTotal     *int            `json:"progress_total"`
	ExtraData         json.RawMessage `json:"extra_data"`
}

func (s *Service) Update(ctx context.Context, id int64, p Patch) (*Recommendation, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Priority != nil {
		r.Priority = strings.ToLower(*p.Priority)
	}
	if p.Category != nil {
		r.Category = strings.ToLower(*p.Category)
	}
	if p.Department != nil {
		r.Department = p.Department
	}
	if p.Deadline != nil {
		r.Deadline = p.Deadline
	}
	if p.EstimatedCost != nil {
		r.EstimatedCost = p.EstimatedCost
	}
	if p.ProgressCompleted != nil {
		r.ProgressCompleted = *p.ProgressCompleted
	}
	if p.ProgressTotal != nil {
		r.ProgressTotal = *p.ProgressTotal
	}
	if len(p.ExtraData) > 0 && string(p.ExtraData) != "null" {
		r.ExtraData = p.ExtraData
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// seedIfEmpty creates recommendations from today's surge prediction for the
// hospital's city. The per-hospital lock keeps concurrent first reads from
// seeding twice.
func (s *Service) seedIfEmpty(ctx context.Context, hospitalID int64) error {
	if s.hospitals == nil || s.surge == nil {
		return nil
	}
	release, err := s.locker.Acquire(ctx, "recommendations:"+strconv.FormatInt(hospitalID, 10))
	if err != nil {
		return err
	}
	defer release()

	n, err := s.repo.Count(ctx, hospitalID)
	if err != nil || n > 0 {
		return err
	}
	h, err := s.hospitals.GetHospital(ctx, hospitalID)
	if err != nil {
		return fmt.Errorf("load hospital: %w", err)
	}
	pred, err := s.surge.Today(ctx, h.City)
	if errors.Is(err, surge.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load surge prediction: %w", err)
	}

	recs := FromPrediction(hospitalID, pred)
	for _, r := range recs {
		if err := s.repo.Create(ctx, r); err != nil {
			return fmt.Errorf("create seeded recommendation: %w", err)
		}
	}
	s.logger.Info().
		Int64("hospital_id", hospitalID).
		Str("city", h.City).
		Int("created", len(recs)).
		Msg("recommendations seeded from surge forecast")
	return nil
}
