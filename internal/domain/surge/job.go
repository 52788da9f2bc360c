package surge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/platform/lock"
)

// Job recomputes the forecast for one city once at start and then daily at
// a fixed hour in the service's time zone.
type Job struct {
	svc    *Service
	city   string
	hour   int
	locker lock.Locker
	logger zerolog.Logger
}

func NewJob(svc *Service, city string, hour int, locker lock.Locker, logger zerolog.Logger) *Job {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Job{svc: svc, city: city, hour: hour, locker: locker, logger: logger}
}

// NextRun returns the first instant strictly after now at hour:00 in loc.
func NextRun(now time.Time, hour int, loc *time.Location) time.Time {
	n := now.In(loc)
	next := time.Date(n.Year(), n.Month(), n.Day(), hour, 0, 0, 0, loc)
	if !next.After(n) {
		next = time.Date(n.Year(), n.Month(), n.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// RunOnce computes the forecast while holding the per-city lock so replicas
// do not run it concurrently.
func (j *Job) RunOnce(ctx context.Context) error {
	release, err := j.locker.Acquire(ctx, "surge:"+j.city)
	if err != nil {
		return err
	}
	defer release()
	_, err = j.svc.Compute(ctx, j.city)
	return err
}

// Start blocks until ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error().Err(err).Str("city", j.city).Msg("surge forecast failed")
	}
	for {
		next := NextRun(j.svc.now(), j.hour, j.svc.loc)
		j.logger.Debug().Str("city", j.city).Time("next_run", next).Msg("surge job scheduled")
		timer := time.NewTimer(next.Sub(j.svc.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error().Err(err).Str("city", j.city).Msg("surge forecast failed")
			}
		}
	}
}
