package surge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/platform/lock"
)

func TestNextRun(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{"before hour", time.Date(2025, 11, 26, 1, 30, 0, 0, time.UTC), time.UTC, time.Date(2025, 11, 26, 2, 0, 0, 0, time.UTC)},
		{"at hour", time.Date(2025, 11, 26, 2, 0, 0, 0, time.UTC), time.UTC, time.Date(2025, 11, 27, 2, 0, 0, 0, time.UTC)},
		{"after hour", time.Date(2025, 11, 26, 3, 0, 0, 0, time.UTC), time.UTC, time.Date(2025, 11, 27, 2, 0, 0, 0, time.UTC)},
		{"clinic zone", time.Date(2025, 11, 26, 21, 0, 0, 0, time.UTC), ist, time.Date(2025, 11, 28, 2, 0, 0, 0, ist)},
		{"month end", time.Date(2025, 11, 30, 5, 0, 0, 0, time.UTC), time.UTC, time.Date(2025, 12, 1, 2, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, 2, tt.loc); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJob_RunOnce(t *testing.T) {
	svc, repo, _ := newTestService(nil)
	job := NewJob(svc, "Delhi", 2, lock.NewLocalLocker(), zerolog.Nop())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if repo.Len() != HorizonDays {
		t.Errorf("expected %d predictions, got %d", HorizonDays, repo.Len())
	}
}

func TestJob_StartStopsOnCancel(t *testing.T) {
	svc, repo, _ := newTestService(nil)
	job := NewJob(svc, "Delhi", 2, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for repo.Len() != HorizonDays {
		select {
		case <-deadline:
			t.Fatal("initial run did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
