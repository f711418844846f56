package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"authcore.org/internal/challenge"
)

// Cleaner purges rows that can no longer be used. *pg.Store implements it.
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time, retention time.Duration) error
}

// Scheduler runs cleanup on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	cleaner   Cleaner
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// NewScheduler registers cleanup under spec, a standard five-field cron
// expression or a descriptor such as "@every 10m". Challenges older than
// retention are removed; zero means the challenge expiry.
func NewScheduler(cleaner Cleaner, spec string, retention time.Duration, now func() time.Time) (*Scheduler, error) {
	if cleaner == nil {
		return nil, errors.New("worker: cleaner is nil")
	}
	if retention < 0 {
		return nil, errors.New("worker: retention must not be negative")
	}
	if retention == 0 {
		retention = challenge.DefaultExpiry
	}
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		cleaner:   cleaner,
		retention: retention,
		timeout:   time.Minute,
		now:       now,
	}
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.RunCleanup(context.Background()); err != nil {
			logger().WithError(err).WithField("event", "cleanup_failed").Error("scheduled cleanup")
		}
	}); err != nil {
		return nil, fmt.Errorf("worker: schedule cleanup %q: %w", spec, err)
	}
	return s, nil
}

// RunCleanup purges once.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.cleaner.Cleanup(ctx, s.now(), s.retention)
}

// Start begins the schedule in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule; the returned context is done once a running
// cleanup has finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
