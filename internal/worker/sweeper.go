package worker

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/remitledger/internal/clock"
	"go.uber.org/zap"
)

// Jobs are the time-driven operations one sweep pass runs, in order.
type Jobs interface {
	ExpireAuthorizations(ctx context.Context, now time.Time) (int, error)
	CancelStale(ctx context.Context, now time.Time) (int, error)
	TimeoutPayouts(ctx context.Context, now time.Time) (int, error)
	RetryWebhooks(ctx context.Context, now time.Time) (int, error)
	VerifyLedger(ctx context.Context) error
}

// Sweeper runs Jobs periodically. Each pass holds the Locker so only one
// replica sweeps at a time.
type Sweeper struct {
	jobs     Jobs
	locker   Locker
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(jobs Jobs, locker Locker, c clock.Clock, interval time.Duration, logger *zap.Logger) *Sweeper {
	if locker == nil {
		locker = LocalLocker{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{jobs: jobs, locker: locker, clock: c, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, s.clock.Now()); err != nil {
				s.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce runs one pass as of now. It reports false when another replica
// holds the lock and nothing ran.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (bool, error) {
	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Debug("sweep skipped, lock held elsewhere")
		return false, nil
	}
	defer unlock()

	steps := []struct {
		name string
		run  func(context.Context, time.Time) (int, error)
	}{
		{"expire_authorizations", s.jobs.ExpireAuthorizations},
		{"cancel_stale", s.jobs.CancelStale},
		{"timeout_payouts", s.jobs.TimeoutPayouts},
		{"retry_webhooks", s.jobs.RetryWebhooks},
	}

	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		n, err := step.run(ctx, now)
		if err != nil {
			s.logger.Error("sweep step failed", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, err)
		}
		if n > 0 {
			s.logger.Info("sweep step done", zap.String("step", step.name), zap.Int("count", n))
		}
	}

	// Drift is reported by the ledger itself and never repaired here.
	if err := s.jobs.VerifyLedger(ctx); err != nil {
		errs = append(errs, err)
	}
	return true, errors.Join(errs...)
}
