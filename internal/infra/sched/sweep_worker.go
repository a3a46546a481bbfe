// File: internal/infra/sched/sweep_worker.go
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/infra/metrics"
	red "subscription-payments/internal/infra/redis"
	"subscription-payments/internal/usecase"
)

const sweepLockKey = "lock:subscription-sweep"

// SweepWorker runs the due-date sweep on a ticker. A redis lock keeps
// replicas from sweeping concurrently; the replica that loses the lock
// simply waits for the next tick.
type SweepWorker struct {
	interval time.Duration
	lockTTL  time.Duration
	sweepUC  usecase.SweepUseCase
	locker   red.Locker
	log      *zerolog.Logger
}

func NewSweepWorker(interval, lockTTL time.Duration, sweepUC usecase.SweepUseCase, locker red.Locker, logger *zerolog.Logger) *SweepWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	l := logger.With().Str("component", "SweepWorker").Logger()
	return &SweepWorker{
		interval: interval,
		lockTTL:  lockTTL,
		sweepUC:  sweepUC,
		locker:   locker,
		log:      &l,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting due-date sweep worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// One sweep at startup so a restarted service does not wait a full
	// interval with due subscriptions piling up.
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping due-date sweep worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *SweepWorker) tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				metrics.IncSweepRun("skipped")
				w.log.Debug().Msg("sweep lock held elsewhere, skipping tick")
				return
			}
			w.log.Error().Err(err).Msg("sweep lock error")
			return
		}
		defer func() {
			if err := w.locker.Unlock(ctx, sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("sweep lock release failed")
			}
		}()
	}

	report, err := w.sweepUC.RunOnce(ctx)
	if err != nil {
		metrics.IncSweepRun("error")
		w.log.Error().Err(err).Msg("due-date sweep failed")
		return
	}
	metrics.IncSweepRun("ok")
	if report.Terminated > 0 || report.Booked > 0 {
		w.log.Info().Int("terminated", report.Terminated).Int("booked", report.Booked).Msg("sweep tick done")
	}
}
