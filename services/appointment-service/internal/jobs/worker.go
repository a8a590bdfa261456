// Package jobs runs the service's periodic maintenance.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PendingAssigner retries auto-assignment for pending appointments.
type PendingAssigner interface {
	RetryPending(ctx context.Context, fromDate string) (int, error)
}

// ExpiredSweeper deletes notifications past their read expiry.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type WorkerConfig struct {
	Interval time.Duration
	// Today returns the shop-local date that pending retries start from.
	Today func(now time.Time) string
}

type Worker struct {
	assigner PendingAssigner
	sweeper  ExpiredSweeper
	logger   *zap.Logger
	now      func() time.Time
	interval time.Duration
	today    func(time.Time) string
}

func NewWorker(assigner PendingAssigner, sweeper ExpiredSweeper, logger *zap.Logger, now func() time.Time, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Today == nil {
		cfg.Today = func(t time.Time) string { return t.UTC().Format("2006-01-02") }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Worker{
		assigner: assigner,
		sweeper:  sweeper,
		logger:   logger,
		now:      now,
		interval: cfg.Interval,
		today:    cfg.Today,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one pass. Each task failing is logged and does not stop
// the other.
func (w *Worker) RunOnce(ctx context.Context) {
	now := w.now()
	if w.assigner != nil {
		n, err := w.assigner.RetryPending(ctx, w.today(now))
		switch {
		case err != nil:
			w.logger.Error("pending assignment retry failed", zap.Error(err))
		case n > 0:
			w.logger.Info("pending appointments assigned", zap.Int("count", n))
		}
	}
	if w.sweeper != nil {
		n, err := w.sweeper.DeleteExpired(ctx, now.UTC())
		switch {
		case err != nil:
			w.logger.Error("notification expiry sweep failed", zap.Error(err))
		case n > 0:
			w.logger.Info("expired notifications deleted", zap.Int64("count", n))
		}
	}
}
