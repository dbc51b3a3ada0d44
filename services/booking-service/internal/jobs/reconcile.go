// Package jobs holds the service's scheduled maintenance work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type BusinessLister interface {
	ReviewedBusinessIDs(ctx context.Context) ([]string, error)
}

type Recomputer interface {
	Recompute(ctx context.Context, businessID string) (bool, error)
}

// RatingReconciler rebuilds every reviewed business's rating aggregate and
// repairs projections that drifted from the stored reviews.
type RatingReconciler struct {
	businesses BusinessLister
	ratings    Recomputer
	logger     *slog.Logger
	timeout    time.Duration
}

func NewRatingReconciler(businesses BusinessLister, ratings Recomputer, logger *slog.Logger, timeout time.Duration) *RatingReconciler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RatingReconciler{businesses: businesses, ratings: ratings, logger: logger, timeout: timeout}
}

// RunOnce returns the number of repaired businesses. A failing business is
// logged and skipped.
func (r *RatingReconciler) RunOnce(ctx context.Context) (int, error) {
	ids, err := r.businesses.ReviewedBusinessIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reviewed businesses: %w", err)
	}
	repaired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		changed, err := r.ratings.Recompute(ctx, id)
		if err != nil {
			r.logger.Warn("rating reconcile failed", "business_id", id, "err", err)
			continue
		}
		if changed {
			repaired++
			r.logger.Info("rating aggregate repaired", "business_id", id)
		}
	}
	return repaired, nil
}

// Schedule registers the reconciler on c using a standard five field spec.
func (r *RatingReconciler) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		start := time.Now()
		repaired, err := r.RunOnce(runCtx)
		if err != nil {
			r.logger.Error("rating reconcile run failed", "err", err)
			return
		}
		r.logger.Info("rating reconcile finished", "repaired", repaired, "duration_ms", time.Since(start).Milliseconds())
	})
}

// NewCron returns a scheduler that skips a run while the previous one is
// still going and recovers panics into the logger.
func NewCron(logger *slog.Logger) *cron.Cron {
	l := cronLogger{logger: logger}
	return cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
