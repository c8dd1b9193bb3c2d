package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundopt/internal/metrics"
	"fundopt/internal/models"
)

// ReapStuck fails runs that have sat in "running" past the configured cutoff.
// Those rows were orphaned by a crash or restart; runs executing in this
// process are skipped. Wired as a cron job.
func (o *Orchestrator) ReapStuck(ctx context.Context) {
	stuckAfter := o.Cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-stuckAfter)

	runs, err := o.Repo.ListStuckRuns(ctx, cutoff)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("reaper list failed", zap.Error(err))
		}
		return
	}
	for _, run := range runs {
		o.mu.Lock()
		_, executing := o.inflight[run.ID]
		o.mu.Unlock()
		if executing {
			continue
		}
		if err := o.Repo.FailRun(ctx, run.ID, "orphaned: no live executor for this run", nil); err != nil {
			if o.Logger != nil {
				o.Logger.Warn("reaper fail write failed", zap.String("run_id", run.ID), zap.Error(err))
			}
			continue
		}
		metrics.RunsFailed.WithLabelValues("orphaned").Inc()
		o.Hub.Publish(ProgressEvent{RunID: run.ID, Status: models.RunStatusFailed, At: time.Now().UTC()})
		if o.Logger != nil {
			o.Logger.Info("reaped orphaned run", zap.String("run_id", run.ID))
		}
	}
}
