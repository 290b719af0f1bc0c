// Package reconcile schedules periodic conflict-resolution passes between
// the two stores on a cron expression. The incremental background ticker
// only copies primary writes down; this pass additionally recovers
// secondary-only messages written while the primary was unreachable.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"convosync/pkg/logger"
	"convosync/pkg/session"
	"convosync/pkg/syncer"
)

// Start starts the reconcile scheduler when cronExpr is non-empty. It
// returns a cancel func; an invalid expression is a startup error.
func Start(ctx context.Context, sc *syncer.Coordinator, gate session.Gate, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		logger.Info("reconcile_disabled")
		return func() {}, nil
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("reconcile_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", cronExpr)
	}

	logger.Info("reconcile_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, sc, gate, cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick with gronx and sleeps until then.
// Each run is independent; a failed pass logs and waits for the next tick.
func runScheduler(ctx context.Context, sc *syncer.Coordinator, gate session.Gate, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("reconcile_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			runOnce(ctx, sc, gate)
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		}
	}
}

func runOnce(ctx context.Context, sc *syncer.Coordinator, gate session.Gate) {
	userID, ok := gate.CurrentUserID()
	if !ok {
		logger.Debug("reconcile_skipped", "reason", "no user")
		return
	}
	stats, err := sc.ResolveConflicts(ctx, userID)
	if err != nil {
		logger.Warn("reconcile_run_failed", "error", err)
		return
	}
	logger.Info("reconcile_run_completed", "conflicts", stats.Conflicts, "orphans", stats.Orphans)
}
