// Package syncer keeps the secondary store consistent with the primary,
// which is the source of truth. Sync runs are single-flight per process:
// a request that arrives while one is in flight is dropped with a logged
// no-op, never queued.
package syncer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"convosync/pkg/logger"
	"convosync/pkg/state"
	"convosync/pkg/storage"
	"convosync/pkg/telemetry"
)

// Stats summarizes one conflict-resolution pass.
type Stats struct {
	Conflicts int // copies rewritten on the secondary (primary won)
	Orphans   int // secondary-only messages propagated to the primary
}

// Coordinator orchestrates full, incremental and conflict-resolving sync
// between the two adapters.
type Coordinator struct {
	primary   storage.Adapter
	secondary storage.Adapter
	st        *state.Store

	syncing atomic.Bool
	// now is swappable for tests.
	now func() time.Time
}

// New wires a coordinator over the two adapters and the persisted state.
func New(primary, secondary storage.Adapter, st *state.Store) *Coordinator {
	return &Coordinator{primary: primary, secondary: secondary, st: st, now: time.Now}
}

// IsSyncing reports whether a sync is currently in flight.
func (c *Coordinator) IsSyncing() bool { return c.syncing.Load() }

// SyncAll loads the full message set from the primary and writes it
// wholesale to the secondary. A concurrent call while one runs is dropped
// and returns nil.
func (c *Coordinator) SyncAll(ctx context.Context, userID string) error {
	if !c.syncing.CompareAndSwap(false, true) {
		logger.Info("sync_dropped", "kind", "full", "reason", "already running")
		telemetry.SyncRuns.WithLabelValues("full", "dropped").Inc()
		return nil
	}
	defer c.syncing.Store(false)
	return c.fullSync(ctx, userID)
}

// IncrementalSync syncs messages created since the last successful sync.
// Without a prior sync timestamp it degrades to a full sync. On success
// the timestamp advances to the current wall clock, not to the newest
// message timestamp, to avoid clock-skew gaps.
func (c *Coordinator) IncrementalSync(ctx context.Context, userID string) error {
	if !c.syncing.CompareAndSwap(false, true) {
		logger.Info("sync_dropped", "kind", "incremental", "reason", "already running")
		telemetry.SyncRuns.WithLabelValues("incremental", "dropped").Inc()
		return nil
	}
	defer c.syncing.Store(false)

	since, ok := c.st.LastSync()
	if !ok {
		return c.fullSync(ctx, userID)
	}

	started := c.now().UTC()
	msgs, err := c.primary.LoadMessages(ctx, userID, storage.LoadOptions{Since: since})
	if err != nil {
		telemetry.SyncRuns.WithLabelValues("incremental", "error").Inc()
		return fmt.Errorf("incremental load from primary: %w", err)
	}
	if len(msgs) > 0 {
		if err := c.secondary.SaveMessages(ctx, userID, "", msgs); err != nil {
			telemetry.SyncRuns.WithLabelValues("incremental", "error").Inc()
			return fmt.Errorf("incremental write to secondary: %w", err)
		}
	}
	if err := c.st.SetLastSync(started); err != nil {
		return fmt.Errorf("persist last sync: %w", err)
	}
	telemetry.SyncRuns.WithLabelValues("incremental", "ok").Inc()
	logger.Info("incremental_sync_completed", "user", userID, "since", since, "count", len(msgs))
	return nil
}

// fullSync is the shared read-then-write cycle. Callers hold the flight
// guard.
func (c *Coordinator) fullSync(ctx context.Context, userID string) error {
	started := c.now().UTC()
	msgs, err := c.primary.LoadMessages(ctx, userID, storage.LoadOptions{})
	if err != nil {
		telemetry.SyncRuns.WithLabelValues("full", "error").Inc()
		return fmt.Errorf("full load from primary: %w", err)
	}
	if err := c.secondary.SaveMessages(ctx, userID, "", msgs); err != nil {
		telemetry.SyncRuns.WithLabelValues("full", "error").Inc()
		return fmt.Errorf("full write to secondary: %w", err)
	}
	if err := c.st.SetLastSync(started); err != nil {
		return fmt.Errorf("persist last sync: %w", err)
	}
	telemetry.SyncRuns.WithLabelValues("full", "ok").Inc()
	logger.Info("full_sync_completed", "user", userID, "count", len(msgs))
	return nil
}

// ResolveConflicts reconciles divergence between the stores. Messages
// present in both with differing content or timestamp are rewritten on the
// secondary with the primary copy; secondary-only messages are propagated
// up to the primary; primary-only messages need no action.
func (c *Coordinator) ResolveConflicts(ctx context.Context, userID string) (Stats, error) {
	var st Stats

	pmsgs, err := c.primary.LoadMessages(ctx, userID, storage.LoadOptions{})
	if err != nil {
		return st, fmt.Errorf("conflict load from primary: %w", err)
	}
	smsgs, err := c.secondary.LoadMessages(ctx, userID, storage.LoadOptions{})
	if err != nil {
		return st, fmt.Errorf("conflict load from secondary: %w", err)
	}

	primary := make(map[string]int, len(pmsgs))
	for i, m := range pmsgs {
		primary[m.ID] = i
	}
	secondary := make(map[string]int, len(smsgs))
	for i, m := range smsgs {
		secondary[m.ID] = i
	}

	for id, pi := range primary {
		si, ok := secondary[id]
		if !ok {
			continue
		}
		pm, sm := pmsgs[pi], smsgs[si]
		if pm.Content == sm.Content && pm.Timestamp.Equal(sm.Timestamp) {
			continue
		}
		// primary wins, unconditionally
		if err := c.secondary.SaveMessage(ctx, userID, pm.ConversationID, pm); err != nil {
			return st, fmt.Errorf("rewrite secondary copy of %s: %w", id, err)
		}
		st.Conflicts++
		telemetry.ConflictsResolved.Inc()
		logger.Info("conflict_resolved", "id", id, "winner", "primary")
	}

	for id, si := range secondary {
		if _, ok := primary[id]; ok {
			continue
		}
		sm := smsgs[si]
		// recovers data written while the primary was unreachable
		if err := c.primary.SaveMessage(ctx, userID, sm.ConversationID, sm); err != nil {
			return st, fmt.Errorf("propagate %s to primary: %w", id, err)
		}
		st.Orphans++
		telemetry.OrphansRecovered.Inc()
		logger.Info("orphan_recovered", "id", id)
	}

	telemetry.SyncRuns.WithLabelValues("reconcile", "ok").Inc()
	logger.Info("conflicts_resolved", "user", userID, "conflicts", st.Conflicts, "orphans", st.Orphans)
	return st, nil
}

// StartBackground schedules IncrementalSync at a fixed interval for the
// lifetime of ctx. Each tick is independent: a failed tick logs and is
// retried on the next tick. Cancelling ctx (session teardown) stops the
// loop; the returned channel closes once the loop has fully exited, so
// teardown can wait out a tick that is still mid-write before tearing
// down the stores.
func (c *Coordinator) StartBackground(ctx context.Context, userID string, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		logger.Info("background_sync_started", "user", userID, "interval", interval.String())
		for {
			select {
			case <-ctx.Done():
				logger.Info("background_sync_stopped", "user", userID)
				return
			case <-t.C:
				if err := c.IncrementalSync(ctx, userID); err != nil {
					// background failures never surface to the user
					if storage.IsRecoverable(err) {
						logger.Warn("background_sync_unavailable", "user", userID, "error", err)
					} else {
						logger.Error("background_sync_failed", "user", userID, "error", err)
					}
				}
			}
		}
	}()
	return done
}
