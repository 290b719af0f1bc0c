// Package migrate performs the one-time, idempotent transfer of messages
// held only in legacy local storage into the primary store. The persisted
// latch transitions NotStarted → Completed exactly once; interrupted runs
// retry on the next launch because the latch is set only after every write
// has been attempted.
package migrate

import (
	"context"
	"fmt"
	"sync"

	"convosync/pkg/logger"
	"convosync/pkg/state"
	"convosync/pkg/storage"
	"convosync/pkg/telemetry"
)

// Coordinator runs the legacy-to-primary migration.
type Coordinator struct {
	st        *state.Store
	primary   storage.Adapter
	secondary storage.Adapter
	source    Source

	// serializes concurrent Migrate calls; the latch makes the second one
	// a no-op.
	mu sync.Mutex
}

// NewCoordinator wires the coordinator. secondary may be nil.
func NewCoordinator(st *state.Store, primary, secondary storage.Adapter, source Source) *Coordinator {
	return &Coordinator{st: st, primary: primary, secondary: secondary, source: source}
}

// HasMigrated reports the persisted latch.
func (c *Coordinator) HasMigrated() bool {
	return c.st.HasMigrated()
}

// Migrate transfers legacy messages into the primary (and, best-effort,
// the secondary), then sets the latch. An empty legacy source still sets
// the latch so launches stop re-scanning. Safe to call concurrently.
func (c *Coordinator) Migrate(ctx context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st.HasMigrated() {
		logger.Debug("migration_already_completed")
		return 0, nil
	}
	if userID == "" {
		// No session, nothing to key the migration on; leave the latch
		// unset so a later sign-in migrates.
		return 0, nil
	}

	msgs, err := c.source.Load(userID)
	if err != nil {
		return 0, fmt.Errorf("load legacy messages: %w", err)
	}
	if len(msgs) == 0 {
		if err := c.st.MarkMigrated(); err != nil {
			return 0, fmt.Errorf("persist migration latch: %w", err)
		}
		logger.Info("migration_completed", "migrated", 0)
		return 0, nil
	}

	convID, err := c.primary.GetOrCreateDefaultConversation(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("primary conversation: %w", err)
	}
	// The primary write must succeed before the latch is set; saves are
	// idempotent upserts so a retry after a crash rewrites, not duplicates.
	if err := c.primary.SaveMessages(ctx, userID, convID, msgs); err != nil {
		return 0, fmt.Errorf("migrate to primary: %w", err)
	}

	if c.secondary != nil {
		sconvID, err := c.secondary.GetOrCreateDefaultConversation(ctx, userID)
		if err == nil {
			err = c.secondary.SaveMessages(ctx, userID, sconvID, msgs)
		}
		if err != nil {
			logger.Warn("migration_secondary_write_failed", "error", err)
		}
	}

	if err := c.st.MarkMigrated(); err != nil {
		return 0, fmt.Errorf("persist migration latch: %w", err)
	}
	telemetry.MigratedMessages.Add(float64(len(msgs)))
	logger.Info("migration_completed", "migrated", len(msgs))
	return len(msgs), nil
}
