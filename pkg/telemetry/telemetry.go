// Package telemetry holds the process-wide prometheus collectors for the
// sync engine. Collectors are registered on the default registry and
// exposed by the /metrics endpoint in cmd/convosync.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSaved counts successful message writes per backend.
	MessagesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convosync_messages_saved_total",
		Help: "Messages durably written, labeled by backend.",
	}, []string{"backend"})

	// SaveFailures counts failed message writes per backend.
	SaveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convosync_save_failures_total",
		Help: "Message write failures, labeled by backend.",
	}, []string{"backend"})

	// RecordsSkipped counts malformed stored records skipped during load.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convosync_records_skipped_total",
		Help: "Malformed records skipped during load, labeled by backend.",
	}, []string{"backend"})

	// SyncRuns counts sync attempts labeled by kind (full|incremental|
	// reconcile) and result (ok|error|dropped).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convosync_sync_runs_total",
		Help: "Sync attempts, labeled by kind and result.",
	}, []string{"kind", "result"})

	// ConflictsResolved counts messages rewritten on the secondary because
	// the primary copy won.
	ConflictsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convosync_conflicts_resolved_total",
		Help: "Conflicting messages rewritten with the primary copy.",
	})

	// OrphansRecovered counts secondary-only messages propagated up to the
	// primary during conflict resolution.
	OrphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convosync_orphans_recovered_total",
		Help: "Secondary-only messages propagated to the primary.",
	})

	// MigratedMessages counts legacy messages moved by the one-time
	// migration.
	MigratedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convosync_migrated_messages_total",
		Help: "Legacy messages migrated into the primary store.",
	})

	// CompletionRequests counts language-model completion calls by result.
	CompletionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convosync_completion_requests_total",
		Help: "Completion API calls, labeled by result.",
	}, []string{"result"})

	// TreeSize tracks the number of messages in the in-memory tree.
	TreeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convosync_tree_messages",
		Help: "Messages currently held by the in-memory conversation tree.",
	})
)
