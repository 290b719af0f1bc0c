package storage

import (
	"context"
	"time"

	"convosync/pkg/models"
)

// LoadOptions narrows a LoadMessages call. The zero value loads every
// message for the user, oldest first.
type LoadOptions struct {
	// ConversationID restricts the load to one conversation when set.
	ConversationID string
	// Limit caps the number of returned messages; 0 means no cap.
	Limit int
	// Since restricts the load to messages created at or after the given
	// time when non-zero. Used by incremental sync.
	Since time.Time
}

// Adapter is the uniform contract over a persistence backend. Two
// instances exist per process: the network-backed primary (source of
// truth) and the local secondary cache. Implementations must be safe for
// concurrent use.
type Adapter interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// GetOrCreateDefaultConversation returns the user's default
	// conversation id, creating exactly one when none exists. Must not
	// race-create duplicates under concurrent calls for the same user.
	GetOrCreateDefaultConversation(ctx context.Context, userID string) (string, error)

	// SaveMessage durably writes one message. Saving the same message id
	// again overwrites rather than duplicates. Returns ErrUnavailable or
	// ErrConfigurationMissing when the backend cannot be reached.
	SaveMessage(ctx context.Context, userID, conversationID string, msg models.Message) error

	// SaveMessages is a best-effort batch write. Implementations may
	// degrade to per-item calls but report failure only when the whole
	// batch fails.
	SaveMessages(ctx context.Context, userID, conversationID string, msgs []models.Message) error

	// LoadMessages returns a consistent snapshot ordered by timestamp
	// ascending. Malformed records are skipped, never abort the load.
	LoadMessages(ctx context.Context, userID string, opts LoadOptions) ([]models.Message, error)

	// DeleteMessage removes matching records; absent targets are a no-op.
	DeleteMessage(ctx context.Context, userID, messageID string) error
}
