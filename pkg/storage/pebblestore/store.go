// Package pebblestore implements the secondary (device-local) persistence
// adapter on top of a Pebble key-value store. It keeps a full copy of the
// user's messages for offline availability; the sync coordinator keeps it
// consistent with the primary.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"convosync/pkg/logger"
	"convosync/pkg/models"
	"convosync/pkg/storage"
	"convosync/pkg/telemetry"
)

// Key layout:
//
//	user:<uid>:msg:<msgID>    -> message JSON (primary record, upsert by id)
//	user:<uid>:conv:default   -> default conversation id
//	conv:<convID>:meta        -> conversation JSON
type Store struct {
	// mu guards db against Close racing in-flight adapter calls. Ops hold
	// the read side for their duration; Close takes the write side, so a
	// shutdown waits for calls already past ready() to finish.
	mu   sync.RWMutex
	db   *pebble.DB
	path string

	// serializes default-conversation creation per store; pebble has no
	// conditional write primitive.
	convMu sync.Mutex
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: open pebble at %s: %v", storage.ErrUnavailable, path, err)
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database. It blocks until in-flight adapter
// calls drain; calls arriving afterward get ErrConfigurationMissing.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed", "path", s.path)
	return err
}

func (s *Store) Name() string { return "pebble" }

// ready checks the handle; callers must hold mu (read side suffices).
func (s *Store) ready() error {
	if s.db == nil {
		return fmt.Errorf("%w: pebble not opened", storage.ErrConfigurationMissing)
	}
	return nil
}

func msgKey(userID, msgID string) []byte {
	return []byte("user:" + userID + ":msg:" + msgID)
}

func defaultConvKey(userID string) []byte {
	return []byte("user:" + userID + ":conv:default")
}

func convMetaKey(convID string) []byte {
	return []byte("conv:" + convID + ":meta")
}

// GetOrCreateDefaultConversation returns the stored default conversation
// for the user, creating exactly one when none exists. Creation is
// serialized so concurrent calls for the same user observe one id.
func (s *Store) GetOrCreateDefaultConversation(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.convMu.Lock()
	defer s.convMu.Unlock()

	v, closer, err := s.db.Get(defaultConvKey(userID))
	if err == nil {
		id := string(v)
		closer.Close()
		return id, nil
	}
	if err != pebble.ErrNotFound {
		return "", fmt.Errorf("%w: get default conversation: %v", storage.ErrUnavailable, err)
	}

	conv := models.NewConversation(userID, "Default Conversation")
	meta, err := json.Marshal(conv)
	if err != nil {
		return "", fmt.Errorf("marshal conversation: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(convMetaKey(conv.ID), meta, nil); err != nil {
		return "", fmt.Errorf("%w: stage conversation meta: %v", storage.ErrUnavailable, err)
	}
	if err := b.Set(defaultConvKey(userID), []byte(conv.ID), nil); err != nil {
		return "", fmt.Errorf("%w: stage default pointer: %v", storage.ErrUnavailable, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("%w: commit conversation: %v", storage.ErrUnavailable, err)
	}
	logger.Info("conversation_created", "backend", "pebble", "user", userID, "conversation", conv.ID)
	return conv.ID, nil
}

// SaveMessage writes one message keyed by id. Writing the same id again
// overwrites the stored record.
func (s *Store) SaveMessage(ctx context.Context, userID, conversationID string, msg models.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	if msg.UserID == "" {
		msg.UserID = userID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.db.Set(msgKey(userID, msg.ID), data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "backend", "pebble", "user", userID, "id", msg.ID, "error", err)
		telemetry.SaveFailures.WithLabelValues("pebble").Inc()
		return fmt.Errorf("%w: set message: %v", storage.ErrUnavailable, err)
	}
	telemetry.MessagesSaved.WithLabelValues("pebble").Inc()
	logger.Debug("message_saved", "backend", "pebble", "user", userID, "id", msg.ID)
	return nil
}

// SaveMessages writes a batch, degrading to per-item sets inside one
// pebble batch. The whole batch fails only when the commit fails.
func (s *Store) SaveMessages(ctx context.Context, userID, conversationID string, msgs []models.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	staged := 0
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			logger.Warn("batch_message_skipped", "backend", "pebble", "id", m.ID, "error", err)
			continue
		}
		if m.UserID == "" {
			m.UserID = userID
		}
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		data, err := json.Marshal(m)
		if err != nil {
			logger.Warn("batch_message_skipped", "backend", "pebble", "id", m.ID, "error", err)
			continue
		}
		if err := b.Set(msgKey(userID, m.ID), data, nil); err != nil {
			return fmt.Errorf("%w: stage message %s: %v", storage.ErrUnavailable, m.ID, err)
		}
		staged++
	}
	if staged == 0 {
		return nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		telemetry.SaveFailures.WithLabelValues("pebble").Inc()
		return fmt.Errorf("%w: commit batch: %v", storage.ErrUnavailable, err)
	}
	telemetry.MessagesSaved.WithLabelValues("pebble").Add(float64(staged))
	logger.Info("messages_batch_saved", "backend", "pebble", "user", userID, "count", staged)
	return nil
}

// LoadMessages scans the user's message prefix and returns messages sorted
// by timestamp ascending. Undecodable records are skipped with a warning.
// When a limit applies, the newest messages win but order stays ascending.
func (s *Store) LoadMessages(ctx context.Context, userID string, opts storage.LoadOptions) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte("user:" + userID + ":msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: iterator: %v", storage.ErrUnavailable, err)
	}
	defer iter.Close()

	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			logger.Warn("load_record_skipped", "backend", "pebble", "key", string(iter.Key()), "error", err)
			telemetry.RecordsSkipped.WithLabelValues("pebble").Inc()
			continue
		}
		if opts.ConversationID != "" && m.ConversationID != opts.ConversationID {
			continue
		}
		if !opts.Since.IsZero() && m.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %v", storage.ErrUnavailable, err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// DeleteMessage removes the record for the given id. Absent records are a
// no-op: pebble deletes are blind writes.
func (s *Store) DeleteMessage(ctx context.Context, userID, messageID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete(msgKey(userID, messageID), pebble.Sync); err != nil {
		logger.Error("delete_message_failed", "backend", "pebble", "user", userID, "id", messageID, "error", err)
		return fmt.Errorf("%w: delete message: %v", storage.ErrUnavailable, err)
	}
	logger.Debug("message_deleted", "backend", "pebble", "user", userID, "id", messageID)
	return nil
}
