// Package pgstore implements the primary persistence adapter on a
// Postgres-backed gorm connection. The primary is the source of truth for
// conflict resolution; when it is unreachable the engine degrades to the
// local secondary and recovers on a later sync.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"convosync/pkg/logger"
	"convosync/pkg/models"
	"convosync/pkg/storage"
	"convosync/pkg/telemetry"
)

type messageRecord struct {
	ID             string    `gorm:"primaryKey;size:36"`
	UserID         string    `gorm:"index:idx_messages_user;not null"`
	ConversationID string    `gorm:"index:idx_messages_conv"`
	Content        string    `gorm:"type:text"`
	Author         string    `gorm:"not null"`
	Timestamp      time.Time `gorm:"index:idx_messages_ts"`
	ParentID       string    `gorm:"size:36"`
	Annotations    string    `gorm:"type:text"`
}

func (messageRecord) TableName() string { return "messages" }

type conversationRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index:idx_conversations_user;not null"`
	Title     string
	CreatedAt time.Time
}

func (conversationRecord) TableName() string { return "conversations" }

// Store is the gorm-backed primary adapter. The connection is opened
// lazily on first use so an unconfigured or unreachable backend is a
// recoverable per-call error, never a startup failure.
type Store struct {
	dsn       string
	dialector gorm.Dialector

	mu sync.Mutex
	db *gorm.DB
}

// New returns a store that will connect to Postgres with the given DSN on
// first use. An empty DSN makes every operation fail with
// ErrConfigurationMissing.
func New(dsn string) *Store {
	return &Store{dsn: dsn}
}

// NewWithDialector returns a store over an explicit gorm dialector. Tests
// use this with the sqlite driver.
func NewWithDialector(d gorm.Dialector) *Store {
	return &Store{dialector: d}
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.WithContext(ctx), nil
	}
	d := s.dialector
	if d == nil {
		if s.dsn == "" {
			return nil, fmt.Errorf("%w: primary dsn not set", storage.ErrConfigurationMissing)
		}
		d = postgres.Open(s.dsn)
	}
	db, err := gorm.Open(d, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("%w: connect primary: %v", storage.ErrUnavailable, err)
	}
	if err := db.AutoMigrate(&conversationRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate primary schema: %v", storage.ErrUnavailable, err)
	}
	s.db = db
	logger.Info("primary_connected")
	return s.db.WithContext(ctx), nil
}

// wrapDB maps gorm/driver errors onto the shared storage taxonomy.
func wrapDB(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", storage.ErrNotFound, op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
	}
}

// GetOrCreateDefaultConversation returns the oldest conversation for the
// user, creating one when none exists. Creation is serialized in-process
// and guarded by the primary-key insert, so concurrent calls cannot leave
// two defaults behind.
func (s *Store) GetOrCreateDefaultConversation(ctx context.Context, userID string) (string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return "", err
	}

	var rec conversationRecord
	err = db.Where("user_id = ?", userID).Order("created_at asc").First(&rec).Error
	if err == nil {
		return rec.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", wrapDB("find conversation", err)
	}

	conv := models.NewConversation(userID, "Default Conversation")
	rec = conversationRecord{ID: conv.ID, UserID: userID, Title: conv.Title, CreatedAt: conv.CreatedAt}
	// DoNothing keeps the insert idempotent if another writer raced us.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return "", wrapDB("create conversation", err)
	}
	// Re-read so a racing creator's row wins consistently.
	if err := db.Where("user_id = ?", userID).Order("created_at asc").First(&rec).Error; err != nil {
		return "", wrapDB("reload conversation", err)
	}
	logger.Info("conversation_created", "backend", "postgres", "user", userID, "conversation", rec.ID)
	return rec.ID, nil
}

// SaveMessage upserts one message by id: the same id overwrites rather
// than duplicates, which keeps migration and sync writes idempotent.
func (s *Store) SaveMessage(ctx context.Context, userID, conversationID string, msg models.Message) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	rec, err := toRecord(userID, conversationID, msg)
	if err != nil {
		return err
	}
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		telemetry.SaveFailures.WithLabelValues("postgres").Inc()
		return wrapDB("save message", err)
	}
	telemetry.MessagesSaved.WithLabelValues("postgres").Inc()
	logger.Debug("message_saved", "backend", "postgres", "user", userID, "id", msg.ID)
	return nil
}

// SaveMessages upserts a batch in one statement. Invalid individual
// messages are skipped; the call fails only when the whole write fails.
func (s *Store) SaveMessages(ctx context.Context, userID, conversationID string, msgs []models.Message) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	recs := make([]messageRecord, 0, len(msgs))
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			logger.Warn("batch_message_skipped", "backend", "postgres", "id", m.ID, "error", err)
			continue
		}
		rec, err := toRecord(userID, conversationID, m)
		if err != nil {
			logger.Warn("batch_message_skipped", "backend", "postgres", "id", m.ID, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil
	}
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(recs, 200).Error; err != nil {
		telemetry.SaveFailures.WithLabelValues("postgres").Inc()
		return wrapDB("save message batch", err)
	}
	telemetry.MessagesSaved.WithLabelValues("postgres").Add(float64(len(recs)))
	logger.Info("messages_batch_saved", "backend", "postgres", "user", userID, "count", len(recs))
	return nil
}

// LoadMessages returns the user's messages ordered by timestamp ascending.
// Records whose stored annotations fail to decode are skipped, never abort
// the load. When a limit applies, the newest messages win.
func (s *Store) LoadMessages(ctx context.Context, userID string, opts storage.LoadOptions) ([]models.Message, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := db.Where("user_id = ?", userID).Order("timestamp asc, id asc")
	if opts.ConversationID != "" {
		q = q.Where("conversation_id = ?", opts.ConversationID)
	}
	if !opts.Since.IsZero() {
		q = q.Where("timestamp >= ?", opts.Since)
	}

	var recs []messageRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrapDB("load messages", err)
	}

	out := make([]models.Message, 0, len(recs))
	for _, r := range recs {
		m, err := fromRecord(r)
		if err != nil {
			logger.Warn("load_record_skipped", "backend", "postgres", "id", r.ID, "error", err)
			telemetry.RecordsSkipped.WithLabelValues("postgres").Inc()
			continue
		}
		out = append(out, m)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// DeleteMessage removes the matching row. A missing row is a no-op.
func (s *Store) DeleteMessage(ctx context.Context, userID, messageID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Where("id = ? AND user_id = ?", messageID, userID).Delete(&messageRecord{})
	if res.Error != nil {
		return wrapDB("delete message", res.Error)
	}
	logger.Debug("message_deleted", "backend", "postgres", "user", userID, "id", messageID, "rows", res.RowsAffected)
	return nil
}

func toRecord(userID, conversationID string, m models.Message) (messageRecord, error) {
	if m.UserID == "" {
		m.UserID = userID
	}
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	var ann string
	if len(m.Annotations) > 0 {
		b, err := json.Marshal(m.Annotations)
		if err != nil {
			return messageRecord{}, fmt.Errorf("%w: marshal annotations: %v", storage.ErrValidation, err)
		}
		ann = string(b)
	}
	return messageRecord{
		ID:             m.ID,
		UserID:         m.UserID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Author:         string(m.Author),
		Timestamp:      m.Timestamp.UTC(),
		ParentID:       m.ParentID,
		Annotations:    ann,
	}, nil
}

func fromRecord(r messageRecord) (models.Message, error) {
	m := models.Message{
		ID:             r.ID,
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		Content:        r.Content,
		Author:         models.Author(r.Author),
		Timestamp:      r.Timestamp.UTC(),
		ParentID:       r.ParentID,
	}
	if !m.Author.Valid() {
		return models.Message{}, fmt.Errorf("%w: author %q", storage.ErrValidation, r.Author)
	}
	if r.Annotations != "" {
		if err := json.Unmarshal([]byte(r.Annotations), &m.Annotations); err != nil {
			return models.Message{}, fmt.Errorf("%w: annotations: %v", storage.ErrValidation, err)
		}
	}
	return m, nil
}
