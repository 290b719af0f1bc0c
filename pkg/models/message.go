package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Author identifies who produced a message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Valid reports whether the author is one of the known values.
func (a Author) Valid() bool {
	return a == AuthorUser || a == AuthorAssistant
}

// Project is a structured annotation attached by an assistant turn. It is
// immutable and set at message creation only.
type Project struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Status      string   `json:"status" yaml:"status"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Message is a single conversation turn. Messages are immutable once
// created; they form a tree through ParentID ("" only for a root).
type Message struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
	Author         Author    `json:"author"`
	Timestamp      time.Time `json:"timestamp"`
	ParentID       string    `json:"parent_id,omitempty"`
	Annotations    []Project `json:"annotations,omitempty"`
}

// NewMessage builds a message with a fresh id and UTC creation timestamp.
// ParentID may be empty for a conversation root.
func NewMessage(userID, content string, author Author, parentID string) Message {
	return Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Author:    author,
		Timestamp: time.Now().UTC(),
		ParentID:  parentID,
	}
}

// IsRoot reports whether the message starts a conversation branch.
func (m Message) IsRoot() bool { return m.ParentID == "" }

// Validate checks the fields required for a message to be storable.
// User-authored messages must have non-empty content after trimming;
// assistant/system text may be empty.
func (m Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return ErrMalformedID
	}
	if !m.Author.Valid() {
		return ErrUnknownAuthor
	}
	if m.Author == AuthorUser && strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if m.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}
