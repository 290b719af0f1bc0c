package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Validation errors shared by message producers and the storage adapters.
var (
	ErrMissingID        = errors.New("message id missing")
	ErrMalformedID      = errors.New("message id is not a uuid")
	ErrUnknownAuthor    = errors.New("unknown message author")
	ErrEmptyContent     = errors.New("user message content empty")
	ErrMissingTimestamp = errors.New("message timestamp missing")
)

// Conversation groups messages for one user. At most one default
// conversation per user is auto-created when none exists.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewConversation builds a conversation with a fresh id.
func NewConversation(userID, title string) Conversation {
	return Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
}
