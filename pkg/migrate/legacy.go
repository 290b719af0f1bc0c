package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"convosync/pkg/logger"
	"convosync/pkg/models"
)

// Source yields messages held only in legacy, local-only storage.
type Source interface {
	// Load returns every legacy message. An absent legacy store returns
	// an empty slice, not an error.
	Load(userID string) ([]models.Message, error)
}

// FileSource reads the legacy local message blob: a JSON array written by
// earlier versions, with loosely-typed records ("content" or "text",
// "isUser" or "role", ISO-8601 timestamps). Unparseable entries are
// skipped so one bad record cannot hold the migration hostage.
type FileSource struct {
	Dir string
}

const legacyFileName = "messages.json"

type legacyRecord struct {
	ID           string            `json:"id"`
	Content      string            `json:"content"`
	Text         string            `json:"text"`
	IsUser       *bool             `json:"isUser"`
	Role         string            `json:"role"`
	Timestamp    string            `json:"timestamp"`
	ParentID     string            `json:"parentId"`
	ProjectCards []json.RawMessage `json:"projectCards"`
}

// Load parses the legacy blob at Dir/messages.json.
func (f FileSource) Load(userID string) ([]models.Message, error) {
	path := filepath.Join(f.Dir, legacyFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read legacy store: %w", err)
	}
	var recs []legacyRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("parse legacy store: %w", err)
	}

	out := make([]models.Message, 0, len(recs))
	for _, r := range recs {
		m, ok := r.toMessage(userID)
		if !ok {
			logger.Warn("legacy_record_skipped", "id", r.ID)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r legacyRecord) toMessage(userID string) (models.Message, bool) {
	if _, err := uuid.Parse(r.ID); err != nil {
		return models.Message{}, false
	}
	content := r.Content
	if content == "" {
		content = r.Text
	}

	var author models.Author
	switch {
	case r.IsUser != nil && *r.IsUser:
		author = models.AuthorUser
	case r.IsUser != nil:
		author = models.AuthorAssistant
	case r.Role == "user":
		author = models.AuthorUser
	case r.Role == "assistant":
		author = models.AuthorAssistant
	default:
		return models.Message{}, false
	}
	if author == models.AuthorUser && strings.TrimSpace(content) == "" {
		return models.Message{}, false
	}

	ts := time.Now().UTC()
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	var projects []models.Project
	for _, raw := range r.ProjectCards {
		var p models.Project
		if err := json.Unmarshal(raw, &p); err != nil || p.Name == "" {
			continue
		}
		projects = append(projects, p)
	}

	return models.Message{
		ID:          r.ID,
		UserID:      userID,
		Content:     content,
		Author:      author,
		Timestamp:   ts,
		ParentID:    r.ParentID,
		Annotations: projects,
	}, true
}
