// Package chat orchestrates a conversation turn: append the user message
// to the tree, durably attempt it on both stores, call the completion
// endpoint with the active-path context, and append the assistant reply.
// Completion failures become visible assistant-authored error messages in
// the tree, never a dropped turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"convosync/pkg/knowledge"
	"convosync/pkg/llm"
	"convosync/pkg/logger"
	"convosync/pkg/models"
	"convosync/pkg/session"
	"convosync/pkg/storage"
	"convosync/pkg/tree"
)

// ErrEmptyMessage rejects a send whose text is empty after trimming.
var ErrEmptyMessage = errors.New("chat: message text empty")

// ErrNotAuthenticated rejects operations without a signed-in user.
var ErrNotAuthenticated = errors.New("chat: not authenticated")

// projectTagRe matches the legacy [PROJECT:name] markers the assistant may
// embed in reply text.
var projectTagRe = regexp.MustCompile(`\[PROJECT:([^\]]+)\]`)

// Service is the engine facade consumed by the HTTP layer.
type Service struct {
	tree      *tree.Tree
	primary   storage.Adapter
	secondary storage.Adapter
	gate      session.Gate
	completer llm.Completer
	kb        *knowledge.Base

	loading atomic.Bool

	// cached default conversation ids per backend
	mu            sync.Mutex
	primaryConv   string
	secondaryConv string
}

// NewService wires the facade. secondary may be nil when no local cache is
// configured.
func NewService(t *tree.Tree, primary, secondary storage.Adapter, gate session.Gate, completer llm.Completer, kb *knowledge.Base) *Service {
	if kb == nil {
		kb = &knowledge.Base{}
	}
	return &Service{tree: t, primary: primary, secondary: secondary, gate: gate, completer: completer, kb: kb}
}

// Tree exposes the in-memory conversation tree for read paths.
func (s *Service) Tree() *tree.Tree { return s.tree }

// IsLoading reports whether the startup load or a completion call is in
// flight.
func (s *Service) IsLoading() bool { return s.loading.Load() }

// Load populates the tree at startup: the full set from the primary,
// falling back to the secondary when the primary fails or is empty. The
// tree is never partially loaded; on total failure it stays empty pending
// a retry. The loading flag is held for the duration so status reads
// reflect the network-bound hydration.
func (s *Service) Load(ctx context.Context) error {
	userID, ok := s.gate.CurrentUserID()
	if !ok {
		return nil
	}

	s.loading.Store(true)
	defer s.loading.Store(false)

	msgs, err := s.primary.LoadMessages(ctx, userID, storage.LoadOptions{})
	if err != nil {
		logger.Warn("primary_load_failed", "error", err)
		msgs = nil
	}
	if len(msgs) == 0 && s.secondary != nil {
		fallback, ferr := s.secondary.LoadMessages(ctx, userID, storage.LoadOptions{})
		if ferr != nil {
			logger.Warn("secondary_load_failed", "error", ferr)
			if err != nil {
				return fmt.Errorf("load messages: %w", err)
			}
			return nil
		}
		msgs = fallback
	}
	s.tree.Load(msgs, "")
	logger.Info("messages_loaded", "user", userID, "count", len(msgs))
	return nil
}

// Send runs one conversation turn and returns the assistant message that
// was appended (the reply, or the assistant-authored error text when the
// completion failed).
func (s *Service) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	userID, ok := s.gate.CurrentUserID()
	if !ok || !s.gate.IsAuthenticated() {
		return models.Message{}, ErrNotAuthenticated
	}

	userMsg := models.NewMessage(userID, text, models.AuthorUser, s.tree.ActiveID())
	s.tree.Append(userMsg)
	// durably attempt the user message before the completion call; a
	// persistence failure degrades to local-only history, never blocks
	s.persist(ctx, userID, userMsg)

	s.loading.Store(true)
	defer s.loading.Store(false)

	history := s.tree.ContextHistory(userMsg.ID)
	if n := len(history); n > 0 {
		// the new user text travels separately in the completion request
		history = history[:n-1]
	}

	completion, err := s.completer.Complete(ctx, history, text)
	if err != nil {
		logger.Warn("completion_failed", "user", userID, "error", err)
		errMsg := models.NewMessage(userID, "Sorry, I encountered an error: "+err.Error(), models.AuthorAssistant, userMsg.ID)
		s.tree.Append(errMsg)
		s.persist(ctx, userID, errMsg)
		return errMsg, nil
	}

	cleaned, tagged := s.parseProjectTags(completion.Text)
	annotations := append(completion.Projects, tagged...)

	reply := models.NewMessage(userID, cleaned, models.AuthorAssistant, userMsg.ID)
	reply.Annotations = annotations
	s.tree.Append(reply)
	s.persist(ctx, userID, reply)
	return reply, nil
}

// Select re-roots the active path on the given message. Unknown ids are a
// no-op.
func (s *Service) Select(id string) {
	s.tree.SelectActive(id)
}

// Delete removes a message from both adapters and the tree. A primary
// failure surfaces to the caller; a secondary failure is logged and left
// for the next sync to repair.
func (s *Service) Delete(ctx context.Context, id string) error {
	userID, ok := s.gate.CurrentUserID()
	if !ok {
		return ErrNotAuthenticated
	}
	if err := s.primary.DeleteMessage(ctx, userID, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete from primary: %w", err)
	}
	if s.secondary != nil {
		if err := s.secondary.DeleteMessage(ctx, userID, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("secondary_delete_failed", "id", id, "error", err)
		}
	}
	s.tree.Remove(id)
	return nil
}

// persist writes the message to both adapters. Configuration gaps log at
// info (the original treated an unconfigured primary as "saved locally
// only"); transient failures log at warn.
func (s *Service) persist(ctx context.Context, userID string, msg models.Message) {
	if err := s.saveTo(ctx, s.primary, &s.primaryConv, userID, msg); err != nil {
		if errors.Is(err, storage.ErrConfigurationMissing) {
			logger.Info("primary_not_configured", "id", msg.ID)
		} else {
			logger.Warn("primary_save_failed", "id", msg.ID, "error", err)
		}
	}
	if s.secondary == nil {
		return
	}
	if err := s.saveTo(ctx, s.secondary, &s.secondaryConv, userID, msg); err != nil {
		logger.Warn("secondary_save_failed", "id", msg.ID, "error", err)
	}
}

func (s *Service) saveTo(ctx context.Context, a storage.Adapter, convCache *string, userID string, msg models.Message) error {
	s.mu.Lock()
	convID := *convCache
	s.mu.Unlock()
	if convID == "" {
		var err error
		convID, err = a.GetOrCreateDefaultConversation(ctx, userID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		*convCache = convID
		s.mu.Unlock()
	}
	return a.SaveMessage(ctx, userID, convID, msg)
}

// parseProjectTags strips [PROJECT:name] markers from the reply and
// resolves them against the knowledge base.
func (s *Service) parseProjectTags(text string) (string, []models.Project) {
	matches := projectTagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text), nil
	}
	var projects []models.Project
	for _, m := range matches {
		if p, ok := s.kb.FindProject(strings.TrimSpace(m[1])); ok {
			projects = append(projects, p)
		}
	}
	cleaned := projectTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned), projects
}
