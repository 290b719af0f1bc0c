// Package tree holds the in-memory model of all loaded messages for the
// active user. Messages form a forest through ParentID links; the "active
// path" is the root-to-selected walk that drives both display and the
// completion context.
package tree

import (
	"sync"

	"convosync/pkg/models"
	"convosync/pkg/telemetry"
)

// Tree is an arena of messages keyed by id plus a single active id. All
// reads take a snapshot under the lock; mutation happens only through
// Append, SelectActive, Remove and Load.
type Tree struct {
	mu       sync.RWMutex
	byID     map[string]models.Message
	order    []string // insertion order, for Messages()
	activeID string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{byID: make(map[string]models.Message)}
}

// Append adds a message and makes it the active id. Appending an id that
// is already present overwrites the arena entry but does not duplicate it
// in the ordering.
func (t *Tree) Append(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[msg.ID]; !ok {
		t.order = append(t.order, msg.ID)
	}
	t.byID[msg.ID] = msg
	t.activeID = msg.ID
	telemetry.TreeSize.Set(float64(len(t.byID)))
}

// SelectActive re-roots the active path on the given node. Selecting an
// unknown id is a no-op, not an error.
func (t *Tree) SelectActive(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; ok {
		t.activeID = id
	}
}

// ActiveID returns the currently selected message id, "" when unset.
func (t *Tree) ActiveID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeID
}

// Len returns the number of messages held.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Get returns the message for id.
func (t *Tree) Get(id string) (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byID[id]
	return m, ok
}

// Messages returns every message in insertion order.
func (t *Tree) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// ActivePath returns the messages from the root to the active id, oldest
// first. An unset or unknown active id yields an empty slice. A missing
// parent truncates the walk instead of failing.
func (t *Tree) ActivePath() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.walk(t.activeID)
}

// ContextHistory returns the root-to-fromID walk, oldest first. The
// completion service is order-sensitive, so callers must not reorder it.
func (t *Tree) ContextHistory(fromID string) []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.walk(fromID)
}

// walk follows ParentID links from id to the root and reverses the result.
// Callers hold at least the read lock.
func (t *Tree) walk(id string) []models.Message {
	if id == "" {
		return nil
	}
	var rev []models.Message
	cur := id
	for cur != "" {
		m, ok := t.byID[cur]
		if !ok {
			// dangling parent reference: truncate rather than fail
			break
		}
		rev = append(rev, m)
		cur = m.ParentID
	}
	out := make([]models.Message, len(rev))
	for i, m := range rev {
		out[len(rev)-1-i] = m
	}
	return out
}

// Remove drops a message from the arena. When the active id is removed the
// selection moves to its parent so the view stays anchored.
func (t *Tree) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if t.activeID == id {
		t.activeID = m.ParentID
	}
	telemetry.TreeSize.Set(float64(len(t.byID)))
}

// Load replaces the whole tree with the given message set. The load is
// all-or-nothing: either the full set is present or the tree stays empty
// pending a retry. The newest message becomes active when activeID is "".
func (t *Tree) Load(msgs []models.Message, activeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[string]models.Message, len(msgs))
	t.order = t.order[:0]
	for _, m := range msgs {
		if _, ok := t.byID[m.ID]; !ok {
			t.order = append(t.order, m.ID)
		}
		t.byID[m.ID] = m
	}
	switch {
	case activeID != "":
		if _, ok := t.byID[activeID]; ok {
			t.activeID = activeID
		} else {
			t.activeID = ""
		}
	case len(t.order) > 0:
		t.activeID = t.order[len(t.order)-1]
	default:
		t.activeID = ""
	}
	telemetry.TreeSize.Set(float64(len(t.byID)))
}
