package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convosync/pkg/models"
)

func msg(id, parent, content string) models.Message {
	return models.Message{
		ID:        id,
		UserID:    "u1",
		Content:   content,
		Author:    models.AuthorUser,
		Timestamp: time.Now().UTC(),
		ParentID:  parent,
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestAppendSetsActive(t *testing.T) {
	tr := New()
	tr.Append(msg("a", "", "hello"))
	assert.Equal(t, "a", tr.ActiveID())
	tr.Append(msg("b", "a", "world"))
	assert.Equal(t, "b", tr.ActiveID())
	assert.Equal(t, 2, tr.Len())
}

func TestBranchingRegenerate(t *testing.T) {
	// send, reply, re-select the user message, send again: the second
	// branch replaces the first on the active path while the old reply
	// stays in the arena.
	tr := New()
	tr.Append(msg("m1", "", "ping"))
	tr.Append(msg("m2", "m1", "pong"))
	require.Equal(t, []string{"m1", "m2"}, ids(tr.ActivePath()))

	tr.SelectActive("m1")
	tr.Append(msg("m3", "m1", "pong again"))

	assert.Equal(t, []string{"m1", "m3"}, ids(tr.ActivePath()))
	_, ok := tr.Get("m2")
	assert.True(t, ok, "first branch should remain in the arena")
	assert.Equal(t, 3, tr.Len())
}

func TestSelectUnknownIsNoop(t *testing.T) {
	tr := New()
	tr.Append(msg("a", "", "x"))
	tr.SelectActive("nope")
	assert.Equal(t, "a", tr.ActiveID())
}

func TestActivePathTruncatesOnDanglingParent(t *testing.T) {
	tr := New()
	// parent "ghost" was never loaded
	tr.Append(msg("b", "ghost", "stranded"))
	tr.Append(msg("c", "b", "child"))
	assert.Equal(t, []string{"b", "c"}, ids(tr.ActivePath()))
}

func TestRemoveMovesActiveToParent(t *testing.T) {
	tr := New()
	tr.Append(msg("a", "", "root"))
	tr.Append(msg("b", "a", "child"))
	tr.Remove("b")
	assert.Equal(t, "a", tr.ActiveID())
	assert.Equal(t, 1, tr.Len())

	// removing an unknown id is a no-op
	tr.Remove("b")
	assert.Equal(t, 1, tr.Len())
}

func TestRemoveRootClearsActive(t *testing.T) {
	tr := New()
	tr.Append(msg("a", "", "root"))
	tr.Remove("a")
	assert.Equal(t, "", tr.ActiveID())
	assert.Empty(t, tr.ActivePath())
}

func TestLoadReplacesAndPicksNewestActive(t *testing.T) {
	tr := New()
	tr.Append(msg("old", "", "stale"))

	tr.Load([]models.Message{
		msg("a", "", "one"),
		msg("b", "a", "two"),
	}, "")

	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, "b", tr.ActiveID())
	_, ok := tr.Get("old")
	assert.False(t, ok)
}

func TestLoadWithExplicitActive(t *testing.T) {
	tr := New()
	tr.Load([]models.Message{msg("a", "", "one"), msg("b", "a", "two")}, "a")
	assert.Equal(t, "a", tr.ActiveID())

	// unknown active id resets selection rather than pointing nowhere
	tr.Load([]models.Message{msg("a", "", "one")}, "zz")
	assert.Equal(t, "", tr.ActiveID())
}

func TestContextHistoryMatchesWalk(t *testing.T) {
	tr := New()
	tr.Append(msg("a", "", "one"))
	tr.Append(msg("b", "a", "two"))
	tr.Append(msg("c", "b", "three"))
	tr.SelectActive("b")

	assert.Equal(t, []string{"a", "b", "c"}, ids(tr.ContextHistory("c")))
	assert.Equal(t, []string{"a", "b"}, ids(tr.ActivePath()))
	assert.Empty(t, tr.ContextHistory(""))
}
