package pgstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"convosync/pkg/models"
	"convosync/pkg/storage"
)

// openTestStore backs the adapter with a file sqlite database; the gorm
// surface is identical to the Postgres one for everything tested here.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "primary.db")
	return NewWithDialector(sqlite.Open(path))
}

func TestEmptyDSNIsConfigurationMissing(t *testing.T) {
	s := New("")
	ctx := context.Background()

	_, err := s.LoadMessages(ctx, "u1", storage.LoadOptions{})
	assert.ErrorIs(t, err, storage.ErrConfigurationMissing)
	err = s.SaveMessage(ctx, "u1", "c1", models.NewMessage("u1", "x", models.AuthorUser, ""))
	assert.ErrorIs(t, err, storage.ErrConfigurationMissing)
	assert.True(t, storage.IsRecoverable(err))
}

func TestDefaultConversationIsStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.GetOrCreateDefaultConversation(ctx, "u1")
	require.NoError(t, err)
	id2, err := s.GetOrCreateDefaultConversation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestSaveIsUpsertByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := models.NewMessage("u1", "original", models.AuthorUser, "")
	require.NoError(t, s.SaveMessage(ctx, "u1", "c1", m))
	m.Content = "rewritten"
	require.NoError(t, s.SaveMessage(ctx, "u1", "c1", m))

	got, err := s.LoadMessages(ctx, "u1", storage.LoadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rewritten", got[0].Content)
}

func TestBatchSaveAndOrderedLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	m1 := models.NewMessage("u1", "first", models.AuthorUser, "")
	m1.Timestamp = base
	m2 := models.NewMessage("u1", "second", models.AuthorAssistant, m1.ID)
	m2.Timestamp = base.Add(time.Minute)
	m2.Annotations = []models.Project{{Name: "atlas", Status: "active"}}
	bad := models.Message{ID: "not-a-uuid", Content: "dropped", Author: models.AuthorUser}

	require.NoError(t, s.SaveMessages(ctx, "u1", "c1", []models.Message{m2, bad, m1}))

	got, err := s.LoadMessages(ctx, "u1", storage.LoadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	require.Len(t, got[1].Annotations, 1)
	assert.Equal(t, "atlas", got[1].Annotations[0].Name)
}

func TestLoadSinceFiltersAndLimitKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	var msgs []models.Message
	for i := 0; i < 4; i++ {
		m := models.NewMessage("u1", string(rune('a'+i)), models.AuthorUser, "")
		m.Timestamp = base.Add(time.Duration(i) * time.Hour)
		msgs = append(msgs, m)
	}
	require.NoError(t, s.SaveMessages(ctx, "u1", "c1", msgs))

	got, err := s.LoadMessages(ctx, "u1", storage.LoadOptions{Since: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Content)

	got, err = s.LoadMessages(ctx, "u1", storage.LoadOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Content)
	assert.Equal(t, "d", got[1].Content)
}

func TestDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := models.NewMessage("u1", "bye", models.AuthorUser, "")
	require.NoError(t, s.SaveMessage(ctx, "u1", "c1", m))
	require.NoError(t, s.DeleteMessage(ctx, "u1", m.ID))
	// deleting again, or a row that never existed, is a no-op
	require.NoError(t, s.DeleteMessage(ctx, "u1", m.ID))

	got, err := s.LoadMessages(ctx, "u1", storage.LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteIsScopedToUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := models.NewMessage("u1", "keep", models.AuthorUser, "")
	require.NoError(t, s.SaveMessage(ctx, "u1", "c1", m))
	require.NoError(t, s.DeleteMessage(ctx, "u2", m.ID))

	got, err := s.LoadMessages(ctx, "u1", storage.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestValidationErrorOnBadMessage(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveMessage(context.Background(), "u1", "c1", models.Message{ID: "nope"})
	assert.ErrorIs(t, err, storage.ErrValidation)
}
