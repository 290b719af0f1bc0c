package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convosync/pkg/models"
	"convosync/pkg/state"
	"convosync/pkg/storage"
)

type memAdapter struct {
	mu        sync.Mutex
	msgs      map[string]models.Message
	failSave  error
	saveCalls int
}

func newMemAdapter() *memAdapter {
	return &memAdapter{msgs: map[string]models.Message{}}
}

func (a *memAdapter) Name() string { return "mem" }

func (a *memAdapter) GetOrCreateDefaultConversation(ctx context.Context, userID string) (string, error) {
	return "conv-default", nil
}

func (a *memAdapter) SaveMessage(ctx context.Context, userID, conversationID string, msg models.Message) error {
	return a.SaveMessages(ctx, userID, conversationID, []models.Message{msg})
}

func (a *memAdapter) SaveMessages(ctx context.Context, userID, conversationID string, msgs []models.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saveCalls++
	if a.failSave != nil {
		return a.failSave
	}
	for _, m := range msgs {
		a.msgs[m.ID] = m
	}
	return nil
}

func (a *memAdapter) LoadMessages(ctx context.Context, userID string, opts storage.LoadOptions) ([]models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Message, 0, len(a.msgs))
	for _, m := range a.msgs {
		out = append(out, m)
	}
	return out, nil
}

func (a *memAdapter) DeleteMessage(ctx context.Context, userID, messageID string) error {
	return nil
}

type sliceSource struct {
	msgs []models.Message
	err  error
}

func (s sliceSource) Load(userID string) ([]models.Message, error) { return s.msgs, s.err }

func testStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.OpenStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func legacyMsgs(n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.NewMessage("u1", fmt.Sprintf("legacy %d", i), models.AuthorUser, ""))
	}
	return out
}

func TestMigrateTransfersAndSetsLatch(t *testing.T) {
	st := testStore(t)
	primary := newMemAdapter()
	secondary := newMemAdapter()
	c := NewCoordinator(st, primary, secondary, sliceSource{msgs: legacyMsgs(3)})

	n, err := c.Migrate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, len(primary.msgs))
	assert.Equal(t, 3, len(secondary.msgs))
	assert.True(t, c.HasMigrated())
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := testStore(t)
	primary := newMemAdapter()
	c := NewCoordinator(st, primary, nil, sliceSource{msgs: legacyMsgs(2)})

	_, err := c.Migrate(context.Background(), "u1")
	require.NoError(t, err)
	first := primary.saveCalls

	n, err := c.Migrate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, first, primary.saveCalls, "second run must not write")
}

func TestMigrateEmptyLegacySetsLatch(t *testing.T) {
	st := testStore(t)
	primary := newMemAdapter()
	c := NewCoordinator(st, primary, nil, sliceSource{})

	n, err := c.Migrate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, c.HasMigrated())
	assert.Equal(t, 0, primary.saveCalls)
}

func TestMigrateNoUserLeavesLatchUnset(t *testing.T) {
	st := testStore(t)
	c := NewCoordinator(st, newMemAdapter(), nil, sliceSource{msgs: legacyMsgs(1)})

	n, err := c.Migrate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, c.HasMigrated(), "no session: a later sign-in must still migrate")
}

func TestMigratePrimaryFailureLeavesLatchUnset(t *testing.T) {
	st := testStore(t)
	primary := newMemAdapter()
	primary.failSave = fmt.Errorf("%w: primary down", storage.ErrUnavailable)
	c := NewCoordinator(st, primary, nil, sliceSource{msgs: legacyMsgs(2)})

	_, err := c.Migrate(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, c.HasMigrated())

	// next launch retries and completes
	primary.failSave = nil
	n, err := c.Migrate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, c.HasMigrated())
}

func TestMigrateSecondaryFailureIsBestEffort(t *testing.T) {
	st := testStore(t)
	primary := newMemAdapter()
	secondary := newMemAdapter()
	secondary.failSave = fmt.Errorf("%w: cache down", storage.ErrUnavailable)
	c := NewCoordinator(st, primary, secondary, sliceSource{msgs: legacyMsgs(2)})

	n, err := c.Migrate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, c.HasMigrated())
}

func TestFileSourceParsesLegacyShapes(t *testing.T) {
	dir := t.TempDir()
	idA, idB, idC := uuid.NewString(), uuid.NewString(), uuid.NewString()
	boolTrue := "true"
	blob := `[
		{"id":"` + idA + `","content":"hello","isUser":` + boolTrue + `,"timestamp":"2024-11-02T10:00:00Z"},
		{"id":"` + idB + `","text":"reply","role":"assistant","parentId":"` + idA + `",
		 "projectCards":[{"name":"atlas","description":"d","status":"active"},{"description":"nameless"}]},
		{"id":"not-a-uuid","content":"skip me","role":"user"},
		{"id":"` + idC + `","content":"   ","role":"user"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages.json"), []byte(blob), 0o600))

	msgs, err := FileSource{Dir: dir}.Load("u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "malformed and empty-user records are skipped")

	assert.Equal(t, models.AuthorUser, msgs[0].Author)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, 2024, msgs[0].Timestamp.Year())

	assert.Equal(t, models.AuthorAssistant, msgs[1].Author)
	assert.Equal(t, "reply", msgs[1].Content)
	assert.Equal(t, idA, msgs[1].ParentID)
	require.Len(t, msgs[1].Annotations, 1, "nameless project card is dropped")
	assert.Equal(t, "atlas", msgs[1].Annotations[0].Name)
}

func TestFileSourceMissingFileIsEmpty(t *testing.T) {
	msgs, err := FileSource{Dir: t.TempDir()}.Load("u1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
