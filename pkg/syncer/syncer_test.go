package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convosync/pkg/models"
	"convosync/pkg/state"
	"convosync/pkg/storage"
)

// memAdapter is an in-memory storage.Adapter with failure injection and
// call counting.
type memAdapter struct {
	name string

	mu        sync.Mutex
	msgs      map[string]models.Message
	failLoad  error
	failSave  error
	loadCalls int
	saveCalls int
}

func newMemAdapter(name string) *memAdapter {
	return &memAdapter{name: name, msgs: map[string]models.Message{}}
}

func (a *memAdapter) Name() string { return a.name }

func (a *memAdapter) GetOrCreateDefaultConversation(ctx context.Context, userID string) (string, error) {
	return "conv-" + a.name, nil
}

func (a *memAdapter) SaveMessage(ctx context.Context, userID, conversationID string, msg models.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saveCalls++
	if a.failSave != nil {
		return a.failSave
	}
	a.msgs[msg.ID] = msg
	return nil
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
	a.loadCalls++
	if a.failLoad != nil {
		return nil, a.failLoad
	}
	var out []models.Message
	for _, m := range a.msgs {
		if !opts.Since.IsZero() && m.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (a *memAdapter) DeleteMessage(ctx context.Context, userID, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.msgs, messageID)
	return nil
}

func (a *memAdapter) get(id string) (models.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.msgs[id]
	return m, ok
}

func (a *memAdapter) put(m models.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs[m.ID] = m
}

func (a *memAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

func testStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.OpenStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func mkMsg(id string, ts time.Time, content string) models.Message {
	return models.Message{
		ID:        id,
		UserID:    "u1",
		Content:   content,
		Author:    models.AuthorUser,
		Timestamp: ts,
	}
}

func TestSyncAllCopiesPrimaryToSecondary(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	primary.put(mkMsg("a", now.Add(-time.Hour), "one"))
	primary.put(mkMsg("b", now.Add(-time.Minute), "two"))

	c := New(primary, secondary, st)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SyncAll(context.Background(), "u1"))
	assert.Equal(t, 2, secondary.count())

	// lastSync is the wall clock at sync start, not the newest message ts
	got, ok := st.LastSync()
	require.True(t, ok)
	assert.True(t, got.Equal(now))
}

func TestSyncAllPrimaryFailureLeavesTimestamp(t *testing.T) {
	primary := newMemAdapter("primary")
	primary.failLoad = fmt.Errorf("%w: boom", storage.ErrUnavailable)
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	c := New(primary, secondary, st)
	err := c.SyncAll(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, storage.IsRecoverable(err))
	_, ok := st.LastSync()
	assert.False(t, ok)
	assert.Equal(t, 0, secondary.saveCalls)
}

func TestIncrementalDegradesToFullWithoutTimestamp(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	primary.put(mkMsg("a", time.Now().UTC().Add(-time.Hour), "one"))

	c := New(primary, secondary, st)
	require.NoError(t, c.IncrementalSync(context.Background(), "u1"))

	// no prior timestamp: the full set is copied and a timestamp recorded
	assert.Equal(t, 1, secondary.count())
	_, ok := st.LastSync()
	assert.True(t, ok)
}

func TestIncrementalOnlyWritesNewMessages(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	cutoff := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetLastSync(cutoff))

	primary.put(mkMsg("old", cutoff.Add(-time.Hour), "old"))
	primary.put(mkMsg("new", cutoff.Add(time.Minute), "new"))

	c := New(primary, secondary, st)
	require.NoError(t, c.IncrementalSync(context.Background(), "u1"))

	_, ok := secondary.get("old")
	assert.False(t, ok)
	_, ok = secondary.get("new")
	assert.True(t, ok)
}

func TestIncrementalSkipsWriteWhenNothingNew(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)
	require.NoError(t, st.SetLastSync(time.Now().UTC()))

	c := New(primary, secondary, st)
	require.NoError(t, c.IncrementalSync(context.Background(), "u1"))
	assert.Equal(t, 0, secondary.saveCalls)
}

func TestConcurrentSyncIsDropped(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	c := New(primary, secondary, st)
	// hold the flight guard as a running sync would
	require.True(t, c.syncing.CompareAndSwap(false, true))

	// both shapes are dropped without touching either store
	require.NoError(t, c.SyncAll(context.Background(), "u1"))
	require.NoError(t, c.IncrementalSync(context.Background(), "u1"))
	assert.Equal(t, 0, primary.loadCalls)
	assert.Equal(t, 0, secondary.saveCalls)

	c.syncing.Store(false)
	require.NoError(t, c.SyncAll(context.Background(), "u1"))
	assert.Equal(t, 1, primary.loadCalls)
}

func TestResolveConflictsPrimaryWins(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	primary.put(mkMsg("x", ts, "primary text"))
	// same id, older and different content; the secondary copy is newer in
	// timestamp but still loses
	divergent := mkMsg("x", ts.Add(time.Hour), "secondary text")
	secondary.put(divergent)

	c := New(primary, secondary, st)
	stats, err := c.ResolveConflicts(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 0, stats.Orphans)

	got, ok := secondary.get("x")
	require.True(t, ok)
	assert.Equal(t, "primary text", got.Content)
	assert.True(t, got.Timestamp.Equal(ts))
}

func TestResolveConflictsRecoversOrphans(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	ts := time.Now().UTC()
	secondary.put(mkMsg("orphan", ts, "written while offline"))

	c := New(primary, secondary, st)
	stats, err := c.ResolveConflicts(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Conflicts)
	assert.Equal(t, 1, stats.Orphans)

	got, ok := primary.get("orphan")
	require.True(t, ok)
	assert.Equal(t, "written while offline", got.Content)
}

func TestResolveConflictsIdenticalCopiesUntouched(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	ts := time.Now().UTC()
	m := mkMsg("same", ts, "identical")
	primary.put(m)
	secondary.put(m)

	c := New(primary, secondary, st)
	stats, err := c.ResolveConflicts(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, 0, primary.saveCalls)
	assert.Equal(t, 0, secondary.saveCalls)
}

func TestStartBackgroundStopsOnCancel(t *testing.T) {
	primary := newMemAdapter("primary")
	secondary := newMemAdapter("secondary")
	st := testStore(t)

	c := New(primary, secondary, st)
	ctx, cancel := context.WithCancel(context.Background())
	done := c.StartBackground(ctx, "u1", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		primary.mu.Lock()
		defer primary.mu.Unlock()
		return primary.loadCalls > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background loop did not exit after cancel")
	}

	primary.mu.Lock()
	after := primary.loadCalls
	primary.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	primary.mu.Lock()
	assert.Equal(t, after, primary.loadCalls)
	primary.mu.Unlock()
}
