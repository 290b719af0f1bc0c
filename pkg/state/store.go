package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"convosync/pkg/logger"
)

const stateFileName = "state.json"

// installState is the persisted form. LastSyncTS is unix nanoseconds; 0
// means never synced.
type installState struct {
	MigrationCompleted bool  `json:"migration_completed"`
	LastSyncTS         int64 `json:"last_sync_ts"`
}

// Store persists the installation-scoped engine state. The migration flag
// is a latch: it has a single false→true transition and no API to reset
// it, which is what makes Migrate idempotent across launches.
type Store struct {
	path string

	mu  sync.Mutex
	cur installState
}

// OpenStore loads (or initializes) the state file under dir. A malformed
// file is treated as fresh state with a warning rather than an error, so a
// corrupted write can never brick startup.
func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty state dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &Store{path: filepath.Join(dir, stateFileName)}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(b, &s.cur); err != nil {
		logger.Warn("state_file_malformed", "path", s.path, "error", err)
		s.cur = installState{}
	}
	return s, nil
}

// HasMigrated reports whether the one-time migration latch is set.
func (s *Store) HasMigrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.MigrationCompleted
}

// MarkMigrated sets the migration latch. The transition is one-way; calling
// it again is a no-op.
func (s *Store) MarkMigrated() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.MigrationCompleted {
		return nil
	}
	s.cur.MigrationCompleted = true
	return s.persistLocked()
}

// LastSync returns the persisted last sync time and whether one exists.
func (s *Store) LastSync() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.LastSyncTS == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, s.cur.LastSyncTS).UTC(), true
}

// SetLastSync persists the given time as the last successful sync.
func (s *Store) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.LastSyncTS = t.UTC().UnixNano()
	return s.persistLocked()
}

// persistLocked writes atomically: temp file in the same dir, then rename.
func (s *Store) persistLocked() error {
	b, err := json.Marshal(s.cur)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
