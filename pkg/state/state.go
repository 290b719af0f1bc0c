// Package state owns the canonical on-disk runtime layout and the small
// persisted state the sync engine needs across launches: the one-way
// migration latch and the last successful sync timestamp. Both are keyed
// per installation, not per user.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the resolved runtime folder layout under the data path.
type Paths struct {
	// Store holds the secondary (pebble) database.
	Store string
	// State holds engine state artifacts (state.json, vault).
	State string
	// Legacy is where a pre-existing local message blob may live.
	Legacy string
}

// PathsVar is the process-wide resolved layout, populated by
// EnsureStateDirs during startup.
var PathsVar Paths

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided data path. It rejects symlinks and permissive modes, and
// verifies each directory is writable by the process.
func EnsureStateDirs(dataPath string) error {
	storePath := filepath.Join(dataPath, "store")
	statePath := filepath.Join(dataPath, "state")
	legacyPath := filepath.Join(dataPath, "legacy")

	for _, p := range []string{storePath, statePath, legacyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}
		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", p)
			}
		}
		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}

		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	PathsVar = Paths{Store: storePath, State: statePath, Legacy: legacyPath}
	return nil
}
