// Package vault is the on-device secure credential store contract: get,
// set and delete by key. Adapters use it indirectly for connection
// credentials (completion API key, primary DSN); environment variables win
// over vault entries.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("vault: key not found")

// Vault is the minimal credential store contract.
type Vault interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Well-known credential keys.
const (
	KeyCompletionAPIKey = "completion-api-key"
	KeyPrimaryDSN       = "primary-dsn"
)

// FileVault stores credentials as a JSON map in a 0600 file under the
// state dir. It is the portable stand-in for a platform keychain.
type FileVault struct {
	path string

	mu      sync.Mutex
	entries map[string]string
}

// OpenFile loads (or initializes) a file vault at dir/credentials.json.
func OpenFile(dir string) (*FileVault, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty vault dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	v := &FileVault{path: filepath.Join(dir, "credentials.json"), entries: map[string]string{}}
	b, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, fmt.Errorf("read vault: %w", err)
	}
	if err := json.Unmarshal(b, &v.entries); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	return v, nil
}

func (v *FileVault) Get(key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (v *FileVault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[key] = value
	return v.persistLocked()
}

func (v *FileVault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[key]; !ok {
		return nil
	}
	delete(v.entries, key)
	return v.persistLocked()
}

func (v *FileVault) persistLocked() error {
	b, err := json.Marshal(v.entries)
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".vault-*")
	if err != nil {
		return fmt.Errorf("create temp vault file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close vault: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod vault: %w", err)
	}
	if err := os.Rename(tmpName, v.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}
