// ABOUTME: Durable session identity for widget clients
// ABOUTME: Pluggable storage so a host app can supply its own persistence

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionStorage persists the widget's session identifier across
// restarts, so a returning visitor resumes their conversation instead of
// starting a new one.
type SessionStorage interface {
	// Load returns the stored session ID for a merchant, or "" when none
	// is stored.
	Load(merchantID string) (string, error)
	// Save stores the session ID for a merchant.
	Save(merchantID, sessionID string) error
	// Clear removes the stored session ID for a merchant.
	Clear(merchantID string) error
}

// storageKey builds the per-merchant storage key.
func storageKey(merchantID string) string {
	return fmt.Sprintf("souk_session_%s", merchantID)
}

// MemoryStorage keeps session IDs in memory. Nothing survives a restart;
// useful for tests and throwaway sessions.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Load(merchantID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[storageKey(merchantID)], nil
}

func (m *MemoryStorage) Save(merchantID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[storageKey(merchantID)] = sessionID
	return nil
}

func (m *MemoryStorage) Clear(merchantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, storageKey(merchantID))
	return nil
}

// FileStorage keeps one file per merchant under a directory, which is
// how a CLI or desktop host survives restarts.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted at dir, creating it if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(merchantID string) string {
	return filepath.Join(f.dir, storageKey(merchantID))
}

func (f *FileStorage) Load(merchantID string) (string, error) {
	data, err := os.ReadFile(f.path(merchantID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileStorage) Save(merchantID, sessionID string) error {
	if err := os.WriteFile(f.path(merchantID), []byte(sessionID), 0o644); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

func (f *FileStorage) Clear(merchantID string) error {
	err := os.Remove(f.path(merchantID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
