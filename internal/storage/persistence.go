package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPath returns the session file location: INOK_SESSION_FILE if set,
// else $XDG_CONFIG_HOME/inok/session.json, else ~/.config/inok/session.json.
func DefaultPath() string {
	if envPath := os.Getenv("INOK_SESSION_FILE"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "inok-session.json")
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "inok", "session.json")
}

// FileStore keeps all keys in one JSON file. Every write rewrites the file
// atomically, so a crash leaves either the old or the new session, never a
// torn one. The file is owner-only (0600) since it holds a bearer token.
type FileStore struct {
	path   string
	sealer Sealer
	mu     sync.Mutex // Protects concurrent writes to the file
}

// NewFileStore opens (or prepares) the session file at path. sealer may be
// nil to store values in plain text.
func NewFileStore(path string, sealer Sealer) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("storage: session file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("storage: creating session directory: %w", err)
	}
	return &FileStore{path: path, sealer: sealer}, nil
}

// Path returns the session file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return "", err
	}
	val, ok := data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	plain, err := unseal(f.sealer, val)
	if err != nil {
		return "", fmt.Errorf("storage: opening %s: %w", key, err)
	}
	return plain, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	sealed, err := seal(f.sealer, value)
	if err != nil {
		return fmt.Errorf("storage: sealing %s: %w", key, err)
	}
	data[key] = sealed
	return f.save(data)
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	if len(data) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: removing session file: %w", err)
		}
		return nil
	}
	return f.save(data)
}

// load reads the file. A missing file is an empty session.
// It MUST be called while holding f.mu.
func (f *FileStore) load() (map[string]string, error) {
	data := make(map[string]string)

	content, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s: %w", f.path, err)
	}
	if len(content) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("storage: parsing %s: %w", f.path, err)
	}
	return data, nil
}

// save writes data through a temporary file and an atomic rename.
// It MUST be called while holding f.mu.
func (f *FileStore) save(data map[string]string) error {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	bytes = append(bytes, '\n')

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0600); err != nil {
		return fmt.Errorf("storage: writing %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("storage: replacing %s: %w", f.path, err)
	}
	return nil
}
