package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persistence handles the disk I/O for the MemStore: one JSON file per
// collection in DataDir.
type Persistence struct {
	DataDir string
	logger  *slog.Logger
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler. logger may be nil.
func NewPersistence(dir string, logger *slog.Logger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistence{DataDir: dir, logger: logger}, nil
}

// SaveCollection writes a single collection to a JSON file atomically.
// An empty collection removes the file.
func (p *Persistence) SaveCollection(name string, docs map[string]json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := filepath.Join(p.DataDir, name+".json")
	if len(docs) == 0 {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			p.logger.Error("removing collection file", "collection", name, "error", err)
			return err
		}
		return nil
	}

	bytes, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temporary file first, then swap it in. A crash leaves
	// either the old file or the new one, never a torn one.
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0600); err != nil {
		p.logger.Error("writing collection", "collection", name, "error", err)
		return err
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		p.logger.Error("replacing collection file", "collection", name, "error", err)
		return fmt.Errorf("replacing %s: %w", filePath, err)
	}
	return nil
}

// LoadAll returns all collections found in the data directory. Unreadable
// files are skipped with a warning.
func (p *Persistence) LoadAll() (map[string]map[string]json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allData := make(map[string]map[string]json.RawMessage)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(file.Name(), ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			p.logger.Warn("skipping unreadable collection", "file", file.Name(), "error", err)
			continue
		}

		var docs map[string]json.RawMessage
		if err := json.Unmarshal(content, &docs); err != nil {
			p.logger.Warn("skipping corrupt collection", "file", file.Name(), "error", err)
			continue
		}
		allData[name] = docs
	}
	return allData, nil
}
