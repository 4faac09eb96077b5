package engine

import (
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is a thread-safe in-memory Store. With a Persistence attached,
// every write saves the touched collection in the background.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [collection][id]document
	data      map[string]map[string]json.RawMessage
	persister *Persistence
	wg        sync.WaitGroup

	// version counts writes per collection; saved is the newest version on
	// disk. Background saves never replace a newer snapshot with an older one.
	version map[string]uint64
	saveMu  sync.Mutex
	saved   map[string]uint64
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and a persister, both optional.
func NewMemStore(initialData map[string]map[string]json.RawMessage, p *Persistence) *MemStore {
	if initialData == nil {
		initialData = make(map[string]map[string]json.RawMessage)
	}
	return &MemStore{
		data:      initialData,
		persister: p,
		version:   make(map[string]uint64),
		saved:     make(map[string]uint64),
	}
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

func (m *MemStore) Get(collection, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs, ok := m.data[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (m *MemStore) Put(collection, id string, doc json.RawMessage) error {
	m.mu.Lock()
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]json.RawMessage)
	}
	m.data[collection][id] = append(json.RawMessage(nil), doc...)

	m.version[collection]++
	version := m.version[collection]
	snapshot := m.copyCollection(collection)
	m.mu.Unlock()

	m.persist(collection, version, snapshot)
	return nil
}

func (m *MemStore) Delete(collection, id string) error {
	m.mu.Lock()
	docs, ok := m.data[collection]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if _, ok := docs[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(docs, id)

	m.version[collection]++
	version := m.version[collection]
	snapshot := m.copyCollection(collection)
	m.mu.Unlock()

	m.persist(collection, version, snapshot)
	return nil
}

// persist saves a collection snapshot in the background.
func (m *MemStore) persist(collection string, version uint64, snapshot map[string]json.RawMessage) {
	if m.persister == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.saveMu.Lock()
		defer m.saveMu.Unlock()
		if version <= m.saved[collection] {
			return
		}
		if err := m.persister.SaveCollection(collection, snapshot); err != nil {
			m.persister.logger.Error("failed to save collection", "collection", collection, "error", err)
			return
		}
		m.saved[collection] = version
	}()
}

// copyCollection creates a copy of a collection's documents.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyCollection(collection string) map[string]json.RawMessage {
	original, ok := m.data[collection]
	if !ok {
		return nil
	}
	out := make(map[string]json.RawMessage, len(original))
	for id, doc := range original {
		out[id] = doc
	}
	return out
}

func (m *MemStore) Collections() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []string
	for name, docs := range m.data {
		if len(docs) > 0 {
			list = append(list, name)
		}
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemStore) Dump(collection string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.data[collection]; !ok {
		return nil, ErrCollectionNotFound
	}
	return m.copyCollection(collection), nil
}

func (m *MemStore) Collection(name string) *Collection {
	return &Collection{store: m, name: name}
}
