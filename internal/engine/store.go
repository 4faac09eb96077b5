// Package engine is the document store behind the reference backend. Records
// are JSON documents grouped in named collections (identities, agents, ...)
// and keyed by ID.
package engine

import (
	"encoding/json"
	"errors"
)

var (
	// ErrCollectionNotFound is returned when a collection holds no records.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrNotFound is returned when a record does not exist in a collection.
	ErrNotFound = errors.New("record not found")
)

// Store is the contract of the document store.
type Store interface {
	// Get retrieves one document.
	Get(collection, id string) (json.RawMessage, error)
	// Put creates or replaces one document.
	Put(collection, id string, doc json.RawMessage) error
	// Delete removes a document. Deleting a missing document is ErrNotFound.
	Delete(collection, id string) error

	// Collections returns the names of all non-empty collections.
	Collections() ([]string, error)
	// Dump returns a copy of every document of a collection, keyed by ID.
	Dump(collection string) (map[string]json.RawMessage, error)

	// Collection pins a collection name.
	Collection(name string) *Collection
}

// Collection is a Store scoped to one collection with typed helpers.
type Collection struct {
	store Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Load decodes the document id into out.
func (c *Collection) Load(id string, out any) error {
	raw, err := c.store.Get(c.name, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Save encodes v and stores it under id.
func (c *Collection) Save(id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Put(c.name, id, raw)
}

// Delete removes the document id.
func (c *Collection) Delete(id string) error {
	return c.store.Delete(c.name, id)
}

// All returns every document of the collection. A missing collection is
// empty, not an error.
func (c *Collection) All() (map[string]json.RawMessage, error) {
	docs, err := c.store.Dump(c.name)
	if errors.Is(err, ErrCollectionNotFound) {
		return map[string]json.RawMessage{}, nil
	}
	return docs, err
}
