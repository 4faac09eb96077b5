package engine

import "fmt"

// Migrate copies every document of src into dst. It backs up a running
// backend's data directory or seeds a fresh one from a snapshot.
func Migrate(src, dst Store) error {
	collections, err := src.Collections()
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		docs, err := src.Dump(name)
		if err != nil {
			return fmt.Errorf("failed to dump collection %s: %w", name, err)
		}
		for id, doc := range docs {
			if err := dst.Put(name, id, doc); err != nil {
				return fmt.Errorf("failed to copy %s/%s: %w", name, id, err)
			}
		}
	}
	return nil
}
