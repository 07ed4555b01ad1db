package sandbox

import (
	"context"

	"github.com/oscillatelabsllc/memoria/internal/objectstore"
)

// StoreMemory adapts an objectstore.Store to the MemoryAPI surface scripts
// see, hiding write/delete/version operations entirely.
type StoreMemory struct {
	store objectstore.Store
}

// NewStoreMemory wraps store as a read-only memory API.
func NewStoreMemory(store objectstore.Store) *StoreMemory {
	return &StoreMemory{store: store}
}

// Read returns a file's content, or found=false if it doesn't exist.
func (m *StoreMemory) Read(ctx context.Context, path string) (string, bool, error) {
	f, err := m.store.Read(ctx, path)
	if err != nil {
		return "", false, err
	}
	if f == nil {
		return "", false, nil
	}
	return f.Content, true, nil
}

// List recursively lists entries under path (empty path lists everything).
func (m *StoreMemory) List(ctx context.Context, path string) ([]Entry, error) {
	entries, err := m.store.List(ctx, path, true)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		out = append(out, Entry{
			Path:      e.Path,
			Size:      e.Size,
			UpdatedAt: e.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}
