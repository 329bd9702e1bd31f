// Package state persists per-stream replication bookmarks between syncs.
//
// A bookmark is the most recently observed replication-key value for a
// stream. The replication engine reads it once at the start of a sync and
// never writes it; the orchestrator advances it after a fully successful
// sync.
package state

import (
	"context"
	"sync"
	"time"
)

// Bookmark is the persisted replication state for one stream.
type Bookmark struct {
	Stream    string
	Watermark time.Time
	SyncedAt  time.Time
}

// Store owns bookmark persistence.
type Store interface {
	// Get returns the bookmark for a stream, or nil when none exists.
	Get(ctx context.Context, stream string) (*Bookmark, error)

	// Set records the bookmark for a stream, replacing any prior value.
	Set(ctx context.Context, bookmark *Bookmark) error

	// List returns all stored bookmarks.
	List(ctx context.Context) ([]*Bookmark, error)

	// Close releases the store's resources.
	Close() error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is an in-process Store for tests and single-run CLI syncs.
type MemoryStore struct {
	mu        sync.RWMutex
	bookmarks map[string]*Bookmark
}

// NewMemoryStore creates an empty in-memory bookmark store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookmarks: make(map[string]*Bookmark),
	}
}

func (s *MemoryStore) Get(ctx context.Context, stream string) (*Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookmarks[stream]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (s *MemoryStore) Set(ctx context.Context, bookmark *Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *bookmark
	if copied.SyncedAt.IsZero() {
		copied.SyncedAt = time.Now().UTC()
	}
	s.bookmarks[bookmark.Stream] = &copied
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Bookmark, 0, len(s.bookmarks))
	for _, b := range s.bookmarks {
		copied := *b
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
