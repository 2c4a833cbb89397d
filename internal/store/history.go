// Package store keeps the record of top-level page calls.
package store

import (
	"context"
	"sync"

	"github.com/xkilldash9x/pagehand/api/schemas"
)

// History records page calls. Implementations are safe for concurrent use.
type History interface {
	Record(ctx context.Context, entry schemas.HistoryEntry) error
	// Recent returns up to limit of the newest entries, oldest first.
	Recent(ctx context.Context, limit int) ([]schemas.HistoryEntry, error)
}

// Flusher is implemented by histories that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Memory is a bounded in-process History. Once full, the oldest entry is
// overwritten.
type Memory struct {
	mu      sync.Mutex
	entries []schemas.HistoryEntry
	next    int
	full    bool
}

// NewMemory returns a Memory holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory{entries: make([]schemas.HistoryEntry, capacity)}
}

func (m *Memory) Record(_ context.Context, entry schemas.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]schemas.HistoryEntry, error) {
	all := m.Entries()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Entries returns every retained entry, oldest first.
func (m *Memory) Entries() []schemas.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]schemas.HistoryEntry(nil), m.entries[:m.next]...)
	}
	out := make([]schemas.HistoryEntry, 0, len(m.entries))
	out = append(out, m.entries[m.next:]...)
	return append(out, m.entries[:m.next]...)
}
