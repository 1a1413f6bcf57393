package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog implements Log in memory for unit tests and embedded use
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64

	// FailAppends forces Append to fail, letting tests verify that a
	// failed audit write fails the triggering mutation
	FailAppends error
}

// NewMemoryLog creates a new in-memory audit log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

// Append writes one entry. The Querier is ignored; memory mutators
// serialize through the log's own mutex.
func (l *MemoryLog) Append(ctx context.Context, _ Querier, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailAppends != nil {
		return l.FailAppends
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ID = l.nextID
	l.nextID++

	dup := *entry
	l.entries = append(l.entries, &dup)
	return nil
}

// Query returns entries matching the filter ordered by timestamp ascending
func (l *MemoryLog) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Entry
	for _, entry := range l.entries {
		if filter.NodeID != "" && entry.NodeID != filter.NodeID {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		dup := *entry
		matched = append(matched, &dup)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

// Len returns the number of stored entries
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
