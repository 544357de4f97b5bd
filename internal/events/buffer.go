package events

import (
	"context"
	"sync"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

// Buffer keeps the most recent events in memory. It backs the recent
// events endpoint when no journal database is configured.
type Buffer struct {
	mu      sync.RWMutex
	entries []*protocol.Event
	cap     int
}

// NewBuffer creates a buffer holding at most capacity events
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffer{
		entries: make([]*protocol.Event, 0, capacity),
		cap:     capacity,
	}
}

// Publish appends the event, dropping the oldest when full
func (b *Buffer) Publish(ctx context.Context, event *protocol.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.cap {
		// Shift everything left by 1, drop oldest
		copy(b.entries, b.entries[1:])
		b.entries[len(b.entries)-1] = event
	} else {
		b.entries = append(b.entries, event)
	}
	return nil
}

// Recent returns up to limit events, newest first, optionally filtered by type
func (b *Buffer) Recent(limit int, eventType protocol.EventType) []*protocol.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.entries) {
		limit = len(b.entries)
	}

	result := make([]*protocol.Event, 0, limit)
	for i := len(b.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if eventType != "" && b.entries[i].Type != eventType {
			continue
		}
		result = append(result, b.entries[i])
	}
	return result
}

// Len returns the number of buffered events
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
