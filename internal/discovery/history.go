package discovery

import (
	"sync"
	"time"
)

// DefaultHistorySize is how many recent payloads are kept per topic.
const DefaultHistorySize = 20

// HistoryEntry is one payload observed on a topic.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring[T any] struct {
	mu       sync.RWMutex
	entries  []T
	capacity int
	head     int // index where the next write goes once full
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{entries: make([]T, 0, capacity), capacity: capacity}
}

func (r *ring[T]) push(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
		return
	}
	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.capacity
}

// all returns every entry, oldest first.
func (r *ring[T]) all() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.entries))
	if len(r.entries) < r.capacity {
		copy(out, r.entries)
		return out
	}
	n := copy(out, r.entries[r.head:])
	copy(out[n:], r.entries[:r.head])
	return out
}

func (r *ring[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
