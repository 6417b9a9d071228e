package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one captured log line, shaped for the monitor API.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Ring is a logrus hook that keeps the most recent entries in a circular
// buffer. Entries are deep-copied on capture so later mutation of logrus
// fields cannot change stored history.
type Ring struct {
	entries []Entry
	// Current write position (circular)
	writeIdx int
	capacity int
	// Current entry count (less than capacity when not full)
	count int
	mu    sync.RWMutex
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Levels returns the log levels this hook processes.
func (r *Ring) Levels() []logrus.Level {
	return logrus.AllLevels[:]
}

// Fire stores a copy of the entry, overwriting the oldest when full.
func (r *Ring) Fire(entry *logrus.Entry) error {
	copied := Entry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
	}
	if len(entry.Data) > 0 {
		copied.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				copied.Fields[k] = err.Error()
				continue
			}
			copied.Fields[k] = v
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.writeIdx] = copied
	r.writeIdx = (r.writeIdx + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
	return nil
}

// Latest returns up to n entries in chronological order, oldest first.
func (r *Ring) Latest(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 || n <= 0 {
		return []Entry{}
	}
	if n > r.count {
		n = r.count
	}

	ordered := r.orderedLocked()
	return ordered[len(ordered)-n:]
}

// All returns every stored entry in chronological order.
func (r *Ring) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedLocked()
}

// Size returns the current number of stored entries.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear removes all stored entries.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeIdx = 0
	r.count = 0
	for i := range r.entries {
		r.entries[i] = Entry{}
	}
}

func (r *Ring) orderedLocked() []Entry {
	result := make([]Entry, 0, r.count)
	if r.count < r.capacity {
		result = append(result, r.entries[:r.count]...)
		return result
	}
	for i := 0; i < r.capacity; i++ {
		idx := (r.writeIdx + i) % r.capacity
		result = append(result, r.entries[idx])
	}
	return result
}
