package decision

import "sync"

const defaultHistoryCapacity = 20

// History bounded, ordered buffer of recent agent texts (oldest first)
type History struct {
	mu       sync.RWMutex
	capacity int
	entries  []string
}

// NewHistory creates a history keeping at most capacity entries
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		entries:  make([]string, 0, capacity),
	}
}

// Push appends text, evicting the oldest entry when full
func (h *History) Push(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, text)
}

// Latest returns the most recent entry, or "" when empty
func (h *History) Latest() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

// Last returns up to n most recent entries, oldest first
func (h *History) Last(n int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(h.entries)-start)
	copy(out, h.entries[start:])
	return out
}

// Len number of buffered entries
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Snapshot copy of all entries, oldest first
func (h *History) Snapshot() []string {
	return h.Last(h.capacity)
}
