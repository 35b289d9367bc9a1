package quota

import "sync"

// Counter tracks how many counted interactions a user has made. It is a soft,
// advisory store: not transactional and not shared between processes.
type Counter interface {
	Count(userID string) int
	Increment(userID string) int
	Reset(userID string)
}

// MemoryCounter is a process-local Counter guarded by a mutex.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCounter returns an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

func (m *MemoryCounter) Count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID]
}

func (m *MemoryCounter) Increment(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[userID]++
	return m.counts[userID]
}

func (m *MemoryCounter) Reset(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, userID)
}
