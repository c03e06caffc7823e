package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel, oldest
// evicted first. Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	head    int // index of the oldest entry once the ring is full
	limit   int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &ReplayBuffer{
		entries: make([]replayEntry, 0, capacity),
		limit:   capacity,
	}
}

// Push records an envelope. Envelopes are immutable once built, so the
// slice is stored without copying.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	e := replayEntry{Seq: seq, Data: data}
	if len(rb.entries) < rb.limit {
		rb.entries = append(rb.entries, e)
		return
	}
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % rb.limit
}

// Range returns the entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	n := len(rb.entries)
	for i := 0; i < n; i++ {
		e := rb.entries[(rb.head+i)%n]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}
