package testutil

import "sync"

// SeqCounter is a thread-safe monotonic sequence counter for tests.
//
// Trace events in conformance scenarios carry sequence numbers so golden
// snapshots order deterministically. SeqCounter can be reset so the same
// scenario runs repeatedly with identical seq values.
type SeqCounter struct {
	mu  sync.Mutex
	seq int64
}

// NewSeqCounter creates a counter starting at 0. The first call to Next
// returns 1.
func NewSeqCounter() *SeqCounter {
	return &SeqCounter{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *SeqCounter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *SeqCounter) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the counter to 0. After Reset the next call to Next
// returns 1.
func (c *SeqCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
