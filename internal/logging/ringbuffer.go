package logging

import (
	"os"
	"sync"
)

// RingBuffer retains the most recent log output in memory so it can be
// dumped when something goes wrong. Writes are kept whole and evicted
// oldest-first once the byte budget is exceeded, so a dump never starts
// mid log record.
type RingBuffer struct {
	mu     sync.Mutex
	budget int
	used   int
	writes [][]byte // oldest first
}

// NewRingBuffer creates a buffer retaining up to budget bytes.
func NewRingBuffer(budget int) *RingBuffer {
	if budget <= 0 {
		budget = 4 * 1024 * 1024
	}
	return &RingBuffer{budget: budget}
}

// Write implements io.Writer. The handler above us emits one record per
// call, so each write is retained or evicted as a unit.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rec := make([]byte, len(p))
	copy(rec, p)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rec) >= rb.budget {
		// A single record larger than the whole budget: keep its tail.
		rb.writes = [][]byte{rec[len(rec)-rb.budget:]}
		rb.used = rb.budget
		return len(p), nil
	}

	rb.writes = append(rb.writes, rec)
	rb.used += len(rec)
	evict := 0
	for rb.used > rb.budget {
		rb.used -= len(rb.writes[evict])
		evict++
	}
	if evict > 0 {
		rb.writes = rb.writes[evict:]
	}
	return len(p), nil
}

// Bytes returns the retained output, oldest record first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, 0, rb.used)
	for _, rec := range rb.writes {
		out = append(out, rec...)
	}
	return out
}

// Len returns how many bytes are currently retained.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used
}

// DumpToFile writes the retained output to a file.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
