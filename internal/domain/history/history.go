// Package history keeps a bounded, in-order window of risk snapshots.
package history

import (
	"sync"

	"github.com/okian/proctor/internal/domain/model"
)

const defaultCapacity = 50

// Ring is a fixed-capacity FIFO of snapshots. When full, appending evicts the
// oldest entry. Stored snapshots are never modified.
type Ring struct {
	mu    sync.RWMutex
	buf   []model.RiskSnapshot
	head  int // index of the oldest entry
	size  int
	total uint64
}

// NewRing creates a ring. Non-positive capacities fall back to the default.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Ring{buf: make([]model.RiskSnapshot, capacity)}
}

// Append adds a snapshot, evicting the oldest one when the ring is full.
func (r *Ring) Append(s model.RiskSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

// Snapshot returns all retained entries, oldest first.
func (r *Ring) Snapshot() []model.RiskSnapshot {
	return r.Last(-1)
}

// Last returns the n most recent entries, oldest first. A negative n returns
// everything retained.
func (r *Ring) Last(n int) []model.RiskSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n < 0 || n > r.size {
		n = r.size
	}
	out := make([]model.RiskSnapshot, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Latest returns the newest entry.
func (r *Ring) Latest() (model.RiskSnapshot, bool) {
	s := r.Last(1)
	if len(s) == 0 {
		return model.RiskSnapshot{}, false
	}
	return s[0], true
}

// Len returns the number of retained entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Total returns how many snapshots were ever appended, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
