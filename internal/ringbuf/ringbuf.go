// Package ringbuf provides bounded, time-ordered sample buffers for market
// data, one per (symbol, data kind). Capacity is derived from the largest
// lookback any live variant requires, never fixed up front.
package ringbuf

import (
	"errors"
	"sync"
	"time"

	"signal-systemv1/internal/model"
)

// ErrBadWindow is returned for a window request with t1 < t2 or t2 < 0.
var ErrBadWindow = errors.New("ringbuf: window requires t1 >= t2 >= 0")

// Ring is a bounded deque of samples kept in timestamp order. Appends evict
// the oldest sample on overflow (FIFO). Safe for concurrent use; in practice
// a single symbol worker writes while readers take window snapshots.
type Ring struct {
	mu    sync.RWMutex
	buf   []model.Sample
	head  int // index of the oldest sample
	count int

	overflow  uint64
	lastTouch time.Time
}

// New creates a ring with the given capacity. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Sample, capacity)}
}

// at returns the i-th sample in time order (0 = oldest). Caller holds mu.
func (r *Ring) at(i int) *model.Sample {
	return &r.buf[(r.head+i)%len(r.buf)]
}

// Append inserts a sample preserving timestamp order. The common case is a
// monotonic append at the tail; a late sample is shifted into its sorted
// position. When full, the oldest sample is evicted first and Append
// reports the eviction.
func (r *Ring) Append(s model.Sample) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.overflow++
		evicted = true
	}

	// Find the insertion point scanning back from the tail.
	pos := r.count
	for pos > 0 && r.at(pos-1).TS.After(s.TS) {
		pos--
	}
	for i := r.count; i > pos; i-- {
		*r.at(i) = *r.at(i - 1)
	}
	*r.at(pos) = s
	r.count++
	r.lastTouch = time.Now()
	return evicted
}

// Window returns a snapshot of all samples with timestamp in [now-t1, now-t2],
// oldest first. The returned slice is a copy: restartable, finite, and immune
// to later appends. Requires t1 >= t2 >= 0.
func (r *Ring) Window(t1, t2 time.Duration, now time.Time) ([]model.Sample, error) {
	if t1 < t2 || t2 < 0 {
		return nil, ErrBadWindow
	}
	lo := now.Add(-t1)
	hi := now.Add(-t2)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Sample, 0, r.count)
	for i := 0; i < r.count; i++ {
		s := r.at(i)
		if s.TS.Before(lo) {
			continue
		}
		if s.TS.After(hi) {
			break
		}
		out = append(out, *s)
	}
	return out, nil
}

// Resize reallocates the ring to newCapacity, preserving the most recent
// min(count, newCapacity) samples. The oldest samples are the ones dropped.
func (r *Ring) Resize(newCapacity int) {
	if newCapacity < 1 {
		newCapacity = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if newCapacity == len(r.buf) {
		return
	}
	keep := r.count
	if keep > newCapacity {
		keep = newCapacity
	}
	fresh := make([]model.Sample, newCapacity)
	for i := 0; i < keep; i++ {
		fresh[i] = *r.at(r.count - keep + i)
	}
	r.buf = fresh
	r.head = 0
	r.count = keep
}

// Len returns the current number of samples.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the current capacity.
func (r *Ring) Cap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// Overflow returns the total number of samples evicted due to a full buffer.
func (r *Ring) Overflow() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overflow
}

// LastTouched returns the wall-clock time of the last append.
func (r *Ring) LastTouched() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTouch
}
