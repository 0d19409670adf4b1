// Package ring implements the Packet Record Ring: a single-producer,
// single-consumer queue of per-packet records handed from a traffic thread
// to the Reporter.
package ring

import (
	"sync"

	"netthrpt/internal/record"
)

// defaultCapacity bounds the ring so a stalled consumer applies backpressure
// to the producer rather than growing without limit; enqueue must stay
// bounded-latency, not unbounded.
const defaultCapacity = 4096

// Ring is a bounded FIFO of records, mutex+cond guarded the way the rest of
// this codebase's shared state is (see internal/barrier, internal/flow);
// no lock-free queue library appears anywhere in the retrieved corpus.
type Ring struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []record.Record
	head     int
	size     int
	closed   bool
}

// New creates a ring with room for capacity records; capacity <= 0 selects
// defaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	r := &Ring{buf: make([]record.Record, capacity)}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Push enqueues a record, blocking only if the ring is momentarily full
// (bounded small latency, not an unbounded block: a production consumer
// drains every reporting interval so this should not be reached in
// practice).
func (r *Ring) Push(rec record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.size == len(r.buf) && !r.closed {
		r.notFull.Wait()
	}
	if r.closed {
		return
	}
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = rec
	r.size++
	r.notEmpty.Signal()
}

// Pop blocks until a record is available or the ring is closed and
// drained, returning ok=false in the latter case.
func (r *Ring) Pop() (rec record.Record, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.size == 0 && !r.closed {
		r.notEmpty.Wait()
	}
	if r.size == 0 {
		return record.Record{}, false
	}
	rec = r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	r.notFull.Signal()
	return rec, true
}

// TryPop returns immediately with ok=false if no record is queued.
func (r *Ring) TryPop() (rec record.Record, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return record.Record{}, false
	}
	rec = r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	r.notFull.Signal()
	return rec, true
}

// Close marks the ring as finished; further Push calls are no-ops and Pop
// drains remaining records before returning ok=false.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}
