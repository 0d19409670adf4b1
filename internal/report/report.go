// Package report supplies the consumer-side types the Client and Listener
// Engines construct and hand to the Reporter. The Reporter itself (interval
// formatting and printing) is an external collaborator and out of scope;
// this package only defines the shared, mutex-protected aggregates the
// engine must maintain correctly (in particular, startTime assigned exactly
// once under lock).
package report

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"netthrpt/internal/ring"
)

// ConnectionReport is posted once a flow is accepted and its handshake has
// been applied (or rejected).
type ConnectionReport struct {
	JobID     uuid.UUID
	Local     string
	Peer      string
	Connected bool
	Reason    string
	At        time.Time
}

// JobReport is the per-thread job header posted to the Reporter when data
// reports are enabled.
type JobReport struct {
	JobID   uuid.UUID
	Ring    *ring.Ring
	OneShot bool // final totals only, no interval reports
}

// sharedAggregate is the embeddable mutex + once-assigned startTime used by
// both FullDuplexReport and GroupSumReport: startTime is assigned exactly
// once under the lock, by whichever flow arrives first.
type sharedAggregate struct {
	mu        sync.Mutex
	startTime time.Time
	members   int
}

// SetStartTimeOnce assigns startTime if it has not been assigned yet,
// returning the winning value either way. Safe for concurrent callers.
func (a *sharedAggregate) SetStartTimeOnce(t time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startTime.IsZero() {
		a.startTime = t
	}
	return a.startTime
}

// StartTime returns the currently assigned start time, the zero value if
// none has been set yet.
func (a *sharedAggregate) StartTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startTime
}

// Join increments the aggregate's member count; Leave decrements it and
// reports whether this was the last member (lifetime = join of all member
// flows, released by reference-count decrement on flow exit).
func (a *sharedAggregate) Join() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.members++
}

func (a *sharedAggregate) Leave() (last bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.members--
	return a.members <= 0
}

// FullDuplexReport is attached to a flow before either direction starts
// when the FullDuplex feature is set.
type FullDuplexReport struct {
	sharedAggregate
}

func NewFullDuplexReport() *FullDuplexReport { return &FullDuplexReport{} }

// GroupSumReport aggregates totals across the parallel streams of one
// logical test.
type GroupSumReport struct {
	sharedAggregate

	mu           sync.Mutex
	bytesTotal   int64
	packetsTotal int64
}

func NewGroupSumReport() *GroupSumReport { return &GroupSumReport{} }

// Add folds a flow's final totals into the group sum.
func (g *GroupSumReport) Add(bytes, packets int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bytesTotal += bytes
	g.packetsTotal += packets
}

func (g *GroupSumReport) Totals() (bytes, packets int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bytesTotal, g.packetsTotal
}

// NullConsumer drains a Ring without formatting or printing anything, so
// engine code and tests can run with no real CLI-facing Reporter attached.
func NullConsumer(r *ring.Ring) {
	for {
		if _, ok := r.Pop(); !ok {
			return
		}
	}
}
