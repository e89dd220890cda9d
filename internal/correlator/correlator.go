// Package correlator matches the start and completion of the same logical
// request to compute its duration.
package correlator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/tinytelemetry/beacon/internal/model"
)

// ID is a correlation key assigned once when a request is dispatched and
// carried to its completion.
type ID uint64

// Correlator records in-flight requests in a bounded buffer.
//
// When the buffer is full the oldest unmatched entry is evicted to make room;
// requests that never complete (aborted connections) therefore age out
// instead of growing memory without bound.
type Correlator struct {
	mu       sync.Mutex
	inflight *simplelru.LRU[ID, time.Time]
	capacity int

	nextID  atomic.Uint64
	evicted atomic.Uint64
	misses  atomic.Uint64
}

// New creates a correlator holding at most capacity in-flight entries.
// A non-positive capacity uses model.DefaultCorrelatorCapacity.
func New(capacity int) *Correlator {
	if capacity <= 0 {
		capacity = model.DefaultCorrelatorCapacity
	}
	// Only fails for a non-positive size.
	inflight, _ := simplelru.NewLRU[ID, time.Time](capacity, nil)
	return &Correlator{
		inflight: inflight,
		capacity: capacity,
	}
}

// NextID returns a fresh correlation key.
func (c *Correlator) NextID() ID {
	return ID(c.nextID.Add(1))
}

// Begin records that request id started at the given time.
// Entries are only ever read with Peek, so LRU order equals insertion order
// and a full buffer evicts the oldest begun request.
func (c *Correlator) Begin(id ID, at time.Time) {
	c.mu.Lock()
	evicted := c.inflight.Add(id, at)
	c.mu.Unlock()

	if evicted {
		c.evicted.Add(1)
	}
}

// Complete consumes the entry for id and returns the elapsed time since Begin.
// It returns false when id was never begun, was already completed, or was
// evicted; the caller must not emit a sample in that case.
func (c *Correlator) Complete(id ID, at time.Time) (time.Duration, bool) {
	c.mu.Lock()
	start, ok := c.inflight.Peek(id)
	if ok {
		c.inflight.Remove(id)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return 0, false
	}
	d := at.Sub(start)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len returns the number of in-flight entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight.Len()
}

// Capacity returns the maximum number of in-flight entries.
func (c *Correlator) Capacity() int { return c.capacity }

// Evicted returns how many entries were dropped to respect the capacity.
func (c *Correlator) Evicted() uint64 { return c.evicted.Load() }

// Misses returns how many completions found no matching entry.
func (c *Correlator) Misses() uint64 { return c.misses.Load() }
