// Package broadcast pushes rolling metric deltas to live subscribers on a
// fixed interval.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrSubscriberClosed is returned by Send after the subscriber went away.
	ErrSubscriberClosed = errors.New("broadcast: subscriber closed")
	// ErrSubscriberSlow is returned by Send when the subscriber cannot keep up.
	ErrSubscriberSlow = errors.New("broadcast: subscriber too slow")
)

// Subscriber is a live push connection.
type Subscriber interface {
	ID() string
	// Send delivers one message. It must not block for longer than ctx allows.
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Registry is the set of live subscribers keyed by ID.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]Subscriber)}
}

// Add registers sub, replacing any subscriber with the same ID.
func (r *Registry) Add(sub Subscriber) {
	r.mu.Lock()
	r.subs[sub.ID()] = sub
	r.mu.Unlock()
}

// Remove unregisters sub and reports whether it was present.
func (r *Registry) Remove(sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.subs[sub.ID()]
	if !ok || cur != sub {
		return false
	}
	delete(r.subs, sub.ID())
	return true
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Snapshot returns the live subscribers ordered by ID.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	out := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ForEach visits a snapshot of the live subscribers. fn may add or remove
// subscribers.
func (r *Registry) ForEach(fn func(Subscriber)) {
	for _, s := range r.Snapshot() {
		fn(s)
	}
}
