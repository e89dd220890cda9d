package aggregate

import (
	"sort"
	"sync"

	"github.com/tinytelemetry/beacon/internal/model"
)

type counterEntry struct {
	labels model.LabelSet
	count  uint64
}

// CounterValue is a point-in-time copy of one counter series.
type CounterValue struct {
	Labels model.LabelSet
	Count  uint64
}

// CounterTable holds monotonic per-LabelSet counters.
type CounterTable struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
}

// NewCounterTable returns an empty table.
func NewCounterTable() *CounterTable {
	return &CounterTable{entries: make(map[string]*counterEntry)}
}

// Increment adds one to the series identified by labels.
func (t *CounterTable) Increment(labels model.LabelSet) {
	t.Add(labels, 1)
}

// Add adds n to the series identified by labels.
func (t *CounterTable) Add(labels model.LabelSet, n uint64) {
	key := labels.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &counterEntry{labels: labels.Clone()}
		t.entries[key] = e
	}
	e.count += n
}

// Value returns the current count for labels, or 0 if the series does not exist.
func (t *CounterTable) Value(labels model.LabelSet) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[labels.Key()]; ok {
		return e.count
	}
	return 0
}

// Len returns the number of series.
func (t *CounterTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Values copies every series, ordered by label key.
func (t *CounterTable) Values() []CounterValue {
	t.mu.Lock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	values := make(map[string]CounterValue, len(keys))
	for _, k := range keys {
		e := t.entries[k]
		values[k] = CounterValue{Labels: e.labels, Count: e.count}
	}
	t.mu.Unlock()

	sort.Strings(keys)
	out := make([]CounterValue, len(keys))
	for i, k := range keys {
		out[i] = values[k]
	}
	return out
}

// ForEach visits a stable copy of every series without holding the lock,
// so fn may call back into the table.
func (t *CounterTable) ForEach(fn func(labels model.LabelSet, count uint64)) {
	for _, v := range t.Values() {
		fn(v.Labels, v.Count)
	}
}
