package aggregate

import (
	"sort"
	"sync"

	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/quantile"
)

type summaryEntry struct {
	labels model.LabelSet
	series *quantile.Series
}

// SummaryValue is a point-in-time copy of one summary series.
// Series is a private clone; callers may sort or query it freely.
type SummaryValue struct {
	Labels model.LabelSet
	Series *quantile.Series
}

// SummaryTable holds per-LabelSet observation series.
type SummaryTable struct {
	mu      sync.Mutex
	entries map[string]*summaryEntry
}

// NewSummaryTable returns an empty table.
func NewSummaryTable() *SummaryTable {
	return &SummaryTable{entries: make(map[string]*summaryEntry)}
}

// Observe records v into the series identified by labels.
func (t *SummaryTable) Observe(labels model.LabelSet, v float64) {
	key := labels.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &summaryEntry{labels: labels.Clone(), series: &quantile.Series{}}
		t.entries[key] = e
	}
	e.series.Observe(v)
}

// Count returns the number of observations in the series for labels.
func (t *SummaryTable) Count(labels model.LabelSet) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[labels.Key()]; ok {
		return e.series.Count()
	}
	return 0
}

// Values clones every series, ordered by label key.
func (t *SummaryTable) Values() []SummaryValue {
	t.mu.Lock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	values := make(map[string]SummaryValue, len(keys))
	for _, k := range keys {
		e := t.entries[k]
		values[k] = SummaryValue{Labels: e.labels, Series: e.series.Clone()}
	}
	t.mu.Unlock()

	sort.Strings(keys)
	out := make([]SummaryValue, len(keys))
	for i, k := range keys {
		out[i] = values[k]
	}
	return out
}
