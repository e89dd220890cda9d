// Package quantile implements an append-only observation series with
// nearest-rank quantile lookup.
//
// The series keeps every observation rather than a fixed-size sketch, so
// lookups are exact at the cost of memory that grows with the number of
// observations. Sorting happens lazily on read.
package quantile

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrInvalidQuantile is returned for a quantile outside (0,1].
	ErrInvalidQuantile = errors.New("quantile: q must be in (0,1]")
	// ErrNoObservations is returned when a quantile is requested from an empty series.
	ErrNoObservations = errors.New("quantile: no observations")
)

// Series accumulates observations in insertion order.
// A Series is not safe for concurrent use; callers serialize access.
type Series struct {
	observations []float64
	total        float64
	sorted       bool
}

// Observe appends v.
func (s *Series) Observe(v float64) {
	s.observations = append(s.observations, v)
	s.total += v
	s.sorted = false
}

// Count returns the number of observations.
func (s *Series) Count() int { return len(s.observations) }

// Sum returns the running total of all observations.
func (s *Series) Sum() float64 { return s.total }

// Clone returns an independent copy suitable for reading outside a lock.
func (s *Series) Clone() *Series {
	obs := make([]float64, len(s.observations))
	copy(obs, s.observations)
	return &Series{observations: obs, total: s.total, sorted: s.sorted}
}

// Quantile returns the q-quantile of the recorded observations.
//
// With n observations sorted ascending and pos = n*q:
//   - n == 1 yields the single value;
//   - an integral pos below 2 yields the smallest value;
//   - an integral pos equal to n yields the largest value;
//   - any other integral pos yields the mean of obs[pos-1] and obs[pos];
//   - a fractional pos yields obs[ceil(pos)-1].
func (s *Series) Quantile(q float64) (float64, error) {
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return 0, ErrInvalidQuantile
	}
	n := len(s.observations)
	if n == 0 {
		return 0, ErrNoObservations
	}
	if n == 1 {
		return s.observations[0], nil
	}
	s.sort()

	pos := float64(n) * q
	if pos == math.Trunc(pos) {
		p := int(pos)
		switch {
		case p < 2:
			return s.observations[0], nil
		case p == n:
			return s.observations[n-1], nil
		}
		return (s.observations[p-1] + s.observations[p]) / 2.0, nil
	}
	return s.observations[int(math.Ceil(pos))-1], nil
}

// Quantiles evaluates each q in qs, in order.
func (s *Series) Quantiles(qs []float64) ([]float64, error) {
	out := make([]float64, len(qs))
	for i, q := range qs {
		v, err := s.Quantile(q)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Series) sort() {
	if s.sorted {
		return
	}
	sort.Float64s(s.observations)
	s.sorted = true
}

// ValidateQuantiles checks that every q lies in (0,1].
func ValidateQuantiles(qs []float64) error {
	for _, q := range qs {
		if math.IsNaN(q) || q <= 0 || q > 1 {
			return ErrInvalidQuantile
		}
	}
	return nil
}
