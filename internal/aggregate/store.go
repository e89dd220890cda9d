// Package aggregate owns the mutable metric state shared by producers,
// the pull exposition and the push broadcast.
package aggregate

import (
	"strconv"
	"sync"
	"time"

	"github.com/tinytelemetry/beacon/internal/model"
)

// Snapshot is a point-in-time copy of the cumulative view.
// Each series is internally consistent; different series may be captured
// at slightly different instants.
type Snapshot struct {
	StartedAt time.Time
	TakenAt   time.Time

	CPU        *model.CPUSample // nil until the first CPU sample
	CPUTime    time.Time
	Memory     *model.MemorySample // nil until the first memory sample
	MemoryTime time.Time

	Requests  []CounterValue // http_requests_total
	Errors    []CounterValue // http_request_errors_total
	Durations []SummaryValue // http_request_duration_microseconds, unlabeled aggregate first
}

type runningMean struct {
	process float64
	system  float64
	n       float64
}

func (m *runningMean) add(process, system float64) (float64, float64) {
	m.process += process
	m.system += system
	m.n++
	return m.process / m.n, m.system / m.n
}

// Store aggregates samples from any number of concurrent producers.
type Store struct {
	startedAt time.Time
	now       func() time.Time

	requests  *CounterTable
	errors    *CounterTable
	durations *SummaryTable

	gaugeMu    sync.RWMutex
	cpu        *model.CPUSample
	cpuTime    time.Time
	cpuMean    runningMean
	memory     *model.MemorySample
	memoryTime time.Time
	memMean    runningMean

	rollingMu sync.Mutex
	rolling   *rolling
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		startedAt: time.Now(),
		now:       time.Now,
		requests:  NewCounterTable(),
		errors:    NewCounterTable(),
		durations: NewSummaryTable(),
		rolling:   newRolling(),
	}
}

// StartedAt returns the store creation time.
func (s *Store) StartedAt() time.Time { return s.startedAt }

// Record applies one sample. Invalid samples are ignored and reported as false.
func (s *Store) Record(sample model.Sample) bool {
	if !sample.Valid() {
		return false
	}
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	switch sample.Kind {
	case model.KindCPU:
		s.RecordCPU(ts, *sample.CPU)
	case model.KindMemory:
		s.RecordMemory(ts, *sample.Memory)
	case model.KindHTTPRequest:
		s.RecordHTTP(ts, *sample.Request)
	}
	return true
}

// RequestLabels returns the http_requests_total label set for req.
func RequestLabels(req model.RequestSample) model.LabelSet {
	return model.LabelSet{
		{Name: LabelMethod, Value: req.Method},
		{Name: LabelPath, Value: req.Path},
		{Name: LabelStatusCode, Value: strconv.Itoa(req.StatusCode)},
	}
}

// RouteLabels returns the method/path label set used by the error and duration families.
func RouteLabels(req model.RequestSample) model.LabelSet {
	return model.LabelSet{
		{Name: LabelMethod, Value: req.Method},
		{Name: LabelPath, Value: req.Path},
	}
}

// RecordHTTP records one completed request: a counter increment (success or
// error family) and a duration observation in microseconds, both per route
// and in the unlabeled aggregate series.
func (s *Store) RecordHTTP(ts time.Time, req model.RequestSample) {
	route := RouteLabels(req)
	if req.Failed {
		s.errors.Increment(route)
	} else {
		s.requests.Increment(RequestLabels(req))
	}

	micros := req.DurationMicros()
	s.durations.Observe(route, micros)
	s.durations.Observe(nil, micros)

	s.rollingMu.Lock()
	s.rolling.observeRequest(ts, req)
	s.rollingMu.Unlock()
}

// RecordCPU stores the latest CPU reading.
func (s *Store) RecordCPU(ts time.Time, cpu model.CPUSample) {
	s.gaugeMu.Lock()
	s.cpu = &cpu
	s.cpuTime = ts
	pm, sm := s.cpuMean.add(cpu.Process, cpu.System)
	s.gaugeMu.Unlock()

	s.rollingMu.Lock()
	s.rolling.cpu = &CPUReading{Time: ts, CPUSample: cpu, ProcessMean: pm, SystemMean: sm}
	s.rollingMu.Unlock()
}

// RecordMemory stores the latest memory reading.
func (s *Store) RecordMemory(ts time.Time, mem model.MemorySample) {
	s.gaugeMu.Lock()
	s.memory = &mem
	s.memoryTime = ts
	pm, sm := s.memMean.add(float64(mem.ProcessBytes), float64(mem.SystemBytes))
	s.gaugeMu.Unlock()

	s.rollingMu.Lock()
	s.rolling.mem = &MemoryReading{Time: ts, MemorySample: mem, ProcessMean: pm, SystemMean: sm}
	s.rollingMu.Unlock()
}

// Snapshot copies the cumulative view. It never mutates the store.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		StartedAt: s.startedAt,
		TakenAt:   s.now(),
	}

	s.gaugeMu.RLock()
	if s.cpu != nil {
		c := *s.cpu
		snap.CPU = &c
		snap.CPUTime = s.cpuTime
	}
	if s.memory != nil {
		m := *s.memory
		snap.Memory = &m
		snap.MemoryTime = s.memoryTime
	}
	s.gaugeMu.RUnlock()

	snap.Requests = s.requests.Values()
	snap.Errors = s.errors.Values()
	snap.Durations = s.durations.Values()
	return snap
}

// RequestCount returns the http_requests_total value for labels.
func (s *Store) RequestCount(labels model.LabelSet) uint64 { return s.requests.Value(labels) }

// ErrorCount returns the http_request_errors_total value for labels.
func (s *Store) ErrorCount(labels model.LabelSet) uint64 { return s.errors.Value(labels) }

// DurationCount returns the number of duration observations for labels.
// A nil label set addresses the unlabeled aggregate series.
func (s *Store) DurationCount(labels model.LabelSet) int { return s.durations.Count(labels) }

// SnapshotRolling copies the current interval without resetting it.
func (s *Store) SnapshotRolling() RollingSnapshot {
	s.rollingMu.Lock()
	defer s.rollingMu.Unlock()
	return s.rolling.snapshot()
}

// ResetRolling replaces the interval state with an empty one.
// The cumulative view is not affected.
func (s *Store) ResetRolling() {
	s.rollingMu.Lock()
	s.rolling = newRolling()
	s.rollingMu.Unlock()
}

// TakeRolling returns the current interval and starts a new one in a single
// critical section, so no sample lands between the copy and the reset.
func (s *Store) TakeRolling() RollingSnapshot {
	s.rollingMu.Lock()
	old := s.rolling
	s.rolling = newRolling()
	s.rollingMu.Unlock()
	return old.snapshot()
}
