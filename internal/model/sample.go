package model

import "time"

// Kind identifies the category of a Sample.
type Kind uint8

const (
	KindCPU Kind = iota + 1
	KindMemory
	KindHTTPRequest
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindMemory:
		return "memory"
	case KindHTTPRequest:
		return "http"
	default:
		return "unknown"
	}
}

// CPUSample holds CPU load ratios in the range [0,1].
type CPUSample struct {
	Process float64
	System  float64
}

// MemorySample holds memory usage in bytes.
type MemorySample struct {
	ProcessBytes uint64 // resident set of this process
	SystemBytes  uint64 // used physical memory of the host
	VirtualBytes uint64 // virtual address space of this process
}

// RequestSample is the outcome of one correlated HTTP request.
type RequestSample struct {
	Method     string
	Path       string // label value: first path segment or route template
	URL        string // full request path, used for per-URL dashboard stats
	StatusCode int
	Failed     bool
	Duration   time.Duration
}

// DurationMicros returns the request duration in microseconds.
func (r RequestSample) DurationMicros() float64 {
	return float64(r.Duration) / float64(time.Microsecond)
}

// DurationMillis returns the request duration in milliseconds.
func (r RequestSample) DurationMillis() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// Sample is one observation travelling from a producer to the aggregate store.
// Exactly one payload pointer matching Kind is set.
type Sample struct {
	Kind      Kind
	Timestamp time.Time
	CPU       *CPUSample
	Memory    *MemorySample
	Request   *RequestSample
}

// NewCPUSample wraps a CPU reading taken at ts.
func NewCPUSample(ts time.Time, cpu CPUSample) Sample {
	return Sample{Kind: KindCPU, Timestamp: ts, CPU: &cpu}
}

// NewMemorySample wraps a memory reading taken at ts.
func NewMemorySample(ts time.Time, mem MemorySample) Sample {
	return Sample{Kind: KindMemory, Timestamp: ts, Memory: &mem}
}

// NewRequestSample wraps a completed request observed at ts.
func NewRequestSample(ts time.Time, req RequestSample) Sample {
	return Sample{Kind: KindHTTPRequest, Timestamp: ts, Request: &req}
}

// Valid reports whether the payload matches Kind.
func (s Sample) Valid() bool {
	switch s.Kind {
	case KindCPU:
		return s.CPU != nil
	case KindMemory:
		return s.Memory != nil
	case KindHTTPRequest:
		return s.Request != nil
	default:
		return false
	}
}

// SampleSink accepts samples from producers.
// Submit must not block; it reports false when the sample was dropped.
type SampleSink interface {
	Submit(Sample) bool
}
