package aggregate

import (
	"sort"
	"time"

	"github.com/tinytelemetry/beacon/internal/model"
)

// CPUReading is the latest CPU sample in an interval plus means since start.
type CPUReading struct {
	Time time.Time
	model.CPUSample
	ProcessMean float64
	SystemMean  float64
}

// MemoryReading is the latest memory sample in an interval plus means since start.
type MemoryReading struct {
	Time time.Time
	model.MemorySample
	ProcessMean float64
	SystemMean  float64
}

// HTTPAggregate summarizes the requests of one interval.
type HTTPAggregate struct {
	FirstRequest  time.Time
	LongestURL    string
	LongestMillis float64
	AverageMillis float64
	Total         uint64
}

// URLStats summarizes one URL within an interval.
type URLStats struct {
	URL           string
	Hits          uint64
	AverageMillis float64
	LongestMillis float64
}

// RollingSnapshot is the push-view state of one broadcast interval.
type RollingSnapshot struct {
	CPU    *CPUReading
	Memory *MemoryReading
	HTTP   *HTTPAggregate
	URLs   []URLStats // ordered by URL
}

// Empty reports whether nothing was recorded during the interval.
func (r RollingSnapshot) Empty() bool {
	return r.CPU == nil && r.Memory == nil && r.HTTP == nil
}

// rolling is the mutable per-interval accumulator. Guarded by Store.rollingMu.
type rolling struct {
	cpu  *CPUReading
	mem  *MemoryReading
	http HTTPAggregate
	urls map[string]*URLStats
}

func newRolling() *rolling {
	return &rolling{urls: make(map[string]*URLStats)}
}

func (r *rolling) observeRequest(ts time.Time, req model.RequestSample) {
	ms := req.DurationMillis()

	if r.http.Total == 0 {
		r.http = HTTPAggregate{
			FirstRequest:  ts,
			LongestURL:    req.URL,
			LongestMillis: ms,
			AverageMillis: ms,
			Total:         1,
		}
	} else {
		prev := float64(r.http.Total)
		r.http.Total++
		r.http.AverageMillis = (r.http.AverageMillis*prev + ms) / float64(r.http.Total)
		if ms > r.http.LongestMillis {
			r.http.LongestMillis = ms
			r.http.LongestURL = req.URL
		}
	}

	u, ok := r.urls[req.URL]
	if !ok {
		r.urls[req.URL] = &URLStats{URL: req.URL, Hits: 1, AverageMillis: ms, LongestMillis: ms}
		return
	}
	prev := float64(u.Hits)
	u.Hits++
	u.AverageMillis = (u.AverageMillis*prev + ms) / float64(u.Hits)
	if ms > u.LongestMillis {
		u.LongestMillis = ms
	}
}

func (r *rolling) snapshot() RollingSnapshot {
	var out RollingSnapshot
	if r.cpu != nil {
		c := *r.cpu
		out.CPU = &c
	}
	if r.mem != nil {
		m := *r.mem
		out.Memory = &m
	}
	if r.http.Total > 0 {
		h := r.http
		out.HTTP = &h
	}
	if len(r.urls) > 0 {
		out.URLs = make([]URLStats, 0, len(r.urls))
		for _, u := range r.urls {
			out.URLs = append(out.URLs, *u)
		}
		sort.Slice(out.URLs, func(i, j int) bool { return out.URLs[i].URL < out.URLs[j].URL })
	}
	return out
}
