package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/beacon/internal/model"
)

var (
	// ErrMalformedSample is returned for lines that are not a JSON object.
	ErrMalformedSample = errors.New("ingest: malformed sample")
	// ErrUnknownKind is returned when the kind field is missing or unsupported.
	ErrUnknownKind = errors.New("ingest: unknown sample kind")
)

// wireSample is the JSON feed format. Only the fields of the named kind are read.
type wireSample struct {
	Kind         string    `json:"kind"`
	Time         time.Time `json:"time"`
	TimeUnixNano int64     `json:"time_unix_nano"`

	// cpu
	Process *float64 `json:"process"`
	System  *float64 `json:"system"`

	// memory
	ProcessBytes uint64 `json:"process_bytes"`
	SystemBytes  uint64 `json:"system_bytes"`
	VirtualBytes uint64 `json:"virtual_bytes"`

	// http
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	URL        string  `json:"url"`
	StatusCode int     `json:"status_code"`
	Failed     bool    `json:"failed"`
	DurationUS float64 `json:"duration_us"`
}

// DecodeSample parses one line of the JSON sample feed:
//
//	{"kind":"cpu","process":0.12,"system":0.40}
//	{"kind":"memory","process_bytes":1048576,"system_bytes":8589934592}
//	{"kind":"http","method":"GET","url":"/posts/1","status_code":200,"duration_us":1520}
//
// The timestamp comes from "time" (RFC 3339) or "time_unix_nano"; when both
// are absent the sample carries a zero timestamp and the store stamps it.
func DecodeSample(line []byte) (model.Sample, error) {
	var w wireSample
	if err := json.Unmarshal(line, &w); err != nil {
		return model.Sample{}, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}

	ts := w.Time
	if ts.IsZero() && w.TimeUnixNano > 0 {
		ts = time.Unix(0, w.TimeUnixNano)
	}

	switch strings.ToLower(strings.TrimSpace(w.Kind)) {
	case "cpu":
		if w.Process == nil && w.System == nil {
			return model.Sample{}, fmt.Errorf("%w: cpu sample without process or system", ErrMalformedSample)
		}
		var cpu model.CPUSample
		if w.Process != nil {
			cpu.Process = *w.Process
		}
		if w.System != nil {
			cpu.System = *w.System
		}
		return model.NewCPUSample(ts, cpu), nil

	case "memory", "mem":
		return model.NewMemorySample(ts, model.MemorySample{
			ProcessBytes: w.ProcessBytes,
			SystemBytes:  w.SystemBytes,
			VirtualBytes: w.VirtualBytes,
		}), nil

	case "http", "request":
		if w.Method == "" || w.URL == "" {
			return model.Sample{}, fmt.Errorf("%w: http sample needs method and url", ErrMalformedSample)
		}
		path := w.Path
		if path == "" {
			path = model.TopLevelPath(w.URL)
		}
		return model.NewRequestSample(ts, model.RequestSample{
			Method:     strings.ToUpper(w.Method),
			Path:       path,
			URL:        w.URL,
			StatusCode: w.StatusCode,
			Failed:     w.Failed,
			Duration:   time.Duration(w.DurationUS * float64(time.Microsecond)),
		}), nil
	}

	return model.Sample{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
}
