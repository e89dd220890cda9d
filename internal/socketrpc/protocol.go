package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the running aggregate over a Unix domain socket.
//
//   Method        Params                        Result
//   ──────────    ──────────────────────────    ─────────────────────────
//   Snapshot      {Quantiles: []float64}        SnapshotView
//   Rolling       (none)                        aggregate.RollingSnapshot
//   Exposition    (none)                        string (text format 0.0.4)
//   Stats         (none)                        model.Stats
//
// Snapshot quantiles default to 0.5, 0.9, 0.99 when omitted.
// Rolling peeks at the current broadcast interval without resetting it.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// CounterView is one counter series.
type CounterView struct {
	Labels map[string]string `json:"labels" yaml:"labels"`
	Count  uint64            `json:"count" yaml:"count"`
}

// SummaryView is one duration series with its requested quantiles.
type SummaryView struct {
	Labels    map[string]string  `json:"labels" yaml:"labels"`
	Count     int                `json:"count" yaml:"count"`
	Sum       float64            `json:"sum" yaml:"sum"`
	Quantiles map[string]float64 `json:"quantiles" yaml:"quantiles"`
}

// SnapshotView is the wire form of aggregate.Snapshot.
type SnapshotView struct {
	StartedAt time.Time           `json:"started_at" yaml:"started_at"`
	TakenAt   time.Time           `json:"taken_at" yaml:"taken_at"`
	CPU       *model.CPUSample    `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory    *model.MemorySample `json:"memory,omitempty" yaml:"memory,omitempty"`
	Requests  []CounterView       `json:"requests" yaml:"requests"`
	Errors    []CounterView       `json:"errors" yaml:"errors"`
	Durations []SummaryView       `json:"durations" yaml:"durations"`
}

// NewSnapshotView converts snap, computing the given quantiles for every
// duration series. Quantiles must already be validated.
func NewSnapshotView(snap aggregate.Snapshot, quantiles []float64) SnapshotView {
	v := SnapshotView{
		StartedAt: snap.StartedAt,
		TakenAt:   snap.TakenAt,
		CPU:       snap.CPU,
		Memory:    snap.Memory,
		Requests:  counterViews(snap.Requests),
		Errors:    counterViews(snap.Errors),
		Durations: make([]SummaryView, 0, len(snap.Durations)),
	}
	for _, d := range snap.Durations {
		sv := SummaryView{
			Labels:    labelMap(d.Labels),
			Count:     d.Series.Count(),
			Sum:       d.Series.Sum(),
			Quantiles: make(map[string]float64, len(quantiles)),
		}
		for _, q := range quantiles {
			if qv, err := d.Series.Quantile(q); err == nil {
				sv.Quantiles[formatQuantile(q)] = qv
			}
		}
		v.Durations = append(v.Durations, sv)
	}
	return v
}

func counterViews(values []aggregate.CounterValue) []CounterView {
	out := make([]CounterView, len(values))
	for i, c := range values {
		out[i] = CounterView{Labels: labelMap(c.Labels), Count: c.Count}
	}
	return out
}

func labelMap(ls model.LabelSet) map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Name] = l.Value
	}
	return m
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/beacon/beacon.sock, falling back to
// ~/.local/state/beacon/beacon.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "beacon", "beacon.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/beacon.sock"
	}
	return filepath.Join(home, ".local", "state", "beacon", "beacon.sock")
}
