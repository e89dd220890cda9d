package socketrpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
)

// stubBackend returns fixed values for dispatch unit testing.
type stubBackend struct {
	store *aggregate.Store
}

func newStubBackend() *stubBackend {
	store := aggregate.NewStore()
	for _, d := range []time.Duration{1, 2, 3, 4, 5} {
		store.RecordHTTP(time.Now(), model.RequestSample{
			Method: "GET", Path: "posts", URL: "/posts/1", StatusCode: 200, Duration: d * time.Microsecond,
		})
	}
	return &stubBackend{store: store}
}

func (b *stubBackend) Snapshot() aggregate.Snapshot { return b.store.Snapshot() }
func (b *stubBackend) SnapshotRolling() aggregate.RollingSnapshot {
	return b.store.SnapshotRolling()
}
func (b *stubBackend) Exposition() []byte { return []byte("http_requests_total 5\n") }
func (b *stubBackend) Stats() model.Stats {
	return model.Stats{Subscribers: 2, InFlight: 1, Evicted: 3}
}

func newTestDispatcher() *Server {
	return &Server{backend: newStubBackend()}
}

func TestDispatch_AllMethods(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	tests := []struct {
		method string
		params string
	}{
		{"Snapshot", `{"Quantiles":[0.5]}`},
		{"Rolling", `{}`},
		{"Exposition", `{}`},
		{"Stats", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			req := Request{
				JSONRPC: "2.0",
				ID:      1,
				Method:  tt.method,
				Params:  json.RawMessage(tt.params),
			}
			resp := srv.dispatch(req)
			if resp.Error != nil {
				t.Fatalf("dispatch(%s) error: %s", tt.method, resp.Error.Message)
			}
			if resp.Result == nil {
				t.Fatalf("dispatch(%s) returned nil result", tt.method)
			}
			if resp.JSONRPC != "2.0" {
				t.Errorf("JSONRPC = %q, want 2.0", resp.JSONRPC)
			}
			if resp.ID != 1 {
				t.Errorf("ID = %d, want 1", resp.ID)
			}
		})
	}
}

func TestDispatch_SnapshotQuantiles(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	resp := srv.dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "Snapshot"})
	if resp.Error != nil {
		t.Fatalf("dispatch error: %s", resp.Error.Message)
	}
	var view SnapshotView
	if err := json.Unmarshal(resp.Result, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(view.Requests) != 1 || view.Requests[0].Count != 5 {
		t.Fatalf("requests = %+v", view.Requests)
	}
	if len(view.Durations) != 2 {
		t.Fatalf("durations = %d, want 2", len(view.Durations))
	}
	agg := view.Durations[0]
	if len(agg.Labels) != 0 {
		t.Fatalf("first duration series should be unlabeled, got %v", agg.Labels)
	}
	want := map[string]float64{"0.5": 3, "0.9": 5, "0.99": 5}
	for q, v := range want {
		if agg.Quantiles[q] != v {
			t.Errorf("quantile %s = %v, want %v", q, agg.Quantiles[q], v)
		}
	}
}

func TestDispatch_MethodNotFound(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	resp := srv.dispatch(Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "NonExistentMethod",
		Params:  json.RawMessage(`{}`),
	})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", resp.Error.Code)
	}
}

func TestDispatch_InvalidParams(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	tests := []struct {
		name   string
		params string
	}{
		{"malformed", `not json`},
		{"quantile out of range", `{"Quantiles":[1.5]}`},
		{"zero quantile", `{"Quantiles":[0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := srv.dispatch(Request{
				JSONRPC: "2.0",
				ID:      2,
				Method:  "Snapshot",
				Params:  json.RawMessage(tt.params),
			})
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != -32602 {
				t.Errorf("error code = %d, want -32602 (invalid params)", resp.Error.Code)
			}
		})
	}
}

func TestDispatch_PreservesRequestID(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	for _, id := range []int{0, 1, 42, 9999} {
		resp := srv.dispatch(Request{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "Stats",
			Params:  json.RawMessage(`{}`),
		})
		if resp.ID != id {
			t.Errorf("request ID %d: response ID = %d", id, resp.ID)
		}
	}
}
