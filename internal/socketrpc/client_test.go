package socketrpc_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/exposition"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/socketrpc"
)

// storeBackend serves a live store for roundtrip testing.
type storeBackend struct {
	store *aggregate.Store
	fmt   *exposition.Formatter
}

func (b *storeBackend) Snapshot() aggregate.Snapshot { return b.store.Snapshot() }
func (b *storeBackend) SnapshotRolling() aggregate.RollingSnapshot {
	return b.store.SnapshotRolling()
}
func (b *storeBackend) Exposition() []byte { return b.fmt.Bytes() }
func (b *storeBackend) Stats() model.Stats {
	return model.Stats{StartedAt: b.store.StartedAt(), Subscribers: 1, Dropped: 4}
}

func startTestServer(t *testing.T) (string, *socketrpc.Server, *aggregate.Store) {
	t.Helper()
	store := aggregate.NewStore()
	f, err := exposition.New(store)
	if err != nil {
		t.Fatalf("exposition.New: %v", err)
	}
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	srv := socketrpc.NewServer(sockPath, &storeBackend{store: store, fmt: f}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return sockPath, srv, store
}

func TestRoundtrip(t *testing.T) {
	sockPath, srv, store := startTestServer(t)
	defer srv.Stop()

	store.RecordHTTP(time.Now(), model.RequestSample{Method: "GET", Path: "/", URL: "/", StatusCode: 200, Duration: 2 * time.Millisecond})
	store.RecordCPU(time.Now(), model.CPUSample{Process: 0.1, System: 0.2})

	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	t.Run("Snapshot", func(t *testing.T) {
		view, err := client.Snapshot(nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(view.Requests) != 1 || view.Requests[0].Labels["path"] != "/" {
			t.Fatalf("unexpected requests: %+v", view.Requests)
		}
		if view.CPU == nil || view.CPU.System != 0.2 {
			t.Fatalf("unexpected cpu: %+v", view.CPU)
		}
		if got := view.Durations[0].Quantiles["0.99"]; got != 2000 {
			t.Fatalf("p99 = %v, want 2000", got)
		}
	})

	t.Run("Rolling", func(t *testing.T) {
		roll, err := client.Rolling()
		if err != nil {
			t.Fatal(err)
		}
		if roll.HTTP == nil || roll.HTTP.Total != 1 {
			t.Fatalf("unexpected rolling: %+v", roll)
		}
		// Peeking must not reset the interval.
		if store.SnapshotRolling().Empty() {
			t.Fatal("rolling view was reset by RPC")
		}
	})

	t.Run("Exposition", func(t *testing.T) {
		text, err := client.Exposition()
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(text, `http_requests_total{method="GET",path="/",status_code="200"} 1`) {
			t.Fatalf("unexpected exposition:\n%s", text)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := client.Stats()
		if err != nil {
			t.Fatal(err)
		}
		if stats.Subscribers != 1 || stats.Dropped != 4 {
			t.Fatalf("unexpected stats: %+v", stats)
		}
	})

	t.Run("InvalidQuantile", func(t *testing.T) {
		_, err := client.Snapshot([]float64{2})
		var rpcErr *socketrpc.RPCError
		if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
			t.Fatalf("err = %v, want RPC invalid params", err)
		}
	})
}

func TestStart_RejectsSecondServer(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	defer srv.Stop()

	other := socketrpc.NewServer(sockPath, &storeBackend{store: aggregate.NewStore()}, nil)
	if err := other.Start(); err == nil {
		other.Stop()
		t.Fatal("expected error when socket is already served")
	}
}

func TestDial_MissingSocket(t *testing.T) {
	if _, err := socketrpc.Dial(filepath.Join(t.TempDir(), "missing.sock")); err == nil {
		t.Fatal("expected dial error")
	}
}
