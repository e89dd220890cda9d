package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/beacon/internal/model"
)

type recordingStore struct {
	mu      sync.Mutex
	samples []model.Sample
	block   chan struct{}
}

func (s *recordingStore) Record(sample model.Sample) bool {
	if s.block != nil {
		<-s.block
	}
	if !sample.Valid() {
		return false
	}
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
	return true
}

func (s *recordingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func cpuSample(v float64) model.Sample {
	return model.NewCPUSample(time.Now(), model.CPUSample{Process: v})
}

func TestIngestor_FlushIsBarrier(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	ing := New(store, Config{Buffer: 64})
	ing.Start(context.Background())
	defer ing.Stop()

	for i := 0; i < 50; i++ {
		if !ing.Submit(cpuSample(float64(i))) {
			t.Fatalf("submit %d dropped", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ing.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if store.len() != 50 {
		t.Fatalf("applied = %d, want 50", store.len())
	}
	if ing.Applied() != 50 {
		t.Fatalf("Applied() = %d, want 50", ing.Applied())
	}

	// Order is preserved.
	store.mu.Lock()
	defer store.mu.Unlock()
	for i, s := range store.samples {
		if s.CPU.Process != float64(i) {
			t.Fatalf("sample %d = %v, out of order", i, s.CPU.Process)
		}
	}
}

func TestIngestor_SubmitDropsWhenFull(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	ing := New(store, Config{Buffer: 2})
	// Not started: nothing drains the buffer.

	if !ing.Submit(cpuSample(1)) || !ing.Submit(cpuSample(2)) {
		t.Fatal("first two submits should fit")
	}
	if ing.Submit(cpuSample(3)) {
		t.Fatal("third submit should be dropped")
	}
	if ing.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", ing.Dropped())
	}
	if ing.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", ing.Pending())
	}
}

func TestIngestor_StopDrainsBuffer(t *testing.T) {
	t.Parallel()

	store := &recordingStore{block: make(chan struct{})}
	ing := New(store, Config{Buffer: 16})
	ing.Start(context.Background())

	for i := 0; i < 5; i++ {
		ing.Submit(cpuSample(float64(i)))
	}
	close(store.block)
	ing.Stop()
	ing.Stop()

	if store.len() != 5 {
		t.Fatalf("applied = %d, want 5 after stop", store.len())
	}
	if ing.Submit(cpuSample(9)) {
		t.Fatal("submit after stop should be dropped")
	}
	if err := ing.Flush(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Flush after stop = %v, want ErrStopped", err)
	}
}

func TestIngestor_RejectsInvalidSamples(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	ing := New(store)
	ing.Start(context.Background())
	defer ing.Stop()

	ing.Submit(model.Sample{Kind: model.KindHTTPRequest})
	ing.Submit(cpuSample(1))
	if err := ing.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ing.Rejected() != 1 || ing.Applied() != 1 {
		t.Fatalf("rejected=%d applied=%d, want 1/1", ing.Rejected(), ing.Applied())
	}
}

func TestIngestor_FlushHonoursContext(t *testing.T) {
	t.Parallel()

	ing := New(&recordingStore{}, Config{Buffer: 1})
	ing.Submit(cpuSample(1)) // buffer full, loop never started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ing.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush = %v, want deadline exceeded", err)
	}
}

func TestIngestor_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	ing := New(store, Config{Buffer: 10_000})
	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				ing.Submit(cpuSample(0.5))
			}
		}()
	}
	wg.Wait()
	if err := ing.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	cancel()
	ing.Stop()

	if store.len() != 2000 {
		t.Fatalf("applied = %d, want 2000", store.len())
	}
}

func TestIngestor_SubmitRacingStopIsAccounted(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 8, 500
	store := &recordingStore{}
	ing := New(store, Config{Buffer: 64})
	ing.Start(context.Background())

	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < producers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perProducer; i++ {
				ing.Submit(cpuSample(0.5))
			}
		}()
	}
	close(start)
	ing.Stop()
	wg.Wait()

	total := ing.Applied() + ing.Rejected() + ing.Dropped()
	if total != producers*perProducer {
		t.Fatalf("applied+rejected+dropped = %d, want %d", total, producers*perProducer)
	}
	if ing.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", ing.Pending())
	}
	if got := uint64(store.len()); got != ing.Applied() {
		t.Fatalf("recorded = %d, want Applied() = %d", got, ing.Applied())
	}
}

func TestIngestor_ContextCancelRefusesLaterSubmits(t *testing.T) {
	t.Parallel()

	ing := New(&recordingStore{})
	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx)
	cancel()
	ing.Stop()

	if ing.Submit(cpuSample(1)) {
		t.Fatal("submit after cancel should be dropped")
	}
	if ing.Pending() != 0 || ing.Dropped() != 1 {
		t.Fatalf("pending=%d dropped=%d, want 0/1", ing.Pending(), ing.Dropped())
	}
	if err := ing.Flush(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Flush after cancel = %v, want ErrStopped", err)
	}
}

func TestDecodeSample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		line    string
		kind    model.Kind
		wantErr error
	}{
		{"cpu", `{"kind":"cpu","process":0.25,"system":0.5}`, model.KindCPU, nil},
		{"memory", `{"kind":"memory","process_bytes":1024,"system_bytes":2048}`, model.KindMemory, nil},
		{"http", `{"kind":"http","method":"get","url":"/posts/3","status_code":200,"duration_us":1500}`, model.KindHTTPRequest, nil},
		{"unknown kind", `{"kind":"disk"}`, 0, ErrUnknownKind},
		{"missing kind", `{"process":0.1}`, 0, ErrUnknownKind},
		{"not json", `cpu 0.1`, 0, ErrMalformedSample},
		{"cpu without values", `{"kind":"cpu"}`, 0, ErrMalformedSample},
		{"http without url", `{"kind":"http","method":"GET"}`, 0, ErrMalformedSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := DecodeSample([]byte(tt.line))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Kind != tt.kind || !s.Valid() {
				t.Fatalf("kind = %v valid=%v, want %v", s.Kind, s.Valid(), tt.kind)
			}
		})
	}
}

func TestDecodeSample_HTTPFields(t *testing.T) {
	t.Parallel()

	s, err := DecodeSample([]byte(`{"kind":"http","method":"post","url":"/posts/3?x=1","status_code":500,"failed":true,"duration_us":2500,"time_unix_nano":1700000000000000000}`))
	if err != nil {
		t.Fatalf("DecodeSample: %v", err)
	}
	r := s.Request
	if r.Method != "POST" || r.Path != "posts" || r.StatusCode != 500 || !r.Failed {
		t.Fatalf("request = %+v", r)
	}
	if r.Duration != 2500*time.Microsecond {
		t.Fatalf("duration = %v, want 2.5ms", r.Duration)
	}
	if !s.Timestamp.Equal(time.Unix(0, 1700000000000000000)) {
		t.Fatalf("timestamp = %v", s.Timestamp)
	}
}
