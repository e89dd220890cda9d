package exposition

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/quantile"
)

type staticSource struct {
	snap aggregate.Snapshot
}

func (s staticSource) Snapshot() aggregate.Snapshot { return s.snap }

func request(path, url string, status int, d time.Duration) model.RequestSample {
	return model.RequestSample{Method: "GET", Path: path, URL: url, StatusCode: status, Duration: d}
}

func TestFormatter_RendersCountersAndSummaries(t *testing.T) {
	t.Parallel()

	store := aggregate.NewStore()
	now := time.Now()
	store.RecordHTTP(now, request("/", "/", 200, 100*time.Microsecond))
	store.RecordHTTP(now, request("/", "/", 200, 300*time.Microsecond))

	f, err := New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := strings.Join([]string{
		"# HELP http_requests_total Total number of HTTP requests made.",
		"# TYPE http_requests_total counter",
		`http_requests_total{method="GET",path="/",status_code="200"} 2`,
		"# HELP http_request_errors_total Total number of HTTP requests that failed.",
		"# TYPE http_request_errors_total counter",
		"# HELP http_request_duration_microseconds The HTTP request latencies in microseconds.",
		"# TYPE http_request_duration_microseconds summary",
		`http_request_duration_microseconds{quantile="0.5"} 100`,
		`http_request_duration_microseconds{quantile="0.9"} 300`,
		`http_request_duration_microseconds{quantile="0.99"} 300`,
		"http_request_duration_microseconds_sum 400",
		"http_request_duration_microseconds_count 2",
		`http_request_duration_microseconds{method="GET",path="/",quantile="0.5"} 100`,
		`http_request_duration_microseconds{method="GET",path="/",quantile="0.9"} 300`,
		`http_request_duration_microseconds{method="GET",path="/",quantile="0.99"} 300`,
		`http_request_duration_microseconds_sum{method="GET",path="/"} 400`,
		`http_request_duration_microseconds_count{method="GET",path="/"} 2`,
		"",
	}, "\n")

	if got := string(f.Bytes()); got != want {
		t.Fatalf("output mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatter_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := aggregate.NewStore()
	now := time.Now()
	for i := 1; i <= 20; i++ {
		path := "/"
		if i%3 == 0 {
			path = "posts"
		}
		store.RecordHTTP(now, request(path, "/"+path, 200, time.Duration(i)*time.Millisecond))
	}
	store.RecordCPU(now, model.CPUSample{Process: 0.1, System: 0.2})

	f, err := New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := f.Bytes()
	var wg sync.WaitGroup
	outputs := make([][]byte, 8)
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i] = f.Bytes()
		}(i)
	}
	wg.Wait()

	for i, out := range outputs {
		if !bytes.Equal(out, first) {
			t.Fatalf("render %d differs from first render", i)
		}
	}
	if got := store.DurationCount(nil); got != 20 {
		t.Fatalf("rendering changed state: count = %d", got)
	}
}

func TestFormatter_OmitsGaugesUntilSampled(t *testing.T) {
	t.Parallel()

	out := string(Format(aggregate.Snapshot{}, model.DefaultQuantiles))
	for _, name := range []string{
		aggregate.OSCPUUsedRatio,
		aggregate.ProcessCPUUsedRatio,
		aggregate.OSResidentMemory,
		aggregate.ProcessResident,
		aggregate.ProcessVirtual,
	} {
		if strings.Contains(out, name) {
			t.Fatalf("unsampled gauge %s rendered:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "# TYPE http_requests_total counter") {
		t.Fatalf("counter family header missing:\n%s", out)
	}
}

func TestFormatter_RendersGauges(t *testing.T) {
	t.Parallel()

	snap := aggregate.Snapshot{
		CPU:    &model.CPUSample{Process: 0.25, System: 0.5},
		Memory: &model.MemorySample{ProcessBytes: 1 << 20, SystemBytes: 8 << 30, VirtualBytes: 4 << 30},
	}
	f, err := New(staticSource{snap: snap})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	for _, line := range []string{
		"# TYPE os_cpu_used_ratio gauge",
		"os_cpu_used_ratio 0.5",
		"process_cpu_used_ratio 0.25",
		"os_resident_memory_bytes 8589934592",
		"process_resident_memory_bytes 1048576",
		"process_virtual_memory_bytes 4294967296",
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing line %q in:\n%s", line, out)
		}
	}
}

func TestFormatter_EscapesLabelValues(t *testing.T) {
	t.Parallel()

	snap := aggregate.Snapshot{
		Errors: []aggregate.CounterValue{{
			Labels: model.Labels("method", "GET", "path", "a\"b\\c\nd"),
			Count:  3,
		}},
	}
	out := string(Format(snap, model.DefaultQuantiles))
	want := `http_request_errors_total{method="GET",path="a\"b\\c\nd"} 3` + "\n"
	if !strings.Contains(out, want) {
		t.Fatalf("escaped line %q not found in:\n%s", want, out)
	}
}

func TestNew_RejectsInvalidQuantiles(t *testing.T) {
	t.Parallel()

	for _, qs := range [][]float64{{0}, {1.5}, {0.5, -0.1}} {
		if _, err := New(staticSource{}, WithQuantiles(qs)); !errors.Is(err, quantile.ErrInvalidQuantile) {
			t.Fatalf("New(%v) err = %v, want ErrInvalidQuantile", qs, err)
		}
	}
	f, err := New(staticSource{}, WithQuantiles([]float64{0.25, 1}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := f.Quantiles(); len(got) != 2 || got[1] != 1 {
		t.Fatalf("Quantiles() = %v", got)
	}
}

func TestEscapeLabelValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`back\slash`, `back\\slash`},
		{`"quoted"`, `\"quoted\"`},
		{"two\nlines", `two\nlines`},
	}
	for _, tt := range tests {
		if got := EscapeLabelValue(tt.in); got != tt.want {
			t.Errorf("EscapeLabelValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
