package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/beacon/internal/correlator"
	"github.com/tinytelemetry/beacon/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sliceSink struct {
	mu      sync.Mutex
	samples []model.Sample
}

func (s *sliceSink) Submit(sample model.Sample) bool {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
	return true
}

func (s *sliceSink) requests() []model.RequestSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RequestSample, 0, len(s.samples))
	for _, sample := range s.samples {
		out = append(out, *sample.Request)
	}
	return out
}

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := t
		t = t.Add(step)
		return cur
	}
}

func newEngine(conf Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), New(conf))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/posts/:id", func(c *gin.Context) {
		if c.Param("id") == "bad" {
			_ = c.Error(errors.New("lookup failed"))
			c.String(http.StatusNotFound, "missing")
			return
		}
		c.String(http.StatusOK, "post")
	})
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	return r
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_EmitsRequestSample(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	r := newEngine(Config{Sink: sink, Now: stepClock(5 * time.Millisecond)})

	if w := serve(r, "/posts/7"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	reqs := sink.requests()
	if len(reqs) != 1 {
		t.Fatalf("samples = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Method != http.MethodGet || got.Path != "posts" || got.URL != "/posts/7" || got.StatusCode != 200 || got.Failed {
		t.Fatalf("sample = %+v", got)
	}
	if got.Duration != 5*time.Millisecond {
		t.Fatalf("duration = %v, want 5ms", got.Duration)
	}
}

func TestMiddleware_RootPathLabel(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	r := newEngine(Config{Sink: sink})
	serve(r, "/")

	if reqs := sink.requests(); len(reqs) != 1 || reqs[0].Path != "/" {
		t.Fatalf("samples = %+v, want path /", reqs)
	}
}

func TestMiddleware_HandlerErrorMarksFailed(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	r := newEngine(Config{Sink: sink})
	serve(r, "/posts/bad")

	reqs := sink.requests()
	if len(reqs) != 1 || !reqs[0].Failed || reqs[0].StatusCode != http.StatusNotFound {
		t.Fatalf("samples = %+v, want one failed 404", reqs)
	}
}

func TestMiddleware_PanicIsRecordedAndRepanicked(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	r := newEngine(Config{Sink: sink})
	w := serve(r, "/boom")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 from recovery", w.Code)
	}
	reqs := sink.requests()
	if len(reqs) != 1 || !reqs[0].Failed || reqs[0].StatusCode != http.StatusInternalServerError {
		t.Fatalf("samples = %+v, want one failed 500", reqs)
	}
}

func TestMiddleware_RouteLabelMode(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	r := newEngine(Config{Sink: sink, PathLabel: PathLabelRoute})
	serve(r, "/posts/3")
	serve(r, "/unknown/route")

	reqs := sink.requests()
	if len(reqs) != 2 {
		t.Fatalf("samples = %d, want 2", len(reqs))
	}
	if reqs[0].Path != "/posts/:id" {
		t.Fatalf("route path = %q, want /posts/:id", reqs[0].Path)
	}
	// Unmatched routes fall back to the first segment.
	if reqs[1].Path != "unknown" || reqs[1].StatusCode != http.StatusNotFound {
		t.Fatalf("fallback sample = %+v", reqs[1])
	}
}

func TestMiddleware_EvictedRequestEmitsNothing(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	corr := correlator.New(1)
	r := gin.New()
	r.Use(New(Config{Correlator: corr, Sink: sink}))
	r.GET("/slow", func(c *gin.Context) {
		// Another request begins while this one is in flight and pushes it out.
		corr.Begin(corr.NextID(), time.Now())
		c.Status(http.StatusOK)
	})

	serve(r, "/slow")

	if reqs := sink.requests(); len(reqs) != 0 {
		t.Fatalf("samples = %+v, want none after eviction", reqs)
	}
	if corr.Evicted() != 1 {
		t.Fatalf("Evicted() = %d, want 1", corr.Evicted())
	}
}

func TestValidatePathLabel(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"", "segment", "route", "ROUTE"} {
		if err := ValidatePathLabel(mode); err != nil {
			t.Errorf("ValidatePathLabel(%q) = %v", mode, err)
		}
	}
	if err := ValidatePathLabel("template"); !errors.Is(err, ErrInvalidPathLabel) {
		t.Fatalf("ValidatePathLabel(template) = %v, want ErrInvalidPathLabel", err)
	}
}

func TestMiddleware_WebsocketUpgradeIsNotTimed(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	corr := correlator.New(0)
	r := gin.New()
	r.Use(New(Config{Correlator: corr, Sink: sink}))
	reached := false
	r.GET("/metrics", func(c *gin.Context) {
		reached = true
		if n := corr.Len(); n != 0 {
			t.Errorf("Len() = %d during upgrade, want 0", n)
		}
		c.Status(http.StatusSwitchingProtocols)
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "WebSocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if !reached {
		t.Fatal("upgrade handler was not called")
	}
	if reqs := sink.requests(); len(reqs) != 0 {
		t.Fatalf("samples = %+v, want none for upgrade", reqs)
	}

	serve(r, "/metrics")
	if reqs := sink.requests(); len(reqs) != 1 {
		t.Fatalf("samples = %d, want 1 for plain scrape", len(reqs))
	}
}

func TestMiddleware_GoexitIsNotTurnedIntoPanic(t *testing.T) {
	t.Parallel()

	sink := &sliceSink{}
	r := gin.New()
	r.Use(New(Config{Sink: sink}))
	r.GET("/exit", func(c *gin.Context) { runtime.Goexit() })

	var recovered any
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { recovered = recover() }()
		serve(r, "/exit")
	}()
	<-done

	if recovered != nil {
		t.Fatalf("recovered = %v, want nil", recovered)
	}
	reqs := sink.requests()
	if len(reqs) != 1 || !reqs[0].Failed || reqs[0].StatusCode != http.StatusInternalServerError {
		t.Fatalf("samples = %+v, want one failed 500", reqs)
	}
}
