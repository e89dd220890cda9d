// Package ingest carries samples from producers to the aggregate store over
// a bounded channel so producers never contend on store locks.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/model"
)

// ErrStopped is returned by Flush once the ingestor has been stopped.
var ErrStopped = errors.New("ingest: stopped")

// Recorder applies a sample. aggregate.Store satisfies it.
type Recorder interface {
	Record(model.Sample) bool
}

type envelope struct {
	sample model.Sample
	ack    chan struct{} // non-nil for flush barriers
}

// Config holds tunable parameters for the ingestor.
type Config struct {
	Buffer int
	Logger *zap.Logger
}

// Ingestor applies submitted samples in order on a single goroutine.
type Ingestor struct {
	recorder Recorder
	in       chan envelope
	logger   *zap.Logger

	// closed is set under mu before the final drain, so every Submit either
	// lands in the buffer ahead of the drain or is counted as dropped.
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	applied  atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
	lastDrop atomic.Int64 // unix timestamp of last drop warning
}

// New creates an ingestor feeding recorder. It does nothing until Start or Run.
func New(recorder Recorder, conf ...Config) *Ingestor {
	buffer := model.DefaultIngestBuffer
	logger := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].Buffer > 0 {
			buffer = conf[0].Buffer
		}
		if conf[0].Logger != nil {
			logger = conf[0].Logger
		}
	}
	return &Ingestor{
		recorder: recorder,
		in:       make(chan envelope, buffer),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Submit queues a sample without blocking. It returns false when the sample
// was dropped because the buffer is full or the ingestor has stopped.
func (i *Ingestor) Submit(s model.Sample) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		i.dropped.Add(1)
		return false
	}

	select {
	case i.in <- envelope{sample: s}:
		return true
	default:
		i.logBackpressure()
		return false
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds)
// when the buffer is full and a sample is dropped.
func (i *Ingestor) logBackpressure() {
	count := i.dropped.Add(1)
	now := time.Now().Unix()
	last := i.lastDrop.Load()
	if now-last >= 10 && i.lastDrop.CompareAndSwap(last, now) {
		i.logger.Warn("ingest: buffer full, dropping samples",
			zap.Uint64("dropped", count),
			zap.Int("buffer", cap(i.in)))
	}
}

// Start runs the apply loop on its own goroutine until ctx is done or Stop is called.
func (i *Ingestor) Start(ctx context.Context) {
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.Run(ctx)
		}()
	})
}

// Run applies samples until ctx is done or Stop is called, then drains
// whatever is still buffered.
func (i *Ingestor) Run(ctx context.Context) {
	for {
		select {
		case env := <-i.in:
			i.apply(env)
		case <-ctx.Done():
			i.shutdown()
			i.drain()
			return
		case <-i.done:
			i.shutdown()
			i.drain()
			return
		}
	}
}

func (i *Ingestor) drain() {
	for {
		select {
		case env := <-i.in:
			i.apply(env)
		default:
			return
		}
	}
}

func (i *Ingestor) apply(env envelope) {
	if env.ack != nil {
		close(env.ack)
		return
	}
	if i.recorder.Record(env.sample) {
		i.applied.Add(1)
		return
	}
	i.rejected.Add(1)
	i.logger.Debug("ingest: rejected invalid sample", zap.Stringer("kind", env.sample.Kind))
}

// Flush blocks until every sample submitted before the call has been applied.
func (i *Ingestor) Flush(ctx context.Context) error {
	select {
	case <-i.done:
		return ErrStopped
	default:
	}

	ack := make(chan struct{})
	select {
	case i.in <- envelope{ack: ack}:
	case <-i.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-i.done:
		// The final drain may still reach the barrier.
		select {
		case <-ack:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the apply loop, waits for it to drain and exit. Safe to call
// more than once.
func (i *Ingestor) Stop() {
	i.shutdown()
	i.wg.Wait()
}

// shutdown refuses further submissions and wakes the apply loop and any
// waiting Flush.
func (i *Ingestor) shutdown() {
	i.stopOnce.Do(func() {
		close(i.done)
	})
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
}

// Applied returns how many samples reached the recorder and were accepted.
func (i *Ingestor) Applied() uint64 { return i.applied.Load() }

// Rejected returns how many samples the recorder refused as invalid.
func (i *Ingestor) Rejected() uint64 { return i.rejected.Load() }

// Dropped returns how many samples were never queued.
func (i *Ingestor) Dropped() uint64 { return i.dropped.Load() }

// Pending returns the number of queued envelopes.
func (i *Ingestor) Pending() int { return len(i.in) }
