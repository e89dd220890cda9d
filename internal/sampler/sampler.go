// Package sampler periodically reads CPU and memory usage and submits the
// readings as samples.
package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/model"
)

// Config holds tunable parameters for the sampler.
type Config struct {
	Interval time.Duration
	Logger   *zap.Logger
}

// Sampler pushes a CPU and a memory sample into a sink on every tick.
type Sampler struct {
	reader   Reader
	sink     model.SampleSink
	interval time.Duration
	logger   *zap.Logger

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a sampler. Call Start to begin sampling.
func New(reader Reader, sink model.SampleSink, conf ...Config) *Sampler {
	s := &Sampler{
		reader:   reader,
		sink:     sink,
		interval: model.DefaultSampleInterval,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	if len(conf) > 0 {
		if conf[0].Interval > 0 {
			s.interval = conf[0].Interval
		}
		if conf[0].Logger != nil {
			s.logger = conf[0].Logger
		}
	}
	return s
}

// Start samples once immediately and then on every interval until ctx is
// done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop(ctx)
	})
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SampleOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.SampleOnce(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// SampleOnce reads both resources and submits whatever could be read.
// Read errors are logged and that sample is skipped. A priming CPU read is
// skipped silently.
func (s *Sampler) SampleOnce(ctx context.Context) int {
	submitted := 0
	now := time.Now()

	if cpu, err := s.reader.CPU(ctx); errors.Is(err, ErrPriming) {
		s.logger.Debug("sampler: cpu counters primed")
	} else if err != nil {
		s.logger.Warn("sampler: cpu read failed", zap.Error(err))
	} else if s.sink.Submit(model.NewCPUSample(now, cpu)) {
		submitted++
	}

	if mem, err := s.reader.Memory(ctx); err != nil {
		s.logger.Warn("sampler: memory read failed", zap.Error(err))
	} else if s.sink.Submit(model.NewMemorySample(now, mem)) {
		submitted++
	}
	return submitted
}

// Stop ends the sampling loop and waits for it to exit. Safe to call more than once.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
