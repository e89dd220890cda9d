package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
)

const defaultSendTimeout = 5 * time.Second

// RollingSource yields and resets the per-interval view. aggregate.Store satisfies it.
type RollingSource interface {
	TakeRolling() aggregate.RollingSnapshot
}

// EnvironmentFunc describes the host for the one-shot env message.
type EnvironmentFunc func(ctx context.Context) []model.EnvEntry

// Config holds tunable parameters for the scheduler.
type Config struct {
	Interval    time.Duration
	SendTimeout time.Duration
	Title       string
	Docs        string
	Environment EnvironmentFunc
	Registry    *Registry
	Logger      *zap.Logger
}

// Scheduler periodically drains the rolling view and fans it out.
type Scheduler struct {
	source      RollingSource
	registry    *Registry
	interval    time.Duration
	sendTimeout time.Duration
	title       string
	docs        string
	environment EnvironmentFunc
	logger      *zap.Logger

	envOnce sync.Once
	env     []model.EnvEntry

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler over source. Call Start to begin ticking.
func NewScheduler(source RollingSource, conf ...Config) *Scheduler {
	s := &Scheduler{
		source:      source,
		interval:    model.DefaultBroadcastInterval,
		sendTimeout: defaultSendTimeout,
		title:       model.DefaultTitle,
		docs:        model.DefaultDocsURL,
		logger:      zap.NewNop(),
		done:        make(chan struct{}),
	}
	if len(conf) > 0 {
		c := conf[0]
		if c.Interval > 0 {
			s.interval = c.Interval
		}
		if c.SendTimeout > 0 {
			s.sendTimeout = c.SendTimeout
		}
		if c.Title != "" {
			s.title = c.Title
		}
		if c.Docs != "" {
			s.docs = c.Docs
		}
		s.environment = c.Environment
		s.registry = c.Registry
		if c.Logger != nil {
			s.logger = c.Logger
		}
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	return s
}

// Registry returns the subscriber set the scheduler fans out to.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start runs the tick loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop(ctx)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Stop ends the tick loop and waits for it to exit. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// Tick runs one broadcast cycle and returns the number of messages delivered.
// Nothing is sent when the interval saw no activity.
func (s *Scheduler) Tick(ctx context.Context) int {
	snap := s.source.TakeRolling()
	if snap.Empty() {
		return 0
	}

	msgs := Messages(snap)
	payloads := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			s.logger.Warn("broadcast: encode failed", zap.String("topic", m.Topic), zap.Error(err))
			continue
		}
		payloads = append(payloads, data)
	}

	sent := 0
	s.registry.ForEach(func(sub Subscriber) {
		for _, data := range payloads {
			if err := s.send(ctx, sub, data); err != nil {
				s.drop(sub, err)
				return
			}
			sent++
		}
	})
	return sent
}

func (s *Scheduler) send(ctx context.Context, sub Subscriber, data []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return sub.Send(sendCtx, data)
}

func (s *Scheduler) drop(sub Subscriber, cause error) {
	if !s.registry.Remove(sub) {
		return
	}
	if err := sub.Close(); err != nil {
		s.logger.Debug("broadcast: close failed", zap.String("subscriber", sub.ID()), zap.Error(err))
	}
	s.logger.Info("broadcast: subscriber removed",
		zap.String("subscriber", sub.ID()),
		zap.Error(cause),
		zap.Int("remaining", s.registry.Len()))
}

// Subscribe sends the env and title messages to sub and then registers it
// for periodic updates.
func (s *Scheduler) Subscribe(ctx context.Context, sub Subscriber) error {
	for _, m := range []Message{EnvMessage(s.environmentEntries(ctx)), TitleMessage(s.title, s.docs)} {
		data, err := Encode(m)
		if err != nil {
			return fmt.Errorf("broadcast: encode %s: %w", m.Topic, err)
		}
		if err := s.send(ctx, sub, data); err != nil {
			return fmt.Errorf("broadcast: subscribe %s: %w", sub.ID(), err)
		}
	}
	s.registry.Add(sub)
	s.logger.Info("broadcast: subscriber added",
		zap.String("subscriber", sub.ID()),
		zap.Int("subscribers", s.registry.Len()))
	return nil
}

// Unsubscribe removes sub without closing it.
func (s *Scheduler) Unsubscribe(sub Subscriber) {
	if s.registry.Remove(sub) {
		s.logger.Info("broadcast: subscriber left", zap.String("subscriber", sub.ID()))
	}
}

func (s *Scheduler) environmentEntries(ctx context.Context) []model.EnvEntry {
	if s.environment == nil {
		return nil
	}
	s.envOnce.Do(func() {
		s.env = s.environment(ctx)
	})
	return s.env
}
