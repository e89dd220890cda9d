package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/broadcast"
	"github.com/tinytelemetry/beacon/internal/correlator"
	"github.com/tinytelemetry/beacon/internal/exposition"
	"github.com/tinytelemetry/beacon/internal/ingest"
	"github.com/tinytelemetry/beacon/internal/middleware"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/sampler"
)

// pipeline owns one aggregate store and every component feeding or reading it.
type pipeline struct {
	store      *aggregate.Store
	ingestor   *ingest.Ingestor
	correlator *correlator.Correlator
	formatter  *exposition.Formatter
	scheduler  *broadcast.Scheduler
	sampler    *sampler.Sampler // nil when sampling is disabled or unavailable
	pathLabel  string
}

func newPipeline(cfg appConfig, logger *zap.Logger) (*pipeline, error) {
	store := aggregate.NewStore()

	formatter, err := exposition.New(store,
		exposition.WithQuantiles(cfg.Quantiles),
		exposition.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		store: store,
		ingestor: ingest.New(store, ingest.Config{
			Buffer: cfg.IngestBuffer,
			Logger: logger,
		}),
		correlator: correlator.New(cfg.CorrelatorCapacity),
		formatter:  formatter,
		scheduler: broadcast.NewScheduler(store, broadcast.Config{
			Interval:    cfg.BroadcastInterval,
			Title:       cfg.Title,
			Environment: sampler.Environment,
			Logger:      logger,
		}),
		pathLabel: cfg.PathLabel,
	}

	if cfg.SamplerEnabled {
		reader, err := sampler.NewHostReader()
		if err != nil {
			logger.Warn("sampler: unavailable, gauges will be omitted", zap.Error(err))
		} else {
			p.sampler = sampler.New(reader, p.ingestor, sampler.Config{
				Interval: cfg.SampleInterval,
				Logger:   logger,
			})
		}
	}
	return p, nil
}

// middleware returns the request instrumentation for the HTTP server.
func (p *pipeline) middleware() gin.HandlerFunc {
	return middleware.New(middleware.Config{
		Correlator: p.correlator,
		Sink:       p.ingestor,
		PathLabel:  p.pathLabel,
	})
}

func (p *pipeline) start(ctx context.Context) {
	p.ingestor.Start(ctx)
	p.scheduler.Start(ctx)
	if p.sampler != nil {
		p.sampler.Start(ctx)
	}
}

// stop halts producers first so the ingestor drains everything they queued.
func (p *pipeline) stop() {
	if p.sampler != nil {
		p.sampler.Stop()
	}
	p.scheduler.Stop()
	p.ingestor.Stop()
}

// Snapshot implements socketrpc.Backend.
func (p *pipeline) Snapshot() aggregate.Snapshot { return p.store.Snapshot() }

// SnapshotRolling implements socketrpc.Backend.
func (p *pipeline) SnapshotRolling() aggregate.RollingSnapshot { return p.store.SnapshotRolling() }

// Exposition implements socketrpc.Backend.
func (p *pipeline) Exposition() []byte { return p.formatter.Bytes() }

// Stats implements socketrpc.Backend.
func (p *pipeline) Stats() model.Stats {
	started := p.store.StartedAt()
	return model.Stats{
		StartedAt:   started,
		Uptime:      time.Since(started).Round(time.Second).String(),
		Subscribers: p.scheduler.Registry().Len(),
		InFlight:    p.correlator.Len(),
		Evicted:     p.correlator.Evicted(),
		Misses:      p.correlator.Misses(),
		Applied:     p.ingestor.Applied(),
		Dropped:     p.ingestor.Dropped(),
		Pending:     p.ingestor.Pending(),
	}
}

