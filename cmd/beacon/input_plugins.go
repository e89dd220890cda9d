package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/ingest"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/tcpserver"
)

// FeedSource delivers externally produced samples into a sink.
type FeedSource interface {
	Name() string
	// Forward submits decoded samples until the source ends or ctx is done,
	// returning the number submitted.
	Forward(ctx context.Context, sink model.SampleSink) int
	Stop() error
}

// InputSourcePlugin is a small plugin primitive for wiring sample feeds.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (FeedSource, error)
}

// InputPluginConfig defines runtime feed selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
	Logger     *zap.Logger
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.TCPAddr,
		enabled: cfg.TCPEnabled,
		logger:  logger,
	})
	plugins = append(plugins, stdinInputPlugin{logger: logger})
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	logger  *zap.Logger
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (FeedSource, error) {
	server := tcpserver.NewServer(p.addr, tcpserver.ServerConfig{Logger: p.logger})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp feed: %w", err)
	}
	return tcpFeed{server}, nil
}

type tcpFeed struct {
	*tcpserver.Server
}

func (tcpFeed) Name() string { return "tcp" }

type stdinInputPlugin struct {
	logger *zap.Logger
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(_ context.Context) (FeedSource, error) {
	return newReaderFeed("stdin", os.Stdin, p.logger), nil
}

// readerFeed decodes newline-delimited JSON samples from an io.Reader.
type readerFeed struct {
	name   string
	lines  chan []byte
	logger *zap.Logger
}

func newReaderFeed(name string, r io.Reader, logger *zap.Logger) *readerFeed {
	f := &readerFeed{name: name, lines: make(chan []byte, 256), logger: logger}
	go func() {
		defer close(f.lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), tcpserver.DefaultMaxLineSize)
		for scanner.Scan() {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			f.lines <- append([]byte(nil), scanner.Bytes()...)
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("feed: read failed", zap.String("feed", name), zap.Error(err))
		}
	}()
	return f
}

func (f *readerFeed) Name() string { return f.name }

func (f *readerFeed) Forward(ctx context.Context, sink model.SampleSink) int {
	submitted := 0
	for {
		select {
		case line, ok := <-f.lines:
			if !ok {
				return submitted
			}
			sample, err := ingest.DecodeSample(line)
			if err != nil {
				f.logger.Debug("feed: skipping line", zap.String("feed", f.name), zap.Error(err))
				continue
			}
			if sink.Submit(sample) {
				submitted++
			}
		case <-ctx.Done():
			return submitted
		}
	}
}

// Stop is a no-op; the reader ends on EOF.
func (f *readerFeed) Stop() error { return nil }
