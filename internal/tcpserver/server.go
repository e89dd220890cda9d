// Package tcpserver accepts newline-delimited JSON samples over TCP.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/ingest"
	"github.com/tinytelemetry/beacon/internal/model"
)

const (
	// DefaultLineChannelSize is the default buffer size for the incoming line channel.
	DefaultLineChannelSize = 10_000

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single sample line.
	DefaultMaxLineSize = 64 * 1024
)

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	Logger          *zap.Logger
}

// Line is one raw feed line and the peer it came from.
type Line struct {
	Remote string
	Data   []byte
}

// Server listens for newline-delimited JSON samples over TCP.
type Server struct {
	listener    net.Listener
	addr        string
	lineChan    chan Line
	maxLineSize int
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewServer creates a new TCP server. Default addr is "127.0.0.1:4000".
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:4000"
	}
	lineChannelSize := DefaultLineChannelSize
	maxLineSize := DefaultMaxLineSize
	logger := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].LineChannelSize > 0 {
			lineChannelSize = conf[0].LineChannelSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].Logger != nil {
			logger = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		lineChan:    make(chan Line, lineChannelSize),
		maxLineSize: maxLineSize,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	remote := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	buf := make([]byte, 0, 4096)
	scanner.Buffer(buf, s.maxLineSize)

	for scanner.Scan() {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		line := Line{Remote: remote, Data: append([]byte(nil), data...)}
		select {
		case s.lineChan <- line:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.logger.Warn("tcpserver: dropped connection, line exceeds max size",
				zap.String("remote", remote),
				zap.Int("max_line_size", s.maxLineSize))
			return
		}
		select {
		case <-s.ctx.Done():
		default:
			s.logger.Warn("tcpserver: scanner error", zap.String("remote", remote), zap.Error(err))
		}
	}
}

// Stop gracefully shuts down the TCP server and closes the line channel.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		close(s.lineChan)
	})
	return nil
}

// Lines returns the channel of received lines.
func (s *Server) Lines() <-chan Line {
	return s.lineChan
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Forward decodes every received line and submits it to sink until the line
// channel is closed or ctx is done. It returns the number of submitted samples.
func (s *Server) Forward(ctx context.Context, sink model.SampleSink) int {
	submitted := 0
	for {
		select {
		case line, ok := <-s.lineChan:
			if !ok {
				return submitted
			}
			sample, err := ingest.DecodeSample(line.Data)
			if err != nil {
				s.logger.Debug("tcpserver: skipping line", zap.String("remote", line.Remote), zap.Error(err))
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
