package httpserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/tinytelemetry/beacon/internal/broadcast"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	sendBuffer   = 64
)

// wsSubscriber adapts a websocket connection to broadcast.Subscriber.
// Send only enqueues; writePump owns the connection writes.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(_ context.Context, msg []byte) error {
	select {
	case <-s.closed:
		return broadcast.ErrSubscriberClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.closed:
		return broadcast.ErrSubscriberClosed
	default:
		return broadcast.ErrSubscriberSlow
	}
}

func (s *wsSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.conn.Close(websocket.StatusGoingAway, "bye")
	})
	return err
}

func (s *wsSubscriber) writePump(ctx context.Context) {
	for {
		select {
		case msg := <-s.send:
			if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *wsSubscriber) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and returns when the connection ends.
// Reads are required for pings and close frames to be processed.
func (s *wsSubscriber) readPump(ctx context.Context) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout+pingInterval)
		_, _, err := s.conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
	}
}

// serveSubscriber upgrades the request and blocks until the client leaves.
func (s *Server) serveSubscriber(ctx context.Context, conn *websocket.Conn) {
	sub := newWSSubscriber(conn)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sub.writePump(ctx)
	go sub.pingLoop(ctx)

	if err := s.deps.Scheduler.Subscribe(ctx, sub); err != nil {
		s.logger.Warn("httpserver: subscribe failed", zap.Error(err))
		sub.Close()
		return
	}

	sub.readPump(ctx)
	s.deps.Scheduler.Unsubscribe(sub)
	sub.Close()
}
