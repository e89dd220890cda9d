package httpserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/broadcast"
	"github.com/tinytelemetry/beacon/internal/exposition"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/otlpexport"
)

// Snapshotter is the narrow store contract required by the OTLP endpoint.
type Snapshotter interface {
	Snapshot() aggregate.Snapshot
}

// Paths selects which endpoints are mounted and where. Paths are given
// without a leading slash.
type Paths struct {
	Metrics          string
	MetricsEnabled   bool
	Dashboard        string
	DashboardEnabled bool
	OTLP             string
	OTLPEnabled      bool
}

// DefaultPaths enables every endpoint at its default location.
func DefaultPaths() Paths {
	return Paths{
		Metrics:          model.DefaultMetricsPath,
		MetricsEnabled:   true,
		Dashboard:        model.DefaultMetricsPath,
		DashboardEnabled: true,
		OTLP:             model.DefaultOTLPPath,
		OTLPEnabled:      true,
	}
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Store      Snapshotter
	Formatter  *exposition.Formatter
	Scheduler  *broadcast.Scheduler
	OTLP       otlpexport.Options
	Paths      Paths
	Stats      func() model.Stats
	Middleware []gin.HandlerFunc
	// Register mounts application routes next to the telemetry endpoints.
	Register func(gin.IRoutes)
	Logger   *zap.Logger
}

// Server serves the pull, push, OTLP and health endpoints.
type Server struct {
	addr      string
	deps      Deps
	logger    *zap.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	handlerOnce sync.Once
	handler     http.Handler
}

// NewServer creates a new HTTP server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin engine once and returns it.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(s.deps.Middleware...)
		s.Mount(r)
		if s.deps.Register != nil {
			s.deps.Register(r)
		}
		s.handler = r
	})
	return s.handler
}

// Mount registers the telemetry endpoints on r.
func (s *Server) Mount(r gin.IRoutes) {
	p := s.deps.Paths
	r.GET("/api/health", s.handleHealth)

	metrics := p.MetricsEnabled && s.deps.Formatter != nil
	dashboard := p.DashboardEnabled && s.deps.Scheduler != nil

	switch {
	case metrics && dashboard && route(p.Metrics) == route(p.Dashboard):
		r.GET(route(p.Metrics), s.handleMetricsOrUpgrade)
	default:
		if metrics {
			r.GET(route(p.Metrics), s.handleMetrics)
		}
		if dashboard {
			r.GET(route(p.Dashboard), s.handleDashboard)
		}
	}

	if p.OTLPEnabled && s.deps.Store != nil {
		r.GET(route(p.OTLP), s.handleOTLP)
	}
}

func route(path string) string {
	return "/" + strings.Trim(path, "/")
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the listen address, resolved after Start.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server. Websocket subscribers are
// released through the base context.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.deps.Stats != nil {
		body["subscribers"] = s.deps.Stats().Subscribers
	} else if s.deps.Scheduler != nil {
		body["subscribers"] = s.deps.Scheduler.Registry().Len()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.Data(http.StatusOK, exposition.ContentType, s.deps.Formatter.Bytes())
}

func (s *Server) handleMetricsOrUpgrade(c *gin.Context) {
	if isWebsocketUpgrade(c.Request) {
		s.handleDashboard(c)
		return
	}
	s.handleMetrics(c)
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (s *Server) handleDashboard(c *gin.Context) {
	if !isWebsocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboards are served from other origins
	})
	if err != nil {
		s.logger.Warn("httpserver: websocket accept failed", zap.Error(err))
		return
	}
	s.serveSubscriber(c.Request.Context(), conn)
}

func (s *Server) handleOTLP(c *gin.Context) {
	data, err := otlpexport.Marshal(s.deps.Store.Snapshot(), s.deps.OTLP)
	if err != nil {
		s.logger.Error("httpserver: otlp export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode metrics"})
		return
	}
	c.Data(http.StatusOK, otlpexport.ContentType, data)
}
