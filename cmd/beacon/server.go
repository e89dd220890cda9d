package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/beacon/internal/httpserver"
	"github.com/tinytelemetry/beacon/internal/otlpexport"
	"github.com/tinytelemetry/beacon/internal/socketrpc"
)

// runServer starts the instrumented HTTP server and the telemetry pipeline.
func runServer(cfg appConfig) error {
	logger, cleanupLogger := configureRuntimeLogger(cfg.LogLevel)
	defer cleanupLogger()

	gin.SetMode(gin.ReleaseMode)

	pipe, err := newPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe.start(ctx)
	defer pipe.stop()

	apiServer := httpserver.NewServer(cfg.APIAddr, httpserver.Deps{
		Store:     pipe.store,
		Formatter: pipe.formatter,
		Scheduler: pipe.scheduler,
		OTLP: otlpexport.Options{
			ServiceName:  "beacon",
			ScopeVersion: version,
			Quantiles:    cfg.Quantiles,
		},
		Paths: httpserver.Paths{
			Metrics:          cfg.MetricsPath,
			MetricsEnabled:   cfg.MetricsEnabled,
			Dashboard:        cfg.DashboardPath,
			DashboardEnabled: cfg.DashboardEnabled,
			OTLP:             cfg.OTLPPath,
			OTLPEnabled:      cfg.OTLPEnabled,
		},
		Stats:      pipe.Stats,
		Middleware: []gin.HandlerFunc{pipe.middleware()},
		Register:   registerDemoRoutes,
		Logger:     logger,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	defer apiServer.Stop()

	// Start socket RPC server for beaconctl
	socketOK := true
	sockServer := socketrpc.NewServer(cfg.SocketPath, pipe, logger)
	if err := sockServer.Start(); err != nil {
		logger.Warn("socketrpc: failed to start", zap.Error(err))
		socketOK = false
	} else {
		defer sockServer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.FeedEnabled,
		TCPAddr:    cfg.FeedAddr,
		Logger:     logger,
	})

	feeds := make([]FeedSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Error("feed: failed to initialize input plugin", zap.String("plugin", plugin.Name()), zap.Error(err))
			continue
		}
		feeds = append(feeds, src)
	}

	printStartupBanner(cfg, apiServer.Addr(), feeds, socketOK)
	logger.Info("beacon: started",
		zap.String("addr", apiServer.Addr()),
		zap.Duration("broadcast_interval", pipe.scheduler.Interval()),
		zap.Float64s("quantiles", pipe.formatter.Quantiles()),
		zap.Bool("sampler", pipe.sampler != nil))

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			n := feed.Forward(gctx, pipe.ingestor)
			logger.Info("feed: closed", zap.String("feed", feed.Name()), zap.Int("submitted", n))
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("beacon: errgroup exited with error", zap.Error(err))
	}

	cancel()
	for _, feed := range feeds {
		if err := feed.Stop(); err != nil {
			logger.Warn("feed: stop failed", zap.String("feed", feed.Name()), zap.Error(err))
		}
	}

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

// registerDemoRoutes mounts the sample application routes the middleware observes.
func registerDemoRoutes(r gin.IRoutes) {
	r.GET("/hello", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "hello"})
	})
	r.GET("/posts/:id", func(c *gin.Context) {
		if c.Param("id") == "fail" {
			_ = c.Error(fmt.Errorf("post %q not available", c.Param("id")))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "post not available"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// configureRuntimeLogger tees info-and-below to the state log file and
// errors to both the file and stderr.
func configureRuntimeLogger(level string) (*zap.Logger, func()) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	lowPriority := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= lvl
	})
	highPriority := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel && l >= lvl
	})

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	stderr := zapcore.Lock(os.Stderr)

	file, err := openLogFile()
	if err != nil {
		core := zapcore.NewCore(encoder, stderr, lowPriority)
		return zap.New(core, zap.AddCaller()), func() {}
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(file), lowPriority),
		zapcore.NewCore(encoder, stderr, highPriority),
	)
	logger := zap.New(core, zap.AddCaller())
	return logger, func() {
		_ = logger.Sync()
		_ = file.Close()
	}
}

func openLogFile() (*os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	logDir := filepath.Join(home, ".local", "state", "beacon")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logDir, "beacon.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func printStartupBanner(cfg appConfig, addr string, feeds []FeedSource, socketOK bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╗ ╔═╗╔═╗╔═╗╔═╗╔╗╔
    ╠╩╗║╣ ╠═╣║  ║ ║║║║
    ╚═╝╚═╝╩ ╩╚═╝╚═╝╝╚╝`)

	ver := dim.Render("v" + version)

	endpoint := func(name string, enabled bool, path string) string {
		if !enabled {
			return fmt.Sprintf("    %s  %-14s %s", dot, name, dim.Render("disabled"))
		}
		return fmt.Sprintf("    %s  %-14s %s", check, name, cyan.Render("http://"+addr+"/"+path))
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Endpoints
	lines = append(lines, bold.Render("    Endpoints"))
	lines = append(lines, "")
	lines = append(lines, endpoint("Metrics", cfg.MetricsEnabled, cfg.MetricsPath))
	lines = append(lines, endpoint("Dashboard", cfg.DashboardEnabled, cfg.DashboardPath))
	lines = append(lines, endpoint("OTLP", cfg.OTLPEnabled, cfg.OTLPPath))
	lines = append(lines, endpoint("Health", true, "api/health"))
	if socketOK {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Unix Socket", cyan.Render(shortenPath(cfg.SocketPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Unix Socket", dim.Render("unavailable")))
	}
	lines = append(lines, "")

	// Feeds
	lines = append(lines, bold.Render("    Feeds"))
	lines = append(lines, "")
	if len(feeds) == 0 {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Samples", dim.Render("none")))
	}
	for _, f := range feeds {
		target := "pipe"
		if f.Name() == "tcp" {
			target = cfg.FeedAddr
		}
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, strings.ToUpper(f.Name()), cyan.Render(target)))
	}
	lines = append(lines, "")

	// Runtime
	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Broadcast", dim.Render(cfg.BroadcastInterval.String())))
	if cfg.SamplerEnabled {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Sampler", dim.Render(cfg.SampleInterval.String())))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Sampler", dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Path Label", dim.Render(cfg.PathLabel)))

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
