package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/tinytelemetry/beacon/internal/middleware"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/quantile"
	"github.com/tinytelemetry/beacon/internal/socketrpc"
)

const (
	defaultBindHost           = "127.0.0.1"
	defaultAPIPort            = 3000
	defaultFeedPort           = 4000
	defaultBroadcastInterval  = model.DefaultBroadcastInterval
	defaultSampleInterval     = model.DefaultSampleInterval
	defaultCorrelatorCapacity = model.DefaultCorrelatorCapacity
	defaultIngestBuffer       = model.DefaultIngestBuffer
	defaultLogLevel           = "info"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host               string        `mapstructure:"host"`
	APIPort            int           `mapstructure:"api-port"`
	APIAddr            string        `mapstructure:"api-addr"`
	MetricsEnabled     bool          `mapstructure:"metrics-enabled"`
	MetricsPath        string        `mapstructure:"metrics-path"`
	DashboardEnabled   bool          `mapstructure:"dashboard-enabled"`
	DashboardPath      string        `mapstructure:"dashboard-path"`
	OTLPEnabled        bool          `mapstructure:"otlp-enabled"`
	OTLPPath           string        `mapstructure:"otlp-path"`
	BroadcastInterval  time.Duration `mapstructure:"broadcast-interval"`
	SampleInterval     time.Duration `mapstructure:"sample-interval"`
	SamplerEnabled     bool          `mapstructure:"sampler-enabled"`
	CorrelatorCapacity int           `mapstructure:"correlator-capacity"`
	IngestBuffer       int           `mapstructure:"ingest-buffer"`
	PathLabel          string        `mapstructure:"path-label"`
	Quantiles          []float64     `mapstructure:"quantiles"`
	FeedEnabled        bool          `mapstructure:"feed-enabled"`
	FeedPort           int           `mapstructure:"feed-port"`
	FeedAddr           string        `mapstructure:"feed-addr"`
	SocketPath         string        `mapstructure:"socket-path"`
	LogLevel           string        `mapstructure:"log-level"`
	Title              string        `mapstructure:"title"`
	ConfigPath         string        `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BEACON")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("metrics-path", model.DefaultMetricsPath)
	v.SetDefault("dashboard-enabled", true)
	v.SetDefault("dashboard-path", model.DefaultMetricsPath)
	v.SetDefault("otlp-enabled", true)
	v.SetDefault("otlp-path", model.DefaultOTLPPath)
	v.SetDefault("broadcast-interval", defaultBroadcastInterval)
	v.SetDefault("sample-interval", defaultSampleInterval)
	v.SetDefault("sampler-enabled", true)
	v.SetDefault("correlator-capacity", defaultCorrelatorCapacity)
	v.SetDefault("ingest-buffer", defaultIngestBuffer)
	v.SetDefault("path-label", middleware.PathLabelSegment)
	v.SetDefault("quantiles", model.DefaultQuantiles)
	v.SetDefault("feed-enabled", false)
	v.SetDefault("feed-port", defaultFeedPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("title", model.DefaultTitle)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "beacon", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	// Expand ~ in socket-path
	if strings.HasPrefix(cfg.SocketPath, "~/") {
		cfg.SocketPath = filepath.Join(home, cfg.SocketPath[2:])
	}

	cfg.MetricsPath = strings.Trim(cfg.MetricsPath, "/")
	cfg.DashboardPath = strings.Trim(cfg.DashboardPath, "/")
	cfg.OTLPPath = strings.Trim(cfg.OTLPPath, "/")
	cfg.PathLabel = strings.ToLower(cfg.PathLabel)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	if cfg.FeedAddr == "" {
		cfg.FeedAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.FeedPort))
	}

	return cfg, nil
}

func (cfg appConfig) validate() error {
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.FeedPort <= 0 || cfg.FeedPort > 65535 {
		return fmt.Errorf("invalid feed-port: %d", cfg.FeedPort)
	}
	if cfg.BroadcastInterval <= 0 {
		return fmt.Errorf("invalid broadcast-interval: %s", cfg.BroadcastInterval)
	}
	if cfg.SampleInterval <= 0 {
		return fmt.Errorf("invalid sample-interval: %s", cfg.SampleInterval)
	}
	if cfg.CorrelatorCapacity <= 0 {
		return fmt.Errorf("invalid correlator-capacity: %d", cfg.CorrelatorCapacity)
	}
	if cfg.IngestBuffer <= 0 {
		return fmt.Errorf("invalid ingest-buffer: %d", cfg.IngestBuffer)
	}
	if err := middleware.ValidatePathLabel(cfg.PathLabel); err != nil {
		return fmt.Errorf("invalid path-label: %w", err)
	}
	if len(cfg.Quantiles) == 0 {
		return errors.New("invalid quantiles: at least one quantile is required")
	}
	if err := quantile.ValidateQuantiles(cfg.Quantiles); err != nil {
		return fmt.Errorf("invalid quantiles: %w", err)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	if cfg.MetricsEnabled && cfg.OTLPEnabled && strings.Trim(cfg.MetricsPath, "/") == strings.Trim(cfg.OTLPPath, "/") {
		return fmt.Errorf("otlp-path %q collides with metrics-path", cfg.OTLPPath)
	}
	return nil
}
