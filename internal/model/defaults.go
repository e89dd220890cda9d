package model

import "time"

// Shared defaults used by the server binary and the library packages.
const (
	DefaultBroadcastInterval  = 2 * time.Second
	DefaultSampleInterval     = 5 * time.Second
	DefaultCorrelatorCapacity = 1000
	DefaultIngestBuffer       = 10_000
	DefaultMetricsPath        = "metrics"
	DefaultOTLPPath           = "metrics/otlp"
	DefaultTitle              = "Application Metrics for Go"
	DefaultDocsURL            = "https://github.com/tinytelemetry/beacon"
)

// DefaultQuantiles are the quantiles rendered for every duration summary.
var DefaultQuantiles = []float64{0.5, 0.9, 0.99}
