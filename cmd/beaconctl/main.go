package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tinytelemetry/beacon/internal/quantile"
	"github.com/tinytelemetry/beacon/internal/socketrpc"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const usage = `Usage: beaconctl [flags] [command]

Commands:
  snapshot     cumulative counters and duration quantiles (default)
  rolling      current broadcast interval, without resetting it
  stats        pipeline health counters
  exposition   text exposition as served on the metrics endpoint

Flags:
`

func main() {
	var configPath string
	var socketPath string
	var output string
	var quantiles string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/beacon/config.yml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path to connect to the beacon service")
	flag.StringVar(&output, "o", "text", "output format: text, json or yaml")
	flag.StringVar(&quantiles, "q", "", "comma-separated quantiles for snapshot (default from config)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("Beacon CLI - Socket Client\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if quantiles != "" {
		qs, err := parseQuantiles(quantiles)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		cfg.Quantiles = qs
	}

	command := "snapshot"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	if err := run(os.Stdout, cfg, command, output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, cfg cliConfig, command, output string) error {
	format, err := parseFormat(output)
	if err != nil {
		return err
	}

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to beacon service at %s: %w\nIs the beacon service running? Start it with: beacon", cfg.SocketPath, err)
	}
	defer client.Close()

	switch command {
	case "snapshot":
		view, err := client.Snapshot(cfg.Quantiles)
		if err != nil {
			return err
		}
		return render(w, format, view, func() string { return renderSnapshot(view) })
	case "rolling":
		roll, err := client.Rolling()
		if err != nil {
			return err
		}
		return render(w, format, roll, func() string { return renderRolling(roll) })
	case "stats":
		stats, err := client.Stats()
		if err != nil {
			return err
		}
		return render(w, format, stats, func() string { return renderStats(stats) })
	case "exposition", "prom":
		text, err := client.Exposition()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, text)
		return err
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseQuantiles(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	qs := make([]float64, 0, len(parts))
	for _, p := range parts {
		q, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantile %q: %w", p, err)
		}
		qs = append(qs, q)
	}
	if err := quantile.ValidateQuantiles(qs); err != nil {
		return nil, err
	}
	return qs, nil
}
