package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/socketrpc"
)

type outputFormat int

const (
	formatText outputFormat = iota
	formatJSON
	formatYAML
)

func parseFormat(s string) (outputFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return formatText, nil
	case "json":
		return formatJSON, nil
	case "yaml", "yml":
		return formatYAML, nil
	}
	return formatText, fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func render(w io.Writer, format outputFormat, v any, text func() string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, text())
		return err
	}
}

func section(b *strings.Builder, title string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")
}

func row(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-22s", name)), valueStyle.Render(value))
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "(all)"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, " ")
}

func formatQuantiles(qs map[string]float64) string {
	keys := make([]string, 0, len(qs))
	for k := range qs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseFloat(keys[i], 64)
		b, _ := strconv.ParseFloat(keys[j], 64)
		return a < b
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		q, _ := strconv.ParseFloat(k, 64)
		parts[i] = fmt.Sprintf("p%s=%.1fµs", strconv.FormatFloat(math.Round(q*1e4)/100, 'f', -1, 64), qs[k])
	}
	return strings.Join(parts, " ")
}

func renderSnapshot(v socketrpc.SnapshotView) string {
	var b strings.Builder

	section(&b, "Gauges")
	if v.CPU == nil && v.Memory == nil {
		row(&b, "sampling", "no samples yet")
	}
	if v.CPU != nil {
		row(&b, "process cpu", fmt.Sprintf("%.2f%%", v.CPU.Process*100))
		row(&b, "system cpu", fmt.Sprintf("%.2f%%", v.CPU.System*100))
	}
	if v.Memory != nil {
		row(&b, "process resident", humanBytes(v.Memory.ProcessBytes))
		row(&b, "process virtual", humanBytes(v.Memory.VirtualBytes))
		row(&b, "system used", humanBytes(v.Memory.SystemBytes))
	}

	section(&b, "Requests")
	if len(v.Requests) == 0 {
		row(&b, "requests", "none")
	}
	for _, c := range v.Requests {
		row(&b, formatLabels(c.Labels), strconv.FormatUint(c.Count, 10))
	}

	if len(v.Errors) > 0 {
		section(&b, "Errors")
		for _, c := range v.Errors {
			row(&b, formatLabels(c.Labels), strconv.FormatUint(c.Count, 10))
		}
	}

	section(&b, "Durations")
	if len(v.Durations) == 0 {
		row(&b, "durations", "none")
	}
	for _, d := range v.Durations {
		row(&b, formatLabels(d.Labels), fmt.Sprintf("n=%d %s", d.Count, formatQuantiles(d.Quantiles)))
	}
	return b.String()
}

func renderRolling(r aggregate.RollingSnapshot) string {
	var b strings.Builder

	section(&b, "Current interval")
	if r.Empty() {
		row(&b, "activity", "none")
		return b.String()
	}
	if r.CPU != nil {
		row(&b, "process cpu", fmt.Sprintf("%.2f%% (mean %.2f%%)", r.CPU.Process*100, r.CPU.ProcessMean*100))
		row(&b, "system cpu", fmt.Sprintf("%.2f%% (mean %.2f%%)", r.CPU.System*100, r.CPU.SystemMean*100))
	}
	if r.Memory != nil {
		row(&b, "process resident", humanBytes(r.Memory.ProcessBytes))
		row(&b, "system used", humanBytes(r.Memory.SystemBytes))
	}
	if r.HTTP != nil {
		row(&b, "requests", strconv.FormatUint(r.HTTP.Total, 10))
		row(&b, "average", fmt.Sprintf("%.3fms", r.HTTP.AverageMillis))
		row(&b, "longest", fmt.Sprintf("%.3fms %s", r.HTTP.LongestMillis, r.HTTP.LongestURL))
	}
	if len(r.URLs) > 0 {
		section(&b, "URLs")
		for _, u := range r.URLs {
			row(&b, u.URL, fmt.Sprintf("hits=%d avg=%.3fms max=%.3fms", u.Hits, u.AverageMillis, u.LongestMillis))
		}
	}
	return b.String()
}

func renderStats(s model.Stats) string {
	var b strings.Builder

	section(&b, "Beacon")
	row(&b, "started", s.StartedAt.Format("2006-01-02 15:04:05"))
	row(&b, "uptime", s.Uptime)
	row(&b, "subscribers", strconv.Itoa(s.Subscribers))

	section(&b, "Correlator")
	row(&b, "in flight", strconv.Itoa(s.InFlight))
	row(&b, "evicted", strconv.FormatUint(s.Evicted, 10))
	row(&b, "misses", strconv.FormatUint(s.Misses, 10))

	section(&b, "Ingest")
	row(&b, "applied", strconv.FormatUint(s.Applied, 10))
	row(&b, "dropped", strconv.FormatUint(s.Dropped, 10))
	row(&b, "pending", strconv.Itoa(s.Pending))
	return b.String()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
