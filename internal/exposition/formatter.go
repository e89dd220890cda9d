// Package exposition renders the cumulative aggregate view in the
// Prometheus text format (version 0.0.4).
package exposition

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
	"github.com/tinytelemetry/beacon/internal/quantile"
)

// ContentType is the media type of the rendered output.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Snapshotter provides the cumulative view to render. aggregate.Store satisfies it.
type Snapshotter interface {
	Snapshot() aggregate.Snapshot
}

// Formatter renders snapshots. It holds no mutable state and may be shared
// by any number of concurrent scrapers.
type Formatter struct {
	source    Snapshotter
	quantiles []float64
	logger    *zap.Logger
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithQuantiles overrides the quantiles rendered for every summary.
func WithQuantiles(qs []float64) Option {
	return func(f *Formatter) {
		f.quantiles = append([]float64(nil), qs...)
	}
}

// WithLogger sets the logger used for skipped quantile lines.
func WithLogger(l *zap.Logger) Option {
	return func(f *Formatter) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a formatter over source. It fails when a configured quantile
// lies outside (0,1].
func New(source Snapshotter, opts ...Option) (*Formatter, error) {
	f := &Formatter{
		source:    source,
		quantiles: append([]float64(nil), model.DefaultQuantiles...),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := quantile.ValidateQuantiles(f.quantiles); err != nil {
		return nil, fmt.Errorf("exposition: %w", err)
	}
	return f, nil
}

// Quantiles returns a copy of the rendered quantiles.
func (f *Formatter) Quantiles() []float64 {
	return append([]float64(nil), f.quantiles...)
}

// Render writes the current snapshot to w.
func (f *Formatter) Render(w io.Writer) error {
	_, err := w.Write(f.Bytes())
	return err
}

// Bytes renders the current snapshot.
func (f *Formatter) Bytes() []byte {
	var buf bytes.Buffer
	f.write(&buf, f.source.Snapshot())
	return buf.Bytes()
}

// Format renders snap with the given quantiles. Invalid quantiles are skipped.
func Format(snap aggregate.Snapshot, quantiles []float64) []byte {
	f := &Formatter{quantiles: quantiles, logger: zap.NewNop()}
	var buf bytes.Buffer
	f.write(&buf, snap)
	return buf.Bytes()
}

func (f *Formatter) write(buf *bytes.Buffer, snap aggregate.Snapshot) {
	if snap.CPU != nil {
		writeGauge(buf, aggregate.OSCPUUsedRatio, snap.CPU.System)
		writeGauge(buf, aggregate.ProcessCPUUsedRatio, snap.CPU.Process)
	}
	if snap.Memory != nil {
		writeGauge(buf, aggregate.OSResidentMemory, float64(snap.Memory.SystemBytes))
		writeGauge(buf, aggregate.ProcessResident, float64(snap.Memory.ProcessBytes))
		writeGauge(buf, aggregate.ProcessVirtual, float64(snap.Memory.VirtualBytes))
	}

	writeCounter(buf, aggregate.HTTPRequestsTotal, snap.Requests)
	writeCounter(buf, aggregate.HTTPRequestErrors, snap.Errors)
	f.writeSummary(buf, aggregate.HTTPRequestDuration, snap.Durations)
}

func writeHeader(buf *bytes.Buffer, name, typ string) {
	buf.WriteString("# HELP ")
	buf.WriteString(name)
	buf.WriteByte(' ')
	buf.WriteString(helpEscaper.Replace(aggregate.Help(name)))
	buf.WriteString("\n# TYPE ")
	buf.WriteString(name)
	buf.WriteByte(' ')
	buf.WriteString(typ)
	buf.WriteByte('\n')
}

func writeGauge(buf *bytes.Buffer, name string, v float64) {
	writeHeader(buf, name, "gauge")
	writeSample(buf, name, nil, "", "", formatFloat(v))
}

func writeCounter(buf *bytes.Buffer, name string, values []aggregate.CounterValue) {
	writeHeader(buf, name, "counter")
	for _, v := range values {
		writeSample(buf, name, v.Labels, "", "", strconv.FormatUint(v.Count, 10))
	}
}

func (f *Formatter) writeSummary(buf *bytes.Buffer, name string, values []aggregate.SummaryValue) {
	writeHeader(buf, name, "summary")
	for _, v := range values {
		for _, q := range f.quantiles {
			qv, err := v.Series.Quantile(q)
			if err != nil {
				f.logger.Debug("exposition: skipping quantile",
					zap.String("family", name),
					zap.Float64("quantile", q),
					zap.Error(err))
				continue
			}
			writeSample(buf, name, v.Labels, "quantile", strconv.FormatFloat(q, 'f', -1, 64), formatFloat(qv))
		}
		writeSample(buf, name+"_sum", v.Labels, "", "", formatFloat(v.Series.Sum()))
		writeSample(buf, name+"_count", v.Labels, "", "", strconv.Itoa(v.Series.Count()))
	}
}

// writeSample writes one data line. extraName/extraValue, when set, is
// appended as the last label.
func writeSample(buf *bytes.Buffer, name string, labels model.LabelSet, extraName, extraValue, value string) {
	buf.WriteString(name)
	if len(labels) > 0 || extraName != "" {
		buf.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeLabel(buf, l.Name, l.Value)
		}
		if extraName != "" {
			if len(labels) > 0 {
				buf.WriteByte(',')
			}
			writeLabel(buf, extraName, extraValue)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(' ')
	buf.WriteString(value)
	buf.WriteByte('\n')
}

func writeLabel(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(`="`)
	buf.WriteString(EscapeLabelValue(value))
	buf.WriteByte('"')
}

var (
	labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
)

// EscapeLabelValue escapes backslash, double quote and newline.
func EscapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case v == math.Trunc(v) && math.Abs(v) < 1e15:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
