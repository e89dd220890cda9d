// Package otlpexport converts the cumulative aggregate view into OTLP
// metrics so OpenTelemetry tooling can scrape the same data as Prometheus.
package otlpexport

import (
	"fmt"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
)

// ContentType is the media type of Marshal output.
const ContentType = "application/x-protobuf"

const scopeName = "github.com/tinytelemetry/beacon"

// Options controls resource attributes and rendered quantiles.
type Options struct {
	ServiceName  string
	ScopeVersion string
	Quantiles    []float64 // defaults to model.DefaultQuantiles
}

// Convert maps snap into an OTLP MetricsData message. Gauges become Gauge
// metrics, counters monotonic cumulative Sums and durations Summaries.
func Convert(snap aggregate.Snapshot, opts Options) *metricspb.MetricsData {
	qs := opts.Quantiles
	if len(qs) == 0 {
		qs = model.DefaultQuantiles
	}
	start := uint64(snap.StartedAt.UnixNano())
	now := uint64(snap.TakenAt.UnixNano())

	var metrics []*metricspb.Metric
	if snap.CPU != nil {
		ts := uint64(snap.CPUTime.UnixNano())
		metrics = append(metrics,
			gauge(aggregate.OSCPUUsedRatio, "1", ts, snap.CPU.System),
			gauge(aggregate.ProcessCPUUsedRatio, "1", ts, snap.CPU.Process),
		)
	}
	if snap.Memory != nil {
		ts := uint64(snap.MemoryTime.UnixNano())
		metrics = append(metrics,
			gauge(aggregate.OSResidentMemory, "By", ts, float64(snap.Memory.SystemBytes)),
			gauge(aggregate.ProcessResident, "By", ts, float64(snap.Memory.ProcessBytes)),
			gauge(aggregate.ProcessVirtual, "By", ts, float64(snap.Memory.VirtualBytes)),
		)
	}
	if len(snap.Requests) > 0 {
		metrics = append(metrics, sum(aggregate.HTTPRequestsTotal, snap.Requests, start, now))
	}
	if len(snap.Errors) > 0 {
		metrics = append(metrics, sum(aggregate.HTTPRequestErrors, snap.Errors, start, now))
	}
	if len(snap.Durations) > 0 {
		metrics = append(metrics, summary(aggregate.HTTPRequestDuration, snap.Durations, qs, start, now))
	}

	var resAttrs []*commonpb.KeyValue
	if opts.ServiceName != "" {
		resAttrs = append(resAttrs, stringAttr("service.name", opts.ServiceName))
	}

	return &metricspb.MetricsData{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{Attributes: resAttrs},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: scopeName, Version: opts.ScopeVersion},
				Metrics: metrics,
			}},
		}},
	}
}

// Marshal converts and encodes snap in the protobuf wire format.
func Marshal(snap aggregate.Snapshot, opts Options) ([]byte, error) {
	data, err := proto.Marshal(Convert(snap, opts))
	if err != nil {
		return nil, fmt.Errorf("otlpexport: marshal: %w", err)
	}
	return data, nil
}

func gauge(name, unit string, ts uint64, v float64) *metricspb.Metric {
	return &metricspb.Metric{
		Name:        name,
		Description: aggregate.Help(name),
		Unit:        unit,
		Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
			DataPoints: []*metricspb.NumberDataPoint{{
				TimeUnixNano: ts,
				Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: v},
			}},
		}},
	}
}

func sum(name string, values []aggregate.CounterValue, start, now uint64) *metricspb.Metric {
	points := make([]*metricspb.NumberDataPoint, 0, len(values))
	for _, v := range values {
		points = append(points, &metricspb.NumberDataPoint{
			Attributes:        attributes(v.Labels),
			StartTimeUnixNano: start,
			TimeUnixNano:      now,
			Value:             &metricspb.NumberDataPoint_AsInt{AsInt: int64(v.Count)},
		})
	}
	return &metricspb.Metric{
		Name:        name,
		Description: aggregate.Help(name),
		Unit:        "{request}",
		Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
			DataPoints:             points,
			AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
			IsMonotonic:            true,
		}},
	}
}

func summary(name string, values []aggregate.SummaryValue, qs []float64, start, now uint64) *metricspb.Metric {
	points := make([]*metricspb.SummaryDataPoint, 0, len(values))
	for _, v := range values {
		dp := &metricspb.SummaryDataPoint{
			Attributes:        attributes(v.Labels),
			StartTimeUnixNano: start,
			TimeUnixNano:      now,
			Count:             uint64(v.Series.Count()),
			Sum:               v.Series.Sum(),
		}
		for _, q := range qs {
			qv, err := v.Series.Quantile(q)
			if err != nil {
				continue
			}
			dp.QuantileValues = append(dp.QuantileValues, &metricspb.SummaryDataPoint_ValueAtQuantile{
				Quantile: q,
				Value:    qv,
			})
		}
		points = append(points, dp)
	}
	return &metricspb.Metric{
		Name:        name,
		Description: aggregate.Help(name),
		Unit:        "us",
		Data:        &metricspb.Metric_Summary{Summary: &metricspb.Summary{DataPoints: points}},
	}
}

func attributes(labels model.LabelSet) []*commonpb.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, len(labels))
	for i, l := range labels {
		out[i] = stringAttr(l.Name, l.Value)
	}
	return out
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}
