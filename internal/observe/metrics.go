// SPDX-License-Identifier: MIT

// Package observe provides the OpenTelemetry metric instruments of the
// streaming pipeline and the Prometheus bridge that serves them on /metrics.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider] (for
// example one backed by a ManualReader) to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/zmk5566/Crowd-Sonic"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// ChunksCaptured counts capture chunks accepted by the hand-off.
	ChunksCaptured metric.Int64Counter

	// FramesAnalyzed counts spectra computed by the engine.
	FramesAnalyzed metric.Int64Counter

	// FramesGated counts gate decisions. Use with attribute:
	//   attribute.String("reason", "emitted"|"rate_limited"|"redundant")
	FramesGated metric.Int64Counter

	// FramesDelivered counts frames handed to subscriber transports.
	FramesDelivered metric.Int64Counter

	// BytesDelivered counts compressed payload bytes delivered.
	BytesDelivered metric.Int64Counter

	// FramesDropped counts messages discarded by a full queue. Use with
	// attribute:
	//   attribute.String("queue", "handoff"|"subscriber")
	FramesDropped metric.Int64Counter

	// Subscribers tracks the number of connected subscribers.
	Subscribers metric.Int64UpDownCounter

	// AnalysisDuration tracks the time spent per spectrum.
	AnalysisDuration metric.Float64Histogram

	// CompressionRatio tracks compressed/original size per emitted frame.
	CompressionRatio metric.Float64Histogram
}

// analysisBuckets are histogram boundaries in seconds for one FFT pass.
var analysisBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
}

var ratioBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

var (
	attrHandoff    = metric.WithAttributes(attribute.String("queue", "handoff"))
	attrSubscriber = metric.WithAttributes(attribute.String("queue", "subscriber"))
)

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksCaptured, err = m.Int64Counter("crowdsonic.chunks.captured",
		metric.WithDescription("Capture chunks accepted by the hand-off queue."),
	); err != nil {
		return nil, err
	}
	if met.FramesAnalyzed, err = m.Int64Counter("crowdsonic.frames.analyzed",
		metric.WithDescription("Spectra computed by the spectral engine."),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("crowdsonic.frames.gated",
		metric.WithDescription("Frame gate decisions by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesDelivered, err = m.Int64Counter("crowdsonic.frames.delivered",
		metric.WithDescription("Frames delivered to subscribers."),
	); err != nil {
		return nil, err
	}
	if met.BytesDelivered, err = m.Int64Counter("crowdsonic.bytes.delivered",
		metric.WithDescription("Compressed payload bytes delivered to subscribers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("crowdsonic.frames.dropped",
		metric.WithDescription("Messages discarded by full queues."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("crowdsonic.subscribers",
		metric.WithDescription("Number of connected subscribers."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("crowdsonic.analysis.duration",
		metric.WithDescription("Time spent computing one spectrum."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompressionRatio, err = m.Float64Histogram("crowdsonic.compression.ratio",
		metric.WithDescription("Compressed over original payload size."),
		metric.WithExplicitBucketBoundaries(ratioBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// The methods below adapt the instruments to the pipeline's event hooks.

func (m *Metrics) FrameDelivered(bytes int) {
	ctx := context.Background()
	m.FramesDelivered.Add(ctx, 1)
	m.BytesDelivered.Add(ctx, int64(bytes))
}

func (m *Metrics) FrameDropped() {
	m.FramesDropped.Add(context.Background(), 1, attrSubscriber)
}

func (m *Metrics) SubscribersChanged(delta int) {
	m.Subscribers.Add(context.Background(), int64(delta))
}

func (m *Metrics) ChunkCaptured() {
	m.ChunksCaptured.Add(context.Background(), 1)
}

func (m *Metrics) HandoffDropped() {
	m.FramesDropped.Add(context.Background(), 1, attrHandoff)
}

func (m *Metrics) Analyzed(d time.Duration) {
	ctx := context.Background()
	m.FramesAnalyzed.Add(ctx, 1)
	m.AnalysisDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) Gated(reason string) {
	m.FramesGated.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Encoded(ratio float64) {
	m.CompressionRatio.Record(context.Background(), ratio)
}
