// SPDX-License-Identifier: MIT

// Package pipeline wires capture, analysis, gating, encoding and
// broadcasting into one service and exposes it to the control surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/analysis"
	"github.com/zmk5566/Crowd-Sonic/internal/audio"
	"github.com/zmk5566/Crowd-Sonic/internal/codec"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/observe"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("pipeline: closed")

// Observer receives every pipeline and broadcaster event.
type Observer interface {
	Metrics
	stream.Metrics
}

// Status is the summary served by the status endpoint.
type Status struct {
	IsRunning        bool    `json:"is_running"`
	CurrentFPS       float64 `json:"current_fps"`
	ConnectedClients int     `json:"connected_clients"`
	TotalFramesSent  uint64  `json:"total_frames_sent"`
	TotalBytesSent   uint64  `json:"total_bytes_sent"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	AudioDeviceName  string  `json:"audio_device_name"`
	LastError        string  `json:"last_error,omitempty"`
}

// AnalysisInfo describes the fixed analysis parameters and throughput.
type AnalysisInfo struct {
	analysis.EngineStats
	FFTSize             int     `json:"fft_size"`
	SampleRate          float64 `json:"sample_rate"`
	Window              string  `json:"window"`
	Bins                int     `json:"bins"`
	FrequencyResolution float64 `json:"frequency_resolution_hz"`
	HopSize             int     `json:"hop_size"`
	OverlapSize         int     `json:"overlap_size"`
}

// StreamInfo combines broadcaster counters with per-subscriber detail.
type StreamInfo struct {
	stream.Stats
	Subscribers []stream.SubscriberInfo `json:"subscribers"`
}

// DetailedStats is the full diagnostic snapshot.
type DetailedStats struct {
	Timestamp float64              `json:"timestamp"` // Unix milliseconds
	Audio     audio.Stats          `json:"audio"`
	Analysis  AnalysisInfo         `json:"analysis"`
	Stream    StreamInfo           `json:"stream"`
	Bands     []analysis.BandPower `json:"bands"` // last emitted frame
	Driver    DriverStats          `json:"driver"`
	Handoff   HandoffStats         `json:"handoff"`
	Process   observe.ProcessStats `json:"process"`
	Config    struct {
		Stream config.StreamConfig `json:"stream"`
		Audio  config.AudioConfig  `json:"audio"`
	} `json:"config"`
}

// CompressionReport is the result of TestCompression.
type CompressionReport struct {
	OriginalSizeBytes   int     `json:"original_size_bytes"`
	CompressedSizeBytes int     `json:"compressed_size_bytes"`
	CompressionRatio    float64 `json:"compression_ratio"`
	CompressionTimeMS   float64 `json:"compression_time_ms"`
	DataSample          string  `json:"data_sample"`
	Timestamp           float64 `json:"timestamp"`
}

// testCompressionBins matches the spectrum length of the default 8192-point
// FFT.
const testCompressionBins = 4097

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSource replaces the capture source selected from the configuration.
func WithSource(s audio.Source) Option {
	return func(p *Pipeline) { p.source = s }
}

// WithObserver reports pipeline events, e.g. to *observe.Metrics.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithDeviceLister replaces PortAudio device enumeration.
func WithDeviceLister(fn func() ([]audio.Device, error)) Option {
	return func(p *Pipeline) { p.listDevices = fn }
}

// Pipeline is the service context shared by the control surface and the
// transports. It replaces process-wide component references.
type Pipeline struct {
	audioCfg  config.AudioConfig
	streamCfg *config.StreamStore

	source      audio.Source
	handoff     *Handoff
	engine      *analysis.Engine
	assembler   *analysis.Assembler
	codec       *codec.Codec
	driver      *Driver
	broadcaster *stream.Broadcaster
	recorder    *audio.Recorder
	observer    Observer
	listDevices func() ([]audio.Device, error)

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	runDone chan struct{}
}

// New builds every stage from cfg. Capture is not started.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	p := &Pipeline{
		audioCfg:    cfg.Audio,
		streamCfg:   config.NewStreamStore(cfg.Stream),
		listDevices: listHostDevices,
	}
	for _, opt := range opts {
		opt(p)
	}

	var pm Metrics
	var sm stream.Metrics
	if p.observer != nil {
		pm, sm = p.observer, p.observer
	}

	ecfg, err := analysis.NewEngineConfig(cfg.Audio, cfg.Analysis)
	if err != nil {
		return nil, err
	}
	if p.engine, err = analysis.NewEngine(ecfg); err != nil {
		return nil, err
	}
	if p.assembler, err = analysis.NewAssembler(cfg.Audio.FFTSize, cfg.Audio.OverlapFraction); err != nil {
		return nil, err
	}
	if p.codec, err = codec.New(cfg.Stream.CompressionLevel); err != nil {
		return nil, err
	}
	p.handoff = NewHandoff(cfg.Pipeline.HandoffQueueSize, pm)
	p.broadcaster = stream.New(stream.Options{
		QueueSize: cfg.Transport.SubscriberQueueSize,
		TargetFPS: cfg.Stream.TargetFPS,
	}, sm)
	if p.driver, err = NewDriver(p.handoff, p.assembler, p.engine, p.codec, p.broadcaster, p.streamCfg, pm); err != nil {
		return nil, err
	}

	if p.source == nil {
		if p.source, err = SourceFor(cfg.Audio); err != nil {
			return nil, err
		}
	}

	if cfg.Recording.Enabled {
		path := cfg.Recording.OutputFile
		if path == "" {
			path = fmt.Sprintf("capture-%s.wav", time.Now().Format("20060102-150405"))
		}
		if p.recorder, err = audio.NewRecorder(path, cfg.Audio.SampleRate, cfg.Recording.BitDepth); err != nil {
			return nil, fmt.Errorf("start recording: %w", err)
		}
		p.driver.SetTap(p.recorder)
	}
	return p, nil
}

// SourceFor selects the capture source: a WAV file, synthetic tones or the
// PortAudio device, in that order of precedence.
func SourceFor(cfg config.AudioConfig) (audio.Source, error) {
	switch {
	case cfg.InputFile != "":
		return audio.NewFileSource(cfg.InputFile, cfg.Blocksize, cfg.Loop), nil
	case len(cfg.Tones) > 0:
		src, err := audio.NewToneSource(cfg.SampleRate, cfg.Blocksize, audio.TonesAt(cfg.Tones...)...)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return audio.NewDeviceSource(cfg), nil
	}
}

func listHostDevices() ([]audio.Device, error) {
	if err := audio.Initialize(); err != nil {
		return nil, err
	}
	defer audio.Terminate()
	return audio.HostDevices()
}

// Start starts capture. A restart clears the assembler and gate state so no
// window spans the gap.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.source.Stats().IsRunning {
		return nil
	}
	p.handoff.Drain()
	p.driver.Reset()
	if err := p.source.Start(p.handoff); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// Stop stops capture only; the driver idles until capture resumes.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.source.Stop(); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Run drives the pipeline until ctx is done, Close is called or capture
// faults.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.runDone != nil {
		p.mu.Unlock()
		return errors.New("pipeline: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.runDone = cancel, done
	p.mu.Unlock()

	defer close(done)
	defer cancel()
	return p.driver.Run(ctx)
}

// Close stops capture, lets the driver drain the hand-off, then ends every
// subscriber stream and finalizes the recording.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.cancel, p.runDone
	p.mu.Unlock()

	err := p.source.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	p.broadcaster.Close()
	if p.recorder != nil {
		err = errors.Join(err, p.recorder.Close())
	}
	log.Infof("Pipeline: Closed")
	return err
}

// Status summarizes capture and stream state.
func (p *Pipeline) Status() Status {
	as := p.source.Stats()
	ss := p.broadcaster.Stats()
	return Status{
		IsRunning:        as.IsRunning,
		CurrentFPS:       ss.CurrentFPS,
		ConnectedClients: ss.ConnectedClients,
		TotalFramesSent:  ss.TotalFramesSent,
		TotalBytesSent:   ss.TotalBytesSent,
		UptimeSeconds:    ss.UptimeSeconds,
		AudioDeviceName:  as.DeviceName,
		LastError:        as.LastError,
	}
}

// StreamConfig returns the current stream policy.
func (p *Pipeline) StreamConfig() config.StreamConfig { return p.streamCfg.Load() }

// UpdateStreamConfig validates and applies a new stream policy. It takes
// effect from the next captured chunk.
func (p *Pipeline) UpdateStreamConfig(cfg config.StreamConfig) error {
	if err := p.streamCfg.Store(cfg); err != nil {
		return err
	}
	p.applyStream(cfg)
	log.Infof("Pipeline: Stream config updated (FPS: %d, Compression: %d, Significance gate: %t)",
		cfg.TargetFPS, cfg.CompressionLevel, cfg.EnableSignificanceGate)
	return nil
}

// SetFPS changes only the target frame rate.
func (p *Pipeline) SetFPS(fps int) error {
	if err := p.streamCfg.SetFPS(fps); err != nil {
		return err
	}
	p.applyStream(p.streamCfg.Load())
	log.Infof("Pipeline: Target FPS set to %d", fps)
	return nil
}

func (p *Pipeline) applyStream(cfg config.StreamConfig) {
	p.broadcaster.UpdateConfig(cfg)
	if err := p.codec.SetLevel(cfg.CompressionLevel); err != nil {
		log.Warnf("Pipeline: %v", err)
	}
}

// AudioConfig returns the fixed capture configuration.
func (p *Pipeline) AudioConfig() config.AudioConfig { return p.audioCfg }

// DetailedStats gathers every component's counters.
func (p *Pipeline) DetailedStats() DetailedStats {
	ds := DetailedStats{
		Timestamp: float64(time.Now().UnixNano()) / 1e6,
		Audio:     p.source.Stats(),
		Analysis: AnalysisInfo{
			EngineStats:         p.engine.Stats(),
			FFTSize:             p.engine.FFTSize(),
			SampleRate:          p.engine.SampleRate(),
			Window:              p.engine.Window().String(),
			Bins:                len(p.engine.Frequencies()),
			FrequencyResolution: p.engine.FrequencyForBin(1),
			HopSize:             p.assembler.HopSize(),
			OverlapSize:         p.assembler.OverlapSize(),
		},
		Stream: StreamInfo{
			Stats:       p.broadcaster.Stats(),
			Subscribers: p.broadcaster.Subscribers(),
		},
		Bands:   p.driver.LastBands(),
		Driver:  p.driver.Stats(),
		Handoff: p.handoff.Stats(),
	}
	ds.Config.Stream = p.streamCfg.Load()
	ds.Config.Audio = p.audioCfg

	proc, err := observe.ReadProcessStats()
	if err != nil {
		log.Debugf("Pipeline: Process stats incomplete: %v", err)
	}
	ds.Process = proc
	return ds
}

// TestCompression encodes a synthetic spectrum of 4097 values in [-50, 50)
// and reports size and timing.
func (p *Pipeline) TestCompression() (CompressionReport, error) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	data := make([]float64, testCompressionBins)
	for i := range data {
		data[i] = float64(float32(rng.Float64()*100 - 50))
	}

	start := time.Now()
	enc, err := p.codec.Encode(data)
	elapsed := time.Since(start)
	if err != nil {
		return CompressionReport{}, err
	}

	sample := enc.Payload
	if len(sample) > 100 {
		sample = sample[:100] + "..."
	}
	return CompressionReport{
		OriginalSizeBytes:   enc.OriginalSize,
		CompressedSizeBytes: enc.CompressedSize,
		CompressionRatio:    enc.Ratio(),
		CompressionTimeMS:   float64(elapsed.Nanoseconds()) / 1e6,
		DataSample:          sample,
		Timestamp:           float64(time.Now().UnixNano()) / 1e6,
	}, nil
}

// Devices lists host input devices.
func (p *Pipeline) Devices() ([]audio.Device, error) {
	all, err := p.listDevices()
	if err != nil {
		return nil, err
	}
	inputs := make([]audio.Device, 0, len(all))
	for _, d := range all {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return inputs, nil
}

// Subscribe registers a subscriber with the broadcaster.
func (p *Pipeline) Subscribe(name string) (*stream.Subscriber, error) {
	return p.broadcaster.Subscribe(name)
}

// Broadcaster exposes the fan-out for readiness checks.
func (p *Pipeline) Broadcaster() *stream.Broadcaster { return p.broadcaster }

// Ready reports an error unless capture is running and the broadcaster is
// open.
func (p *Pipeline) Ready(context.Context) error {
	if p.broadcaster.Closed() {
		return errors.New("broadcaster closed")
	}
	if st := p.source.Stats(); !st.IsRunning {
		if st.LastError != "" {
			return fmt.Errorf("capture not running: %s", st.LastError)
		}
		return errors.New("capture not running")
	}
	return nil
}
