// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/analysis"
	"github.com/zmk5566/Crowd-Sonic/internal/codec"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/gate"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

// Metrics receives driver and hand-off events. A nil Metrics disables
// reporting.
type Metrics interface {
	ChunkCaptured()
	HandoffDropped()
	Analyzed(d time.Duration)
	Gated(reason string)
	Encoded(ratio float64)
}

type noopMetrics struct{}

func (noopMetrics) ChunkCaptured() {}
func (noopMetrics) HandoffDropped() {}
func (noopMetrics) Analyzed(time.Duration) {}
func (noopMetrics) Gated(string) {}
func (noopMetrics) Encoded(float64) {}

// Tap receives every captured chunk before analysis, e.g. a WAV recorder.
type Tap interface {
	Write(samples []float32) error
}

// DriverStats counts what the driver did with the windows it saw.
type DriverStats struct {
	ChunksProcessed uint64 `json:"chunks_processed"`
	Windows         uint64 `json:"windows"`
	Emitted         uint64 `json:"emitted"`
	RateLimited     uint64 `json:"rate_limited"`
	Redundant       uint64 `json:"redundant"`
	EncodeErrors    uint64 `json:"encode_errors"`
	LastSequenceID  uint64 `json:"last_sequence_id"`
}

// Driver is the single loop that turns captured chunks into broadcast
// frames. It owns the assembler, the engine, gate state and codec use; none
// of them are touched from other goroutines.
type Driver struct {
	handoff     *Handoff
	assembler   *analysis.Assembler
	engine      analysis.SpectrumAnalyzer
	codec       *codec.Codec
	broadcaster *stream.Broadcaster
	streamCfg   *config.StreamStore
	metrics     Metrics

	tapMu sync.Mutex
	tap   Tap

	// Loop state.
	window  []float64
	cur     *analysis.Spectrum
	prev    *analysis.Spectrum // last emitted spectrum
	hasPrev bool
	seq     uint64 // wire sequence, contiguous over emitted frames

	resetReq atomic.Bool

	chunks      atomic.Uint64
	windows     atomic.Uint64
	emitted     atomic.Uint64
	rateLimited atomic.Uint64
	redundant   atomic.Uint64
	encodeErrs  atomic.Uint64
	lastSeq     atomic.Uint64
	bands       atomic.Pointer[[]analysis.BandPower]
}

// NewDriver wires the stages. metrics may be nil.
func NewDriver(h *Handoff, a *analysis.Assembler, e analysis.SpectrumAnalyzer, c *codec.Codec,
	b *stream.Broadcaster, s *config.StreamStore, metrics Metrics) (*Driver, error) {
	if a.FFTSize() != e.FFTSize() {
		return nil, fmt.Errorf("assembler window %d does not match engine fft size %d", a.FFTSize(), e.FFTSize())
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Driver{
		handoff:     h,
		assembler:   a,
		engine:      e,
		codec:       c,
		broadcaster: b,
		streamCfg:   s,
		metrics:     metrics,
		window:      make([]float64, e.FFTSize()),
		cur:         &analysis.Spectrum{},
		prev:        &analysis.Spectrum{},
	}, nil
}

// SetTap installs or removes (nil) the capture tap.
func (d *Driver) SetTap(t Tap) {
	d.tapMu.Lock()
	d.tap = t
	d.tapMu.Unlock()
}

// Reset asks the loop to clear the assembler and gate state before the next
// chunk. Used when capture restarts.
func (d *Driver) Reset() { d.resetReq.Store(true) }

// Run processes chunks until ctx is done or the capture source faults. On
// cancellation it drains the queued chunks and returns nil. On a fault it
// notifies subscribers and returns the fault.
func (d *Driver) Run(ctx context.Context) error {
	log.Infof("Pipeline: Driver started (FFT: %d, Hop: %d)", d.assembler.FFTSize(), d.assembler.HopSize())
	for {
		select {
		case <-ctx.Done():
			d.drain()
			log.Infof("Pipeline: Driver stopped (Emitted: %d)", d.emitted.Load())
			return nil
		case err := <-d.handoff.Faults():
			d.drain()
			log.Errorf("Pipeline: Capture fault: %v", err)
			d.broadcaster.Notify(err.Error())
			return fmt.Errorf("capture fault: %w", err)
		case c := <-d.handoff.Chunks():
			d.process(c.Samples, c.Timestamp, c.SampleRate)
		}
	}
}

func (d *Driver) drain() {
	for {
		select {
		case c := <-d.handoff.Chunks():
			d.process(c.Samples, c.Timestamp, c.SampleRate)
		default:
			return
		}
	}
}

func (d *Driver) process(samples []float32, ts time.Time, sampleRate float64) {
	if d.resetReq.Swap(false) {
		d.assembler.Reset()
		d.hasPrev = false
	}
	d.chunks.Add(1)

	d.tapMu.Lock()
	if d.tap != nil {
		if err := d.tap.Write(samples); err != nil {
			log.Errorf("Pipeline: Recording tap failed, disabling it: %v", err)
			d.tap = nil
		}
	}
	d.tapMu.Unlock()

	cfg := d.streamCfg.Load()
	d.assembler.Write(samples, ts, sampleRate)
	for {
		wts, ok := d.assembler.Next(d.window)
		if !ok {
			return
		}
		d.analyze(analysis.Window{Samples: d.window, Timestamp: wts, SampleRate: sampleRate}, cfg)
	}
}

func (d *Driver) analyze(w analysis.Window, cfg config.StreamConfig) {
	if err := d.engine.AnalyzeInto(d.cur, w); err != nil {
		log.Errorf("Pipeline: Analysis failed: %v", err)
		return
	}
	d.windows.Add(1)
	d.metrics.Analyzed(d.engine.Stats().LastDuration)

	var prev *analysis.Spectrum
	if d.hasPrev {
		prev = d.prev
	}
	v := gate.Evaluate(d.cur, prev, cfg)
	d.metrics.Gated(v.Reason.String())
	switch v.Reason {
	case gate.RateLimited:
		d.rateLimited.Add(1)
		return
	case gate.Redundant:
		d.redundant.Add(1)
		return
	}

	enc, err := d.codec.EncodeLevel(d.cur.MagnitudeDB, cfg.CompressionLevel)
	if err != nil {
		d.encodeErrs.Add(1)
		log.Errorf("Pipeline: Encoding frame failed: %v", err)
		return
	}
	d.metrics.Encoded(enc.Ratio())

	d.seq++
	d.broadcaster.Broadcast(stream.NewFrame(d.seq, d.cur, enc))
	d.emitted.Add(1)
	d.lastSeq.Store(d.seq)
	bands := analysis.Bands(d.cur.Frequencies, d.cur.MagnitudeDB)
	d.bands.Store(&bands)

	d.cur, d.prev = d.prev, d.cur
	d.hasPrev = true
}

// LastBands returns the band decomposition of the most recently emitted
// frame, or nil before the first one.
func (d *Driver) LastBands() []analysis.BandPower {
	if b := d.bands.Load(); b != nil {
		return *b
	}
	return nil
}

// Stats returns the driver counters.
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		ChunksProcessed: d.chunks.Load(),
		Windows:         d.windows.Load(),
		Emitted:         d.emitted.Load(),
		RateLimited:     d.rateLimited.Load(),
		Redundant:       d.redundant.Load(),
		EncodeErrors:    d.encodeErrs.Load(),
		LastSequenceID:  d.lastSeq.Load(),
	}
}
